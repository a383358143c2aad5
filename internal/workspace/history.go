package workspace

import (
	"fmt"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Commit is one entry of recent history, used as context for agent calls.
type Commit struct {
	Hash    string
	Subject string
	Author  string
	When    time.Time
}

// RecentCommits walks the repository log from HEAD and returns up to limit
// commits, newest first. Read-only, so it goes through go-git instead of
// shelling out.
func (m *Manager) RecentCommits(limit int) ([]Commit, error) {
	if limit <= 0 {
		return nil, nil
	}
	repo, err := git.PlainOpen(m.repoRoot)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", m.repoRoot, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	defer iter.Close()

	commits := make([]Commit, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Subject: firstLine(c.Message),
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		if len(commits) >= limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk commit log: %w", err)
	}
	return commits, nil
}

func firstLine(message string) string {
	for i := 0; i < len(message); i++ {
		if message[i] == '\n' {
			return message[:i]
		}
	}
	return message
}
