// Package logs gives read and follow access to the agent output captured
// per iteration. Following is a pure viewer: cancellation detaches without
// touching task state.
package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
)

// ErrNoLog indicates the iteration has no log file yet.
var ErrNoLog = errors.New("no log available for this iteration")

// Copy writes the full current contents of the log at path to w.
func Copy(path string, w io.Writer) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoLog
	}
	if err != nil {
		return fmt.Errorf("open log %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read log %s: %w", path, err)
	}
	return nil
}

// Follower tails a log file as it grows.
type Follower struct {
	logger *logging.Logger
}

// NewFollower builds a Follower.
func NewFollower(logger *logging.Logger) *Follower {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Follower{logger: logger.Named("logs")}
}

// Follow copies the log's current contents to w, then streams appended
// data until ctx is canceled or the file is removed. A missing file is
// waited for, so following can start before the agent writes anything.
func (f *Follower) Follow(ctx context.Context, path string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the file may not exist yet, and create events
	// only fire on the parent.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var file *os.File
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	drain := func() error {
		if file == nil {
			opened, err := os.Open(path)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("open log %s: %w", path, err)
			}
			file = opened
		}
		if _, err := io.Copy(w, file); err != nil {
			return fmt.Errorf("read log %s: %w", path, err)
		}
		return nil
	}

	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			// Detach; the agent keeps running.
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				f.logger.Debug("followed log removed", zap.String("path", path))
				return nil
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				if err := drain(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log %s: %w", path, err)
		}
	}
}
