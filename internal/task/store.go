package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
)

const (
	// StateDirName is the project-local directory holding all rover state.
	StateDirName = ".rover"

	tasksDirName     = "tasks"
	recordFileName   = "task.json"
	iterationsDir    = "iterations"
	iterationFile    = "iteration.json"
	logsDirName      = "logs"
	agentLogFileName = "agent.log"
	counterFileName  = "task-counter"

	dirMode  = 0o755
	fileMode = 0o644
)

// Store owns the task directory tree under <project>/.rover and is the only
// writer of task records. Everything is partitioned by task id; the one
// genuinely shared resource is the id counter, which is incremented under an
// exclusive flock.
type Store struct {
	root   string
	logger *logging.Logger
}

// NewStore creates a store rooted at the project directory.
func NewStore(projectRoot string, logger *logging.Logger) (*Store, error) {
	if projectRoot == "" {
		return nil, errors.New("project root is required")
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %s: %w", projectRoot, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		root:   filepath.Join(abs, StateDirName),
		logger: logger.Named("store"),
	}, nil
}

// Root returns the .rover state directory path.
func (s *Store) Root() string {
	return s.root
}

// TaskDir returns the directory holding one task's record and iterations.
func (s *Store) TaskDir(id int) string {
	return filepath.Join(s.root, tasksDirName, strconv.Itoa(id))
}

// IterationDir returns the directory for one attempt of a task.
func (s *Store) IterationDir(id, number int) string {
	return filepath.Join(s.TaskDir(id), iterationsDir, strconv.Itoa(number))
}

// LogPath returns the agent log file for one attempt of a task.
func (s *Store) LogPath(id, number int) string {
	return filepath.Join(s.IterationDir(id, number), logsDirName, agentLogFileName)
}

func (s *Store) recordPath(id int) string {
	return filepath.Join(s.TaskDir(id), recordFileName)
}

// NextID allocates the next task id. The counter file is read, incremented,
// and rewritten under an exclusive flock so concurrent creates cannot claim
// the same id.
func (s *Store) NextID() (int, error) {
	if err := os.MkdirAll(s.root, dirMode); err != nil {
		return 0, fmt.Errorf("create state directory %s: %w", s.root, err)
	}
	counterPath := filepath.Join(s.root, counterFileName)
	f, err := os.OpenFile(counterPath, os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return 0, fmt.Errorf("open task counter %s: %w", counterPath, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return 0, fmt.Errorf("lock task counter %s: %w", counterPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()

	data, err := os.ReadFile(counterPath)
	if err != nil {
		return 0, fmt.Errorf("read task counter %s: %w", counterPath, err)
	}
	current := 0
	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		current, err = strconv.Atoi(trimmed)
		if err != nil {
			return 0, fmt.Errorf("parse task counter %s: %w", counterPath, err)
		}
	}
	next := current + 1

	if err := f.Truncate(0); err != nil {
		return 0, fmt.Errorf("truncate task counter: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("seek task counter: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", next); err != nil {
		return 0, fmt.Errorf("write task counter: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync task counter: %w", err)
	}
	return next, nil
}

// Create persists a brand-new task record. Fails with ErrDuplicate when the
// id's directory already exists.
func (s *Store) Create(record *Record) error {
	if record == nil {
		return errors.New("record is required")
	}
	dir := s.TaskDir(record.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: id %d", ErrDuplicate, record.ID)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat task directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create task directory %s: %w", dir, err)
	}
	return s.Save(record)
}

// Save writes the whole record to disk. The write goes through a temp file
// and rename so readers never observe a torn record.
func (s *Store) Save(record *Record) error {
	if record == nil {
		return errors.New("record is required")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	record.Version = RecordVersion
	return writeJSONAtomic(s.recordPath(record.ID), record)
}

// Load reads and validates one task record, migrating older schema versions
// in memory. A missing record is ErrNotFound; a record that cannot be
// coerced onto the current schema is ErrValidation. The store never
// auto-repairs on disk.
func (s *Store) Load(id int) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read task record %d: %w", id, err)
	}
	record, err := migrateRecord(data)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	return record, nil
}

// List returns all loadable task records sorted by id. Records that fail
// validation are skipped with a warning so one corrupt record does not hide
// the rest; Load on the broken id still reports the full error.
func (s *Store) List() ([]*Record, error) {
	tasksDir := filepath.Join(s.root, tasksDirName)
	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks directory %s: %w", tasksDir, err)
	}
	var records []*Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		record, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unloadable task record",
				zap.Int("task_id", id),
				zap.Error(err),
			)
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Delete removes the task's entire directory tree, record and iterations
// included. The directory is renamed aside first so a partially deleted
// task can never be loaded again.
func (s *Store) Delete(id int) error {
	dir := s.TaskDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return fmt.Errorf("stat task directory %s: %w", dir, err)
	}
	trash := dir + ".deleting"
	_ = os.RemoveAll(trash)
	if err := os.Rename(dir, trash); err != nil {
		return fmt.Errorf("remove task directory %s: %w", dir, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return fmt.Errorf("remove task directory %s: %w", trash, err)
	}
	return nil
}

// SaveIteration persists one attempt record under the task directory.
func (s *Store) SaveIteration(id int, it *Iteration) error {
	if it == nil {
		return errors.New("iteration is required")
	}
	dir := s.IterationDir(id, it.Number)
	if err := os.MkdirAll(filepath.Join(dir, logsDirName), dirMode); err != nil {
		return fmt.Errorf("create iteration directory %s: %w", dir, err)
	}
	return writeJSONAtomic(filepath.Join(dir, iterationFile), it)
}

// LoadIterations returns all attempt records for a task in ascending order.
func (s *Store) LoadIterations(id int) ([]*Iteration, error) {
	dir := filepath.Join(s.TaskDir(id), iterationsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read iterations directory %s: %w", dir, err)
	}
	var iterations []*Iteration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name(), iterationFile))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read iteration %s: %w", entry.Name(), err)
		}
		var it Iteration
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, fmt.Errorf("decode iteration %s: %w", entry.Name(), err)
		}
		iterations = append(iterations, &it)
	}
	sort.Slice(iterations, func(i, j int) bool { return iterations[i].Number < iterations[j].Number })
	return iterations, nil
}

// IterationSummaries collects the non-empty summaries of all attempts,
// oldest first. Used as commit-message context during merge.
func (s *Store) IterationSummaries(id int) ([]string, error) {
	iterations, err := s.LoadIterations(id)
	if err != nil {
		return nil, err
	}
	var summaries []string
	for _, it := range iterations {
		if it.Summary != "" {
			summaries = append(summaries, it.Summary)
		}
	}
	return summaries, nil
}

// RemoveIterations deletes the task's iterations tree. Stopping a task
// discards this scratch execution state; summaries needed later must be
// collected before calling this.
func (s *Store) RemoveIterations(id int) error {
	dir := filepath.Join(s.TaskDir(id), iterationsDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove iterations directory %s: %w", dir, err)
	}
	return nil
}

// writeJSONAtomic writes v as indented JSON via temp file + rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
