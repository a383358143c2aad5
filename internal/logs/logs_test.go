package logs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards the writer against the follow goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, Copy(path, &out))
	assert.Equal(t, "line one\nline two\n", out.String())
}

func TestCopy_Missing(t *testing.T) {
	err := Copy(filepath.Join(t.TempDir(), "agent.log"), &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNoLog)
}

func TestFollow_StreamsAppendedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("start\n"), 0o644))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- NewFollower(nil).Follow(ctx, path, &out)
	}()

	waitForOutput(t, &out, "start\n")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("more\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	waitForOutput(t, &out, "more\n")

	cancel()
	require.NoError(t, <-done)
}

func TestFollow_WaitsForFileCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- NewFollower(nil).Follow(ctx, path, &out)
	}()

	// Give the watcher a moment to attach before the file appears.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("late start\n"), 0o644))

	waitForOutput(t, &out, "late start\n")

	cancel()
	require.NoError(t, <-done)
}

func TestFollow_StopsWhenFileRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("content\n"), 0o644))

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- NewFollower(nil).Follow(t.Context(), path, &out)
	}()

	waitForOutput(t, &out, "content\n")
	require.NoError(t, os.Remove(path))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop after file removal")
	}
}

func waitForOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output %q never contained %q", out.String(), want)
}
