package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()

	dir := t.TempDir()
	cfg := WatchConfig{
		Include:       []string{"**/*.md", "**/*.txt"},
		Exclude:       []string{"**/skip/**"},
		DebounceDelay: 50 * time.Millisecond,
	}

	w, err := NewWatcher(cfg, dir, nil)
	require.NoError(t, err)
	return w, dir
}

// waitForEvent reads one event or fails after a timeout.
func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) (WatchEvent, bool) {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		return ev, ok
	case <-time.After(timeout):
		return WatchEvent{}, false
	}
}

func TestWatcher_EmitsCreateEvent(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# Hello"), 0644))

	ev, ok := waitForEvent(t, w, 3*time.Second)
	require.True(t, ok, "expected a watch event")
	assert.Equal(t, "doc.md", ev.Path)
	assert.Equal(t, WatchOpCreate, ev.Operation)
}

func TestWatcher_IgnoresNonMatchingFiles(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.exe"), []byte("x"), 0644))

	_, ok := waitForEvent(t, w, 300*time.Millisecond)
	assert.False(t, ok, "non-matching file should not produce an event")
}

func TestWatcher_SkipsUnchangedContent(t *testing.T) {
	w, dir := newTestWatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "same.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable content"), 0644))

	_, ok := waitForEvent(t, w, 3*time.Second)
	require.True(t, ok)

	// Rewrite identical bytes; hash dedup suppresses the event.
	require.NoError(t, os.WriteFile(path, []byte("stable content"), 0644))

	_, ok = waitForEvent(t, w, 300*time.Millisecond)
	assert.False(t, ok, "unchanged content should not produce an event")
}

func TestWatcher_EmitsDeleteEvent(t *testing.T) {
	w, dir := newTestWatcher(t)

	path := filepath.Join(dir, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("# Soon gone"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.Remove(path))

	ev, ok := waitForEvent(t, w, 3*time.Second)
	require.True(t, ok, "expected a delete event")
	assert.Equal(t, WatchOpDelete, ev.Operation)
	assert.Equal(t, "gone.md", ev.Path)
}

func TestWatcherMatches(t *testing.T) {
	w, _ := newTestWatcher(t)

	tests := []struct {
		path string
		want bool
	}{
		{"doc.md", true},
		{"nested/deep/doc.txt", true},
		{"skip/doc.md", false},
		{"nested/skip/inner/doc.md", false},
		{"image.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, w.matches(tt.path))
		})
	}
}
