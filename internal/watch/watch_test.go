package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stimsync/internal/queue"
)

func startWatcher(t *testing.T, path string, q *queue.Settings) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		if err := New(path, q).Run(ctx); err != nil {
			t.Errorf("watcher failed: %v", err)
		}
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
}

func popLatest(q *queue.Settings) map[string]any {
	var last map[string]any
	for {
		v, ok := q.TryPop()
		if !ok {
			return last
		}
		last = v
	}
}

func TestInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exposure: 10\n"), 0644))

	q := queue.NewSettings()
	startWatcher(t, path, q)

	require.Eventually(t, func() bool { return q.Len() > 0 },
		2*time.Second, 10*time.Millisecond, "initial settings were not published")
	got := popLatest(q)
	assert.Equal(t, 10, got["exposure"])
}

func TestEditPublishesNewSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	q := queue.NewSettings()
	startWatcher(t, path, q)

	// File appears after the watcher started.
	require.NoError(t, os.WriteFile(path, []byte("planes: 30\n"), 0644))
	require.Eventually(t, func() bool { return q.Len() > 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 30, popLatest(q)["planes"])

	// And edits keep flowing.
	require.NoError(t, os.WriteFile(path, []byte("planes: 40\n"), 0644))
	require.Eventually(t, func() bool {
		v := popLatest(q)
		return v != nil && v["planes"] == 40
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFileIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	q := queue.NewSettings()
	startWatcher(t, path, q)

	require.NoError(t, os.WriteFile(path, []byte(":\n\t- not yaml"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, q.Len(), "malformed settings must not be published")
}

func TestUnrelatedFilesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	q := queue.NewSettings()
	startWatcher(t, path, q)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, q.Len())
}
