package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, cfg Config) *Watcher {
	t.Helper()

	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Close()
	})

	require.NoError(t, w.Start(ctx))
	// Give the kernel a moment to arm the watches.
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWatcher_CountsFileEvents(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Config{Paths: []string{dir}})

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("payload"), 0644))
	}
	time.Sleep(500 * time.Millisecond)

	counts := w.Drain()
	assert.Equal(t, 3, counts.Modified, "each new file counts once despite create+write")
	assert.Zero(t, counts.Renamed)
	assert.Zero(t, counts.Deleted)

	require.NoError(t, os.Rename(filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.txt.encrypted")))
	require.NoError(t, os.Remove(filepath.Join(dir, "b.txt")))
	time.Sleep(500 * time.Millisecond)

	counts = w.Drain()
	assert.Equal(t, 1, counts.Renamed, "the old-path and new-path events fold into one rename")
	assert.Zero(t, counts.Modified, "the create half of a rename must not count as a modification")
	assert.Equal(t, 1, counts.Deleted)
}

func TestWatcher_RenameOutOfTreeCountsAsDelete(t *testing.T) {
	dir := t.TempDir()
	elsewhere := t.TempDir()
	w := startWatcher(t, Config{Paths: []string{dir}})

	src := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	time.Sleep(500 * time.Millisecond)
	w.Drain()

	require.NoError(t, os.Rename(src, filepath.Join(elsewhere, "doomed.txt")))
	// Long enough for the unmatched rename marker to expire.
	time.Sleep(700 * time.Millisecond)

	counts := w.Drain()
	assert.Zero(t, counts.Renamed, "no create followed, so this was not a rename inside the tree")
	assert.Equal(t, 1, counts.Deleted, "a file moved out of the tree is gone")
	assert.Zero(t, counts.Modified)
}

func TestWatcher_ExtendsWatchToNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Config{Paths: []string{dir}})

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(500 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("x"), 0644))
	time.Sleep(500 * time.Millisecond)

	// Only the file counts; the mkdir extends the watch silently.
	assert.Equal(t, 1, w.Drain().Modified)
}

func TestWatcher_ExcludedPrefixIsSilent(t *testing.T) {
	dir := t.TempDir()
	noisy := filepath.Join(dir, "cache")
	require.NoError(t, os.Mkdir(noisy, 0755))

	w := startWatcher(t, Config{Paths: []string{dir}, Exclude: []string{noisy}})

	require.NoError(t, os.WriteFile(filepath.Join(noisy, "junk.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.txt"), []byte("x"), 0644))
	time.Sleep(500 * time.Millisecond)

	counts := w.Drain()
	assert.Equal(t, 1, counts.Modified, "only the non-excluded file should count")
}

func TestWatcher_SkipsMissingRoots(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{Paths: []string{filepath.Join(dir, "absent"), dir}})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, w.Start(ctx), "one live root is enough")
}

func TestWatcher_FailsWhenNoRootUsable(t *testing.T) {
	dir := t.TempDir()

	w, err := New(Config{Paths: []string{filepath.Join(dir, "gone")}})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.Error(t, w.Start(ctx))
}
