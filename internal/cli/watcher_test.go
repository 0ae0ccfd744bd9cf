package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	changes := make(chan string, 10)
	w, err := newConfigWatcher(path, 50*time.Millisecond, func(p string) {
		changes <- p
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer func() { _ = w.Stop() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
	}

	select {
	case got := <-changes:
		assert.Equal(t, w.path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case <-changes:
		t.Fatal("expected burst to be coalesced into one notification")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))

	changes := make(chan string, 1)
	w, err := newConfigWatcher(path, 10*time.Millisecond, func(p string) {
		changes <- p
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))

	select {
	case <-changes:
		t.Fatal("unexpected notification for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
