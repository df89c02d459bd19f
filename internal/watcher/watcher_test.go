package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherTriggersOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	select {
	case <-w.Triggers:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a debounced trigger signal")
	}
}

func TestWatcherCoalescesBurstIntoOneTrigger(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v"), 0o644))
		time.Sleep(50 * time.Millisecond)
	}

	select {
	case <-w.Triggers:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a trigger after burst settles")
	}

	select {
	case <-w.Triggers:
		t.Fatalf("expected burst to coalesce into exactly one trigger")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
