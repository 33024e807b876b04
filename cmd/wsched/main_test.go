package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["demo"])
}

func TestDemoSmallWorkload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := runDemo(ctx, demoOptions{
		tasks:     8,
		batch:     4,
		taskTime:  5 * time.Millisecond,
		pause:     5 * time.Millisecond,
		threshold: 1,
		workers:   3,
		routing:   "current",
		level:     "error",
	})
	require.NoError(t, err)
}

func TestDemoRejectsUnknownRouting(t *testing.T) {
	err := runDemo(context.Background(), demoOptions{routing: "random", level: "error"})
	require.Error(t, err)
}

func TestRunStopsWithParentContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runService(ctx, path, 5*time.Second) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunMissingConfig(t *testing.T) {
	err := runService(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), time.Second)
	require.Error(t, err)
}
