package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/refmirror/internal/core/mirror"
)

func TestRun_ServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "refmirror.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
log:
  level: silent
mirror:
  tag_field: _server_key
server:
  listen_addr: 127.0.0.1:0
`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfgPath, filepath.Join(dir, "missing.env")) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}

	// the server leaves the process-wide tag field alone
	require.Equal(t, mirror.DefaultTagField, mirror.TagField())
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "refmirror.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  path: nope\n"), 0o600))

	err := run(context.Background(), cfgPath, "")
	require.Error(t, err)
}
