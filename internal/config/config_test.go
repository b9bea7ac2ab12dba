package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "refmirror.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, mirror.DefaultThrottle, c.Mirror.Throttle)
	require.Equal(t, mirror.DefaultTagField, c.Mirror.TagField)
	require.Equal(t, log.LevelInfo, c.LogLevel())
}

func TestLoad_FileOverDefaults(t *testing.T) {
	p := writeFile(t, `
log:
  level: debug
mirror:
  throttle: 250ms
server:
  listen_addr: 0.0.0.0:9000
  path: /mirror
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, log.LevelDebug, c.LogLevel())
	require.Equal(t, 250*time.Millisecond, c.Mirror.Throttle)
	require.Equal(t, "0.0.0.0:9000", c.Server.ListenAddr)
	require.Equal(t, "/mirror", c.Server.Path)
	// untouched keys keep their defaults
	require.Equal(t, Default().Server.SendBuffer, c.Server.SendBuffer)
	require.Equal(t, Default().Client.URL, c.Client.URL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "mirror:\n  throttle: 250ms\n")
	t.Setenv("REFMIRROR_MIRROR_THROTTLE", "0s")
	t.Setenv("REFMIRROR_LOG_LEVEL", "warn")
	t.Setenv("REFMIRROR_CLIENT_URL", "ws://example:1/ws")
	t.Setenv("REFMIRROR_METRICS_ENABLED", "false")

	c, err := Load(p)
	require.NoError(t, err)
	require.Zero(t, c.Mirror.Throttle)
	require.Equal(t, log.LevelWarn, c.LogLevel())
	require.Equal(t, "ws://example:1/ws", c.Client.URL)
	require.False(t, c.Metrics.Enabled)
}

func TestLoad_EmptyPathAndEmptyFile(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), c)

	c, err = Load(writeFile(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "mirror:\n  unknown: 1\n"))
	require.ErrorContains(t, err, "decode config")

	t.Setenv("REFMIRROR_SERVER_SEND_BUFFER", "lots")
	_, err = Load("")
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative throttle", func(c *Config) { c.Mirror.Throttle = -time.Second }},
		{"empty tag field", func(c *Config) { c.Mirror.TagField = "" }},
		{"listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"relative path", func(c *Config) { c.Server.Path = "ws" }},
		{"send buffer", func(c *Config) { c.Server.SendBuffer = -1 }},
		{"client buffer", func(c *Config) { c.Client.SendBuffer = -1 }},
		{"metrics path clash", func(c *Config) { c.Metrics.Path = c.Server.Path }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}

	c := Default()
	c.Metrics.Enabled = false
	c.Metrics.Path = ""
	require.NoError(t, c.Validate())

	// zero send buffers mean no cap
	require.Zero(t, Default().Server.SendBuffer)
	require.Zero(t, Default().Client.SendBuffer)
}
