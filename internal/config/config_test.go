package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "reqgate_", cfg.Sqlite.Prefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0, cfg.Intercept.ListenerWaitMS)
	assert.Equal(t, 256, cfg.Intercept.EventCapacity)
	assert.Equal(t, "127.0.0.1:8080", cfg.Proxy.Listen)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
intercept:
  listenerWaitMS: 1500
proxy:
  listen: 0.0.0.0:9000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 1500, cfg.Intercept.ListenerWaitMS)
	assert.Equal(t, "0.0.0.0:9000", cfg.Proxy.Listen)
	// 未覆盖的字段保留默认值
	assert.Equal(t, "reqgate_", cfg.Sqlite.Prefix)
	assert.Equal(t, 256, cfg.Intercept.EventCapacity)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}
