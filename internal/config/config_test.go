package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ModeSpy, cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.AdminPort)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vcr-proxy.yaml")
	yaml := `
mode: record
port: 9000
targets:
  /api: http://localhost:3000
proxy_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeRecord, cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "http://localhost:3000", cfg.Targets["/api"])
	assert.Equal(t, "5s", cfg.ProxyTimeout.String())
}

func TestLoad_EnvOverridesTarget(t *testing.T) {
	t.Setenv("VCR_TARGET", "http://localhost:4000")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", cfg.Targets["/"])
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vcr-proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: bogus\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestMode_Valid(t *testing.T) {
	assert.True(t, ModeRecord.Valid())
	assert.True(t, ModeReplay.Valid())
	assert.True(t, ModeSpy.Valid())
	assert.False(t, Mode("bogus").Valid())
}
