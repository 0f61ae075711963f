package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Hosts.Process.Enabled)
	assert.True(t, cfg.Hosts.Worker.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Hosts.StartTimeout)
	assert.Equal(t, 5*time.Second, cfg.Participants.Timeout)
}

func TestApply_OverlaysPresentKeys(t *testing.T) {
	cfg := Default()
	err := cfg.Apply([]byte(`{
		"extensions": {"paths": ["/a", "/b"], "cachePath": "/tmp/cache.cbor"},
		"hosts": {
			"process": {"command": "/usr/bin/exthost", "args": []},
			"worker": {"enabled": false},
			"startTimeout": "10s"
		},
		"participants": {"timeout": 1500},
		"logging": {"level": "debug", "json": true}
	}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"/a", "/b"}, cfg.Extensions.Paths)
	assert.Equal(t, "/tmp/cache.cbor", cfg.Extensions.CachePath)
	assert.Equal(t, "/usr/bin/exthost", cfg.Hosts.Process.Command)
	assert.Empty(t, cfg.Hosts.Process.Args)
	assert.True(t, cfg.Hosts.Process.Enabled)
	assert.False(t, cfg.Hosts.Worker.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Hosts.StartTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Participants.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Lua.ExecutionTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestApply_Errors(t *testing.T) {
	assert.Error(t, Default().Apply([]byte(`{not json`)))
	assert.Error(t, Default().Apply([]byte(`{"hosts": {"startTimeout": "soon"}}`)))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EXTHOST_EXTENSIONS_PATH":     "/x" + string(os.PathListSeparator) + " /y ",
		"EXTHOST_WORKER_HOST":         "false",
		"EXTHOST_PARTICIPANT_TIMEOUT": "250ms",
		"EXTHOST_LOG_LEVEL":           "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, []string{"/x", "/y"}, cfg.Extensions.Paths)
	assert.False(t, cfg.Hosts.Worker.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Participants.Timeout)
	assert.Equal(t, "warn", cfg.Logging.Level)

	env["EXTHOST_PROCESS_HOST"] = "maybe"
	err := Default().ApplyEnv(lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXTHOST_PROCESS_HOST")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Hosts.Process.Command = ""
	cfg.Hosts.StartTimeout = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "hosts.process.command")
	assert.Contains(t, err.Error(), "hosts.startTimeout")
	assert.Contains(t, err.Error(), "logging.level")

	cfg = Default()
	cfg.Hosts.Process.Enabled = false
	cfg.Hosts.Process.Command = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	path := filepath.Join(t.TempDir(), "exthost.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lua": {"executionTimeout": "2s"}}`), 0o644))
	t.Setenv("EXTHOST_LOG_LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Lua.ExecutionTimeout)
	assert.Equal(t, "error", cfg.Logging.Level)

	require.NoError(t, os.WriteFile(path, []byte(`[1,`), 0o644))
	_, err = Load(path)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}
