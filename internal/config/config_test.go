package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTOMLOverlaysDefaults(t *testing.T) {
	path := write(t, "ecsrt.toml", `
[engine]
frame_rate = 20
max_frames = 100

[scheduler]
detached_interval = "5ms"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.FrameRate)
	assert.EqualValues(t, 100, cfg.Engine.MaxFrames)
	assert.Equal(t, 5*time.Millisecond, cfg.Scheduler.DetachedInterval)
	assert.True(t, cfg.Scheduler.LockOSThread, "untouched keys keep their defaults")
	assert.Equal(t, 64, cfg.Storage.InitialCapacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.FrameInterval())
}

func TestLoadYAML(t *testing.T) {
	path := write(t, "ecsrt.yaml", `
engine:
  debug: true
storage:
  initial_capacity: 1024
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Engine.Debug)
	assert.Equal(t, 1024, cfg.Storage.InitialCapacity)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 60, cfg.Engine.FrameRate)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	path := write(t, "bad.toml", `
[engine]
frame_rate = 0
[storage]
initial_capacity = -1
[logging]
level = "loud"
format = "xml"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameRate)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Len(t, multierr.Errors(Default().Validate()), 0)

	cfg := Default()
	cfg.Engine.FrameRate = -1
	cfg.Logging.Level = "loud"
	assert.Len(t, multierr.Errors(cfg.Validate()), 2)
}

func TestResolve(t *testing.T) {
	t.Setenv(EnvPath, "/etc/ecsrt.toml")
	assert.Equal(t, "flag.toml", Resolve("flag.toml"))
	assert.Equal(t, "/etc/ecsrt.toml", Resolve(""))

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
