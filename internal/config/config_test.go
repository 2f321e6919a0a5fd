package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cabintrainer/internal/core/observability/log"
)

func TestDefaults(t *testing.T) {
	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.Sim.FixedStep)
	assert.Equal(t, 5, cfg.Sim.MaxSubsteps)
	assert.Equal(t, time.Second/72, cfg.Sim.Frame)
	assert.Empty(t, cfg.Telemetry.Addr)
	assert.Empty(t, cfg.Store.Path)

	opts := cfg.Sim.Systems()
	assert.InDelta(t, 0.02, opts.FixedStep, 1e-12)
	assert.InDelta(t, 1.0/72, cfg.Sim.Scenario().Frame, 1e-9)
	assert.Equal(t, log.LevelInfo, cfg.Log.Options().Level)
}

func TestFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trainer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sim:\n  fixed_step: 10ms\nstore:\n  path: progress.db\n"), 0o600))
	t.Setenv("CABINTRAINER_LOG_LEVEL", "debug")
	t.Setenv("CABINTRAINER_TELEMETRY_ADDR", ":9090")

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.Sim.FixedStep)
	assert.Equal(t, "progress.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Telemetry.Addr)
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Log.Encoding = "xml"
	cfg.Sim.FixedStep = 0
	cfg.Sim.MaxSubsteps = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"log.level", "log.encoding", "sim.fixed_step", "sim.max_substeps"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
