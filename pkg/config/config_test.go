package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:8000", cfg.UpstreamURL)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 0, cfg.BatchWindowMS)
	assert.Equal(t, 128, cfg.QMax)
	assert.False(t, cfg.SupervisorEnabled)
	assert.Equal(t, float64(180), cfg.IdleTimeoutSec)
	assert.Equal(t, float64(2), cfg.HealthcheckIntervalSec)
	assert.Equal(t, float64(15), cfg.IdleCheckIntervalSec)
	assert.Equal(t, "http", cfg.HealthcheckType)
	assert.Equal(t, "Qwen/Qwen2.5-0.5B-Instruct", cfg.Worker.Model)
	assert.Equal(t, 64, cfg.Worker.MaxNumSeqs)
	assert.Equal(t, 0.85, cfg.Worker.GPUMemoryUtilization)
	assert.True(t, cfg.Worker.EnableChunkedPrefill)

	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BATCH_WINDOW_MS", "20")
	t.Setenv("VLLM_URL", "http://worker:9000")
	t.Setenv("GATEWAY_PORT", "9001")
	t.Setenv("Q_MAX", "64")
	t.Setenv("SUPERVISOR_ENABLED", "true")
	t.Setenv("IDLE_TIMEOUT_SEC", "2.5")
	t.Setenv("VLLM_MODEL", "other-model")
	t.Setenv("VLLM_ENABLE_CHUNKED_PREFILL", "false")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 20, cfg.BatchWindowMS)
	assert.Equal(t, "http://worker:9000", cfg.UpstreamURL)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, 64, cfg.QMax)
	assert.True(t, cfg.SupervisorEnabled)
	assert.Equal(t, 2.5, cfg.IdleTimeoutSec)
	assert.Equal(t, "other-model", cfg.Worker.Model)
	assert.False(t, cfg.Worker.EnableChunkedPrefill)
}

func TestApplyEnvIgnoresUnsetAndInvalid(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-number")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, 8001, cfg.Port, "invalid values leave the default in place")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	content := `
upstream_url: http://gpu-box:8000
batch_window_ms: 50
q_max: 32
supervisor_enabled: true
worker:
  model: file-model
  max_num_seqs: 16
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "http://gpu-box:8000", cfg.UpstreamURL)
	assert.Equal(t, 50, cfg.BatchWindowMS)
	assert.Equal(t, 32, cfg.QMax)
	assert.True(t, cfg.SupervisorEnabled)
	assert.Equal(t, "file-model", cfg.Worker.Model)
	assert.Equal(t, 16, cfg.Worker.MaxNumSeqs)
	// Untouched fields keep their defaults
	assert.Equal(t, 8001, cfg.Port)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile("/nonexistent/burrow.yaml"))
}

func TestValidateStripsTrailingSlash(t *testing.T) {
	cfg := Default()
	cfg.UpstreamURL = "http://localhost:8000/"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8000", cfg.UpstreamURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty upstream", func(c *Config) { c.UpstreamURL = "" }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"negative window", func(c *Config) { c.BatchWindowMS = -1 }},
		{"zero q_max", func(c *Config) { c.QMax = 0 }},
		{"bad healthcheck type", func(c *Config) { c.HealthcheckType = "icmp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.BatchWindowMS = 20
	cfg.IdleTimeoutSec = 2.5

	assert.Equal(t, 20*time.Millisecond, cfg.BatchWindow())
	assert.Equal(t, 2500*time.Millisecond, cfg.IdleTimeout())
	assert.Equal(t, 2*time.Second, cfg.HealthcheckInterval())
	assert.Equal(t, 15*time.Second, cfg.IdleCheckInterval())
}
