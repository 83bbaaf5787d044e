package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration. It is resolved once at
// startup (defaults, then config file, then environment, then flags) and
// never mutated afterwards.
type Config struct {
	// UpstreamURL is the managed worker's base URL (trailing slash stripped)
	UpstreamURL string `yaml:"upstream_url"`

	// Port is the gateway listen port
	Port int `yaml:"port"`

	// BatchWindowMS is the micro-batch window in milliseconds; 0 bypasses
	// the batching queue entirely
	BatchWindowMS int `yaml:"batch_window_ms"`

	// QMax is the admission bound on pending+in-flight requests
	QMax int `yaml:"q_max"`

	// SupervisorEnabled activates the scale-to-zero state machine
	SupervisorEnabled bool `yaml:"supervisor_enabled"`

	// IdleTimeoutSec is the inactivity interval before the worker is stopped
	IdleTimeoutSec float64 `yaml:"idle_timeout_sec"`

	// HealthcheckIntervalSec is the poll period while the worker is starting
	HealthcheckIntervalSec float64 `yaml:"healthcheck_interval_sec"`

	// IdleCheckIntervalSec is the poll period while the worker is running or idle
	IdleCheckIntervalSec float64 `yaml:"idle_check_interval_sec"`

	// HealthcheckType selects the readiness probe: "http" (GET /v1/models)
	// or "tcp" (connect to the worker port)
	HealthcheckType string `yaml:"healthcheck_type"`

	// Worker configures the spawned vLLM subprocess
	Worker WorkerConfig `yaml:"worker"`

	// LogLevel is the zerolog level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output from console to JSON format
	LogJSON bool `yaml:"log_json"`
}

// WorkerConfig holds the spawn parameters for the vLLM worker subprocess
type WorkerConfig struct {
	Binary               string  `yaml:"binary"`
	Model                string  `yaml:"model"`
	Host                 string  `yaml:"host"`
	Port                 int     `yaml:"port"`
	MaxNumSeqs           int     `yaml:"max_num_seqs"`
	GPUMemoryUtilization float64 `yaml:"gpu_memory_utilization"`
	MaxNumBatchedTokens  int     `yaml:"max_num_batched_tokens"`
	EnableChunkedPrefill bool    `yaml:"enable_chunked_prefill"`
}

// Default returns the configuration with all defaults applied
func Default() *Config {
	return &Config{
		UpstreamURL:            "http://localhost:8000",
		Port:                   8001,
		BatchWindowMS:          0,
		QMax:                   128,
		SupervisorEnabled:      false,
		IdleTimeoutSec:         180,
		HealthcheckIntervalSec: 2,
		IdleCheckIntervalSec:   15,
		HealthcheckType:        "http",
		LogLevel:               "info",
		Worker: WorkerConfig{
			Binary:               "vllm",
			Model:                "Qwen/Qwen2.5-0.5B-Instruct",
			Host:                 "0.0.0.0",
			Port:                 8000,
			MaxNumSeqs:           64,
			GPUMemoryUtilization: 0.85,
			EnableChunkedPrefill: true,
		},
	}
}

// LoadFile merges a YAML config file over the current values
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv merges environment variables over the current values. The
// variable names match the original shell tooling around the worker.
func (c *Config) ApplyEnv() {
	envString(&c.UpstreamURL, "VLLM_URL")
	envInt(&c.Port, "GATEWAY_PORT")
	envInt(&c.BatchWindowMS, "BATCH_WINDOW_MS")
	envInt(&c.QMax, "Q_MAX")
	envBool(&c.SupervisorEnabled, "SUPERVISOR_ENABLED")
	envFloat(&c.IdleTimeoutSec, "IDLE_TIMEOUT_SEC")
	envFloat(&c.HealthcheckIntervalSec, "HEALTHCHECK_INTERVAL_SEC")
	envFloat(&c.IdleCheckIntervalSec, "IDLE_CHECK_INTERVAL_SEC")

	envString(&c.Worker.Model, "VLLM_MODEL")
	envString(&c.Worker.Host, "VLLM_HOST")
	envInt(&c.Worker.Port, "VLLM_PORT")
	envInt(&c.Worker.MaxNumSeqs, "VLLM_MAX_NUM_SEQS")
	envFloat(&c.Worker.GPUMemoryUtilization, "VLLM_GPU_MEMORY_UTILIZATION")
	envInt(&c.Worker.MaxNumBatchedTokens, "VLLM_MAX_NUM_BATCHED_TOKENS")
	envBool(&c.Worker.EnableChunkedPrefill, "VLLM_ENABLE_CHUNKED_PREFILL")
}

// Validate checks invariants and normalizes the upstream URL
func (c *Config) Validate() error {
	c.UpstreamURL = strings.TrimRight(c.UpstreamURL, "/")

	if c.UpstreamURL == "" {
		return fmt.Errorf("upstream URL must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Port)
	}
	if c.BatchWindowMS < 0 {
		return fmt.Errorf("batch window must be >= 0, got %d", c.BatchWindowMS)
	}
	if c.QMax <= 0 {
		return fmt.Errorf("Q_MAX must be positive, got %d", c.QMax)
	}
	if c.HealthcheckType != "http" && c.HealthcheckType != "tcp" {
		return fmt.Errorf("unsupported healthcheck type %q", c.HealthcheckType)
	}
	return nil
}

// BatchWindow returns the batch window as a duration
func (c *Config) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMS) * time.Millisecond
}

// IdleTimeout returns the idle timeout as a duration
func (c *Config) IdleTimeout() time.Duration {
	return secondsToDuration(c.IdleTimeoutSec)
}

// HealthcheckInterval returns the healthcheck poll period as a duration
func (c *Config) HealthcheckInterval() time.Duration {
	return secondsToDuration(c.HealthcheckIntervalSec)
}

// IdleCheckInterval returns the idle-check poll period as a duration
func (c *Config) IdleCheckInterval() time.Duration {
	return secondsToDuration(c.IdleCheckIntervalSec)
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			*dst = true
		case "false", "0", "no":
			*dst = false
		}
	}
}
