package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/gateway"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - scale-to-zero gateway for a vLLM inference worker",
	Long: `Burrow fronts a single vLLM worker with a micro-batching window,
admission control, a degradation ladder, and a scale-to-zero supervisor
that spawns the worker on demand and stops it after idle.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway HTTP server.

Configuration is resolved from defaults, then an optional YAML config
file, then environment variables (BATCH_WINDOW_MS, VLLM_URL, Q_MAX, ...),
then flags.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().Int("port", 8001, "Gateway listen port")
	serveCmd.Flags().String("upstream-url", "http://localhost:8000", "Worker base URL")
	serveCmd.Flags().Int("batch-window-ms", 0, "Micro-batch window in milliseconds (0 disables batching)")
	serveCmd.Flags().Int("q-max", 128, "Admission bound on pending+in-flight requests")
	serveCmd.Flags().Bool("supervisor", false, "Enable the scale-to-zero supervisor")
	serveCmd.Flags().Float64("idle-timeout-sec", 180, "Worker idle timeout in seconds")
	serveCmd.Flags().Float64("healthcheck-interval-sec", 2, "Healthcheck poll period while starting")
	serveCmd.Flags().Float64("idle-check-interval-sec", 15, "Idle poll period while running")
	serveCmd.Flags().String("healthcheck-type", "http", "Worker readiness probe (http or tcp)")
	serveCmd.Flags().String("worker-binary", "vllm", "Worker executable")
	serveCmd.Flags().String("model", "", "Model name served by the worker")
	serveCmd.Flags().Int("max-num-seqs", 64, "Worker --max-num-seqs")
	serveCmd.Flags().Float64("gpu-memory-utilization", 0.85, "Worker --gpu-memory-utilization")
	serveCmd.Flags().Int("max-num-batched-tokens", 0, "Worker --max-num-batched-tokens (0 omits the flag)")
	serveCmd.Flags().Bool("chunked-prefill", true, "Pass --enable-chunked-prefill to the worker")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sup *supervisor.Supervisor
	var gwSup gateway.WorkerSupervisor
	if cfg.SupervisorEnabled {
		sup = supervisor.New(cfg)
		sup.Start()
		defer sup.Shutdown()
		gwSup = sup
	}

	srv := gateway.New(cfg, gwSup)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway failed: %w", err)
	}
	return nil
}

// resolveConfig layers defaults, config file, environment and flags
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("upstream-url") {
		cfg.UpstreamURL, _ = flags.GetString("upstream-url")
	}
	if flags.Changed("batch-window-ms") {
		cfg.BatchWindowMS, _ = flags.GetInt("batch-window-ms")
	}
	if flags.Changed("q-max") {
		cfg.QMax, _ = flags.GetInt("q-max")
	}
	if flags.Changed("supervisor") {
		cfg.SupervisorEnabled, _ = flags.GetBool("supervisor")
	}
	if flags.Changed("idle-timeout-sec") {
		cfg.IdleTimeoutSec, _ = flags.GetFloat64("idle-timeout-sec")
	}
	if flags.Changed("healthcheck-interval-sec") {
		cfg.HealthcheckIntervalSec, _ = flags.GetFloat64("healthcheck-interval-sec")
	}
	if flags.Changed("idle-check-interval-sec") {
		cfg.IdleCheckIntervalSec, _ = flags.GetFloat64("idle-check-interval-sec")
	}
	if flags.Changed("healthcheck-type") {
		cfg.HealthcheckType, _ = flags.GetString("healthcheck-type")
	}
	if flags.Changed("worker-binary") {
		cfg.Worker.Binary, _ = flags.GetString("worker-binary")
	}
	if flags.Changed("model") {
		cfg.Worker.Model, _ = flags.GetString("model")
	}
	if flags.Changed("max-num-seqs") {
		cfg.Worker.MaxNumSeqs, _ = flags.GetInt("max-num-seqs")
	}
	if flags.Changed("gpu-memory-utilization") {
		cfg.Worker.GPUMemoryUtilization, _ = flags.GetFloat64("gpu-memory-utilization")
	}
	if flags.Changed("max-num-batched-tokens") {
		cfg.Worker.MaxNumBatchedTokens, _ = flags.GetInt("max-num-batched-tokens")
	}
	if flags.Changed("chunked-prefill") {
		cfg.Worker.EnableChunkedPrefill, _ = flags.GetBool("chunked-prefill")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
