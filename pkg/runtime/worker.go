package runtime

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
)

const (
	// gracefulStopTimeout is how long Stop waits after SIGTERM
	gracefulStopTimeout = 30 * time.Second

	// killStopTimeout is how long Stop waits after SIGKILL
	killStopTimeout = 10 * time.Second
)

// WorkerProcess spawns and terminates the vLLM worker subprocess. It holds
// the only handle to the process; restart policy belongs to the supervisor.
type WorkerProcess struct {
	cfg    config.WorkerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	waitDone chan struct{}
}

// NewWorkerProcess creates a controller for the configured worker command
func NewWorkerProcess(cfg config.WorkerConfig) *WorkerProcess {
	return &WorkerProcess{
		cfg:    cfg,
		logger: log.WithComponent("worker-process"),
	}
}

// Start spawns the worker subprocess. Idempotent: no-op while a live
// process exists. A failed spawn is logged and leaves no handle; callers
// observe it via IsAlive returning false.
func (p *WorkerProcess) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.aliveLocked() {
		return
	}

	name, args := buildCommand(p.cfg)
	cmd := exec.Command(name, args...)
	cmd.Env = workerEnv(p.cfg)

	// Worker stdout is noise; stderr is kept for diagnostics
	cmd.Stdout = nil
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to create stderr pipe")
		return
	}

	if err := cmd.Start(); err != nil {
		p.logger.Error().Err(err).Str("binary", name).Msg("Failed to spawn worker process")
		return
	}

	p.cmd = cmd
	p.waitDone = make(chan struct{})

	p.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("model", p.cfg.Model).
		Str("command", name+" "+strings.Join(args, " ")).
		Msg("Worker process spawned")

	go p.drainStderr(stderr)

	// Reap the child so IsAlive flips promptly on exit
	waitDone := p.waitDone
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()
}

// Stop terminates the worker: SIGTERM with a 30-second grace period, then
// SIGKILL with a further 10-second wait. Idempotent and never fails.
func (p *WorkerProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return
	}

	pid := p.cmd.Process.Pid
	waitDone := p.waitDone

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Debug().Err(err).Int("pid", pid).Msg("SIGTERM failed, process may already be gone")
	}

	select {
	case <-waitDone:
	case <-time.After(gracefulStopTimeout):
		p.logger.Warn().Int("pid", pid).Msg("Worker did not stop gracefully, sending SIGKILL")
		_ = p.cmd.Process.Kill()
		select {
		case <-waitDone:
		case <-time.After(killStopTimeout):
			p.logger.Error().Int("pid", pid).Msg("Worker did not exit after SIGKILL")
		}
	}

	p.cmd = nil
	p.waitDone = nil
	p.logger.Info().Int("pid", pid).Msg("Worker process stopped")
}

// IsAlive returns true iff a handle exists and the process has not exited
func (p *WorkerProcess) IsAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aliveLocked()
}

// Pid returns the worker process identifier, or 0 when no process exists
func (p *WorkerProcess) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *WorkerProcess) aliveLocked() bool {
	if p.cmd == nil {
		return false
	}
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

func (p *WorkerProcess) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// buildCommand assembles the vllm serve argument vector from configuration.
// --max-model-len is pinned to 512 to match the tuned worker profile.
func buildCommand(cfg config.WorkerConfig) (string, []string) {
	args := []string{
		"serve", cfg.Model,
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--max-model-len", "512",
		"--max-num-seqs", strconv.Itoa(cfg.MaxNumSeqs),
		"--gpu-memory-utilization", strconv.FormatFloat(cfg.GPUMemoryUtilization, 'f', -1, 64),
	}
	if cfg.MaxNumBatchedTokens > 0 {
		args = append(args, "--max-num-batched-tokens", strconv.Itoa(cfg.MaxNumBatchedTokens))
	}
	if cfg.EnableChunkedPrefill {
		args = append(args, "--enable-chunked-prefill")
	}
	return cfg.Binary, args
}

// workerEnv passes the ambient environment through, defaulting VLLM_MODEL
// when unset so worker-side tooling sees the model name
func workerEnv(cfg config.WorkerConfig) []string {
	env := os.Environ()
	if os.Getenv("VLLM_MODEL") == "" {
		env = append(env, "VLLM_MODEL="+cfg.Model)
	}
	return env
}
