package supervisor

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/runtime"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// coldStartTimeout bounds how long a request waits for readiness
	coldStartTimeout = 300 * time.Second

	// readyPollInterval is the fallback poll period inside AwaitReady
	readyPollInterval = time.Second

	// stoppingRecheckDelay is the loop's sleep while another iteration
	// finishes a stop
	stoppingRecheckDelay = time.Second

	// errorRetryDelay is the loop's sleep after an unexpected error
	errorRetryDelay = 5 * time.Second
)

// processController is the slice of the worker-process controller the
// supervisor commands. It never touches the process handle directly.
type processController interface {
	Start()
	Stop()
	IsAlive() bool
	Pid() int
}

// Supervisor drives the worker through idle → starting → running →
// stopping and back, spawning on demand and terminating after the idle
// timeout. All state mutation happens under the supervisor's mutex.
type Supervisor struct {
	proc    processController
	checker health.Checker
	logger  zerolog.Logger

	idleTimeout         time.Duration
	healthcheckInterval time.Duration
	idleCheckInterval   time.Duration

	mu           sync.Mutex
	state        types.WorkerState
	lastRequest  time.Time
	startedAt    time.Time
	stateChanged chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a supervisor for the configured worker. The readiness probe
// targets the worker's models endpoint (or its TCP port, per config).
func New(cfg *config.Config) *Supervisor {
	return newSupervisor(
		runtime.NewWorkerProcess(cfg.Worker),
		buildChecker(cfg),
		cfg.IdleTimeout(),
		cfg.HealthcheckInterval(),
		cfg.IdleCheckInterval(),
	)
}

func newSupervisor(proc processController, checker health.Checker,
	idleTimeout, healthcheckInterval, idleCheckInterval time.Duration) *Supervisor {
	return &Supervisor{
		proc:                proc,
		checker:             checker,
		logger:              log.WithComponent("supervisor"),
		idleTimeout:         idleTimeout,
		healthcheckInterval: healthcheckInterval,
		idleCheckInterval:   idleCheckInterval,
		state:               types.WorkerStateIdle,
		stateChanged:        make(chan struct{}),
		stopCh:              make(chan struct{}),
		doneCh:              make(chan struct{}),
	}
}

func buildChecker(cfg *config.Config) health.Checker {
	if cfg.HealthcheckType == "tcp" {
		addr := cfg.UpstreamURL
		if u, err := url.Parse(cfg.UpstreamURL); err == nil && u.Host != "" {
			addr = u.Host
		}
		return health.NewTCPChecker(addr)
	}
	return health.NewHTTPChecker(cfg.UpstreamURL + "/v1/models")
}

// Start launches the background loop
func (s *Supervisor) Start() {
	go s.run()
}

// Shutdown stops the background loop and terminates the worker, leaving
// the supervisor idle
func (s *Supervisor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.proc.Stop()
	s.mu.Lock()
	s.setStateLocked(types.WorkerStateIdle)
	s.mu.Unlock()
}

// State returns the current worker state
func (s *Supervisor) State() types.WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady returns true iff the worker is running and healthchecked
func (s *Supervisor) IsReady() bool {
	return s.State() == types.WorkerStateRunning
}

// WorkerPid returns the managed process id, or 0
func (s *Supervisor) WorkerPid() int {
	return s.proc.Pid()
}

// RequestActivity records request arrival for the idle timeout. Pure
// bookkeeping; never changes state.
func (s *Supervisor) RequestActivity() {
	s.mu.Lock()
	s.lastRequest = time.Now()
	s.mu.Unlock()
}

// StartIfNeeded spawns the worker when idle. Returns false only while a
// stop is in progress; the caller should tell the client to retry.
func (s *Supervisor) StartIfNeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case types.WorkerStateRunning, types.WorkerStateStarting:
		return true
	case types.WorkerStateStopping:
		return false
	}

	s.setStateLocked(types.WorkerStateStarting)
	s.startedAt = time.Now()
	s.lastRequest = time.Now()
	s.proc.Start()
	metrics.WorkerStartsTotal.Inc()

	s.logger.Info().Int("pid", s.proc.Pid()).Msg("Worker start requested")
	return true
}

// Healthcheck probes the worker once. All probe failures map to false.
func (s *Supervisor) Healthcheck(ctx context.Context) bool {
	result := s.checker.Check(ctx)
	if !result.Healthy {
		s.logger.Debug().Str("message", result.Message).Msg("Healthcheck failed")
	}
	return result.Healthy
}

// AwaitReady blocks until the worker is running, the cold-start budget is
// exhausted, or ctx is done. Returns true when the worker became ready.
func (s *Supervisor) AwaitReady(ctx context.Context) bool {
	deadline := time.NewTimer(coldStartTimeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if s.state == types.WorkerStateRunning {
			s.mu.Unlock()
			return true
		}
		changed := s.stateChanged
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-changed:
		case <-time.After(readyPollInterval):
		}
	}
}

// run is the background loop. It owns every transition except
// IDLE→STARTING, which StartIfNeeded performs under the same mutex.
// The loop exits only on shutdown.
func (s *Supervisor) run() {
	defer close(s.doneCh)
	s.logger.Info().Msg("Supervisor loop started")

	for {
		delay := s.step()
		select {
		case <-s.stopCh:
			s.logger.Info().Msg("Supervisor loop stopped")
			return
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) step() (delay time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("error", r).Msg("Supervisor loop error")
			delay = errorRetryDelay
		}
	}()

	switch s.State() {
	case types.WorkerStateStarting:
		if s.Healthcheck(context.Background()) {
			s.mu.Lock()
			coldStart := time.Since(s.startedAt)
			s.setStateLocked(types.WorkerStateRunning)
			s.mu.Unlock()
			metrics.ColdStartDuration.Observe(coldStart.Seconds())
			s.logger.Info().Dur("cold_start", coldStart).Msg("Worker ready")
		}
		return s.healthcheckInterval

	case types.WorkerStateRunning:
		if !s.proc.IsAlive() {
			s.mu.Lock()
			s.setStateLocked(types.WorkerStateIdle)
			s.mu.Unlock()
			metrics.WorkerStopsTotal.WithLabelValues("died").Inc()
			s.logger.Warn().Msg("Worker died, no automatic restart")
			return 0
		}

		s.mu.Lock()
		last := s.lastRequest
		s.mu.Unlock()

		if !last.IsZero() && time.Since(last) >= s.idleTimeout {
			s.logger.Info().
				Dur("idle", time.Since(last)).
				Dur("idle_timeout", s.idleTimeout).
				Msg("Idle timeout reached, stopping worker")

			s.mu.Lock()
			s.setStateLocked(types.WorkerStateStopping)
			s.mu.Unlock()

			// Stop can block on the process wait; the loop goroutine
			// is the right place for it, off the request path
			s.proc.Stop()
			metrics.WorkerStopsTotal.WithLabelValues("idle_timeout").Inc()

			s.mu.Lock()
			s.setStateLocked(types.WorkerStateIdle)
			s.mu.Unlock()
			return 0
		}
		return s.idleCheckInterval

	case types.WorkerStateStopping:
		// Advanced only by the iteration that initiated the stop
		return stoppingRecheckDelay

	default:
		return s.idleCheckInterval
	}
}

// setStateLocked transitions the state and wakes every AwaitReady waiter.
// Callers hold s.mu.
func (s *Supervisor) setStateLocked(to types.WorkerState) {
	if s.state == to {
		return
	}
	s.logger.Info().
		Str("from", string(s.state)).
		Str("to", string(to)).
		Msg("Worker state transition")
	s.state = to
	close(s.stateChanged)
	s.stateChanged = make(chan struct{})
}
