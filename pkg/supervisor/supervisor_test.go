package supervisor

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeProc is an in-memory stand-in for the worker process controller
type fakeProc struct {
	mu      sync.Mutex
	alive   bool
	starts  int
	stops   int
	stopDur time.Duration
}

func (f *fakeProc) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.alive = true
}

func (f *fakeProc) Stop() {
	if f.stopDur > 0 {
		time.Sleep(f.stopDur)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.alive = false
}

func (f *fakeProc) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeProc) Pid() int {
	if f.IsAlive() {
		return 4242
	}
	return 0
}

func (f *fakeProc) kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

// fakeChecker reports healthy once its switch is flipped
type fakeChecker struct {
	mu      sync.Mutex
	healthy bool
}

func (f *fakeChecker) Check(ctx context.Context) health.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return health.Result{Healthy: f.healthy, CheckedAt: time.Now()}
}

func (f *fakeChecker) Type() health.CheckType { return health.CheckTypeHTTP }

func (f *fakeChecker) set(healthy bool) {
	f.mu.Lock()
	f.healthy = healthy
	f.mu.Unlock()
}

func newTestSupervisor(proc *fakeProc, checker *fakeChecker, idleTimeout time.Duration) *Supervisor {
	return newSupervisor(proc, checker, idleTimeout, 10*time.Millisecond, 10*time.Millisecond)
}

func TestInitialStateIsIdle(t *testing.T) {
	s := newTestSupervisor(&fakeProc{}, &fakeChecker{}, time.Hour)
	assert.Equal(t, types.WorkerStateIdle, s.State())
	assert.False(t, s.IsReady())
}

func TestColdStartSequence(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{}
	s := newTestSupervisor(proc, checker, time.Hour)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())
	assert.Equal(t, types.WorkerStateStarting, s.State())
	assert.Equal(t, 1, proc.starts)

	// Not ready until the healthcheck passes
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, types.WorkerStateStarting, s.State())

	checker.set(true)
	assert.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)
	assert.Equal(t, types.WorkerStateRunning, s.State())
}

func TestStartIfNeededIsIdempotentWhileStartingAndRunning(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{healthy: true}
	s := newTestSupervisor(proc, checker, time.Hour)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())
	require.True(t, s.StartIfNeeded())
	assert.Equal(t, 1, proc.starts, "only the IDLE transition spawns")

	assert.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)
	require.True(t, s.StartIfNeeded())
	assert.Equal(t, 1, proc.starts)
}

func TestStartIfNeededRefusedWhileStopping(t *testing.T) {
	s := newTestSupervisor(&fakeProc{}, &fakeChecker{}, time.Hour)

	s.mu.Lock()
	s.setStateLocked(types.WorkerStateStopping)
	s.mu.Unlock()

	assert.False(t, s.StartIfNeeded())
	assert.Equal(t, types.WorkerStateStopping, s.State())
}

func TestIdleTimeoutStopsWorker(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{healthy: true}
	s := newTestSupervisor(proc, checker, 50*time.Millisecond)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())
	require.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)

	// No activity: the loop must stop the worker and settle at IDLE
	assert.Eventually(t, func() bool {
		return s.State() == types.WorkerStateIdle && !proc.IsAlive()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, proc.stops)
}

func TestActivityDefersIdleTimeout(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{healthy: true}
	s := newTestSupervisor(proc, checker, 80*time.Millisecond)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())
	require.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)

	// Keep touching activity; the worker must stay up
	for i := 0; i < 5; i++ {
		s.RequestActivity()
		time.Sleep(40 * time.Millisecond)
		assert.Equal(t, types.WorkerStateRunning, s.State())
	}
}

func TestWorkerDeathTransitionsToIdleWithoutRestart(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{healthy: true}
	s := newTestSupervisor(proc, checker, time.Hour)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())
	require.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)

	proc.kill()

	assert.Eventually(t, func() bool {
		return s.State() == types.WorkerStateIdle
	}, 2*time.Second, 10*time.Millisecond)

	// No automatic restart: the next request re-enters STARTING
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, proc.starts)
	require.True(t, s.StartIfNeeded())
	assert.Equal(t, 2, proc.starts)
}

func TestAwaitReadyWakesOnTransition(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{}
	s := newTestSupervisor(proc, checker, time.Hour)
	s.Start()
	defer s.Shutdown()

	require.True(t, s.StartIfNeeded())

	done := make(chan bool, 1)
	go func() { done <- s.AwaitReady(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	checker.set(true)

	select {
	case ready := <-done:
		assert.True(t, ready)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitReady never returned")
	}
}

func TestAwaitReadyHonorsContext(t *testing.T) {
	s := newTestSupervisor(&fakeProc{}, &fakeChecker{}, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	assert.False(t, s.AwaitReady(ctx))
}

func TestShutdownStopsWorkerAndSettlesIdle(t *testing.T) {
	proc := &fakeProc{}
	checker := &fakeChecker{healthy: true}
	s := newTestSupervisor(proc, checker, time.Hour)
	s.Start()

	require.True(t, s.StartIfNeeded())
	require.Eventually(t, s.IsReady, time.Second, 5*time.Millisecond)

	s.Shutdown()

	assert.Equal(t, types.WorkerStateIdle, s.State())
	assert.False(t, proc.IsAlive())
}
