package batch

import "sync/atomic"

// Tracker holds the two load counters that drive admission and
// degradation: pending (requests waiting in the batch window) and
// in-flight (requests dispatched to the worker and not yet answered).
// Reservation is an atomic pre-increment so that the admission check and
// the counter update cannot interleave between two concurrent requests.
type Tracker struct {
	pending  atomic.Int64
	inFlight atomic.Int64
}

// NewTracker creates a zeroed tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Depth returns pending + in-flight, the admission metric
func (t *Tracker) Depth() int {
	return int(t.pending.Load() + t.inFlight.Load())
}

// Pending returns the number of requests waiting in the batch window
func (t *Tracker) Pending() int {
	return int(t.pending.Load())
}

// InFlight returns the number of requests awaiting a worker response
func (t *Tracker) InFlight() int {
	return int(t.inFlight.Load())
}

// ReservePending claims a batching-queue slot and returns the depth as it
// was before the reservation. Callers must ReleasePending on rejection.
func (t *Tracker) ReservePending() int {
	return int(t.pending.Add(1)+t.inFlight.Load()) - 1
}

// ReleasePending returns a slot claimed by ReservePending
func (t *Tracker) ReleasePending() {
	t.pending.Add(-1)
}

// ReserveInFlight claims a direct-dispatch slot and returns the depth as
// it was before the reservation. Callers must ReleaseInFlight when the
// request leaves the system.
func (t *Tracker) ReserveInFlight() int {
	return int(t.inFlight.Add(1)+t.pending.Load()) - 1
}

// ReleaseInFlight returns a slot claimed by ReserveInFlight
func (t *Tracker) ReleaseInFlight() {
	t.inFlight.Add(-1)
}

// promote transfers n requests from pending to in-flight at flush time
func (t *Tracker) promote(n int) {
	t.pending.Add(int64(-n))
	t.inFlight.Add(int64(n))
}

// completeInFlight retires n dispatched requests once answered
func (t *Tracker) completeInFlight(n int) {
	t.inFlight.Add(int64(-n))
}
