package batch

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Forwarder dispatches one request body to the worker
type Forwarder interface {
	ChatCompletions(ctx context.Context, body map[string]any) types.UpstreamResult
}

// Queue accumulates requests for one batch window, then drains them to
// the worker in a single concurrent fan-out so the worker's continuous
// batching scheduler can group them.
type Queue struct {
	window  time.Duration
	forward Forwarder
	tracker *Tracker
	logger  zerolog.Logger

	mu             sync.Mutex
	items          []*pendingRequest
	flushScheduled bool
}

// pendingRequest is one entry waiting for the flush. done is fulfilled
// exactly once, with the worker's answer or a synthesized 500.
type pendingRequest struct {
	body       map[string]any
	receivedAt time.Time
	done       chan types.UpstreamResult
}

// NewQueue creates a batching queue. The caller owns the pending-counter
// reservation: Enqueue assumes the slot was already claimed during
// admission.
func NewQueue(window time.Duration, forward Forwarder, tracker *Tracker) *Queue {
	return &Queue{
		window:  window,
		forward: forward,
		tracker: tracker,
		logger:  log.WithComponent("batch"),
	}
}

// Enqueue appends the request to the current batch and returns the channel
// its response will arrive on. The first enqueue of a batch schedules the
// deferred flush; at most one flush is scheduled at a time.
func (q *Queue) Enqueue(body map[string]any) <-chan types.UpstreamResult {
	pr := &pendingRequest{
		body:       body,
		receivedAt: time.Now(),
		done:       make(chan types.UpstreamResult, 1),
	}

	q.mu.Lock()
	q.items = append(q.items, pr)
	if !q.flushScheduled {
		q.flushScheduled = true
		go q.flushAfterWindow()
	}
	q.mu.Unlock()

	return pr.done
}

// Len returns the number of requests in the current window
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) flushAfterWindow() {
	time.Sleep(q.window)
	q.flush()
}

// flush swaps the batch out under the mutex, then fans it out. Clearing
// flushScheduled at swap time lets a new window open while this fan-out
// is still awaiting the worker; requests enqueued after the swap belong
// to the next batch.
func (q *Queue) flush() {
	q.mu.Lock()
	batch := q.items
	q.items = nil
	q.flushScheduled = false
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	n := len(batch)
	q.tracker.promote(n)
	metrics.BatchFlushesTotal.Inc()
	metrics.BatchSize.Observe(float64(n))

	q.logger.Debug().
		Int("batch_size", n).
		Dur("oldest_wait", time.Since(batch[0].receivedAt)).
		Msg("Flushing batch to worker")

	// The fan-out is detached from any request context: a client that
	// disconnects mid-flight must not cancel the shared dispatch
	var g errgroup.Group
	for _, pr := range batch {
		g.Go(func() error {
			pr.done <- q.forward.ChatCompletions(context.Background(), pr.body)
			return nil
		})
	}
	_ = g.Wait()

	q.tracker.completeInFlight(n)
}
