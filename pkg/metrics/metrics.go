package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_requests_total",
			Help: "Total number of chat-completion requests by outcome",
		},
		[]string{"outcome"},
	)

	RequestsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_requests_rejected_total",
			Help: "Total number of requests rejected by admission control",
		},
	)

	RequestsDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_requests_degraded_total",
			Help: "Total number of requests with a reduced output-token budget, by tier",
		},
		[]string{"tier"},
	)

	// Batch metrics
	BatchFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_batch_flushes_total",
			Help: "Total number of batch flushes dispatched to the worker",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_batch_size",
			Help:    "Number of requests fanned out per batch flush",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	// Upstream metrics
	UpstreamRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_upstream_request_duration_seconds",
			Help:    "Latency of forwarded chat-completion requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Supervisor metrics
	ColdStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_cold_start_duration_seconds",
			Help:    "Time from worker spawn until the healthcheck passes in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	WorkerStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_worker_starts_total",
			Help: "Total number of worker subprocess spawns",
		},
	)

	WorkerStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_worker_stops_total",
			Help: "Total number of worker terminations by cause",
		},
		[]string{"cause"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestsRejectedTotal)
	prometheus.MustRegister(RequestsDegradedTotal)
	prometheus.MustRegister(BatchFlushesTotal)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(ColdStartDuration)
	prometheus.MustRegister(WorkerStartsTotal)
	prometheus.MustRegister(WorkerStopsTotal)
}

// RegisterDepthGauges registers the externally contracted depth gauges as
// functions so the values are read from the live counters at scrape time.
// Re-registration (tests wiring multiple gateways) is tolerated; the first
// registered probe wins.
func RegisterDepthGauges(queueDepth, inFlight, pendingBatch func() float64) {
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_queue_depth",
		Help: "Requests in the system (pending + in-flight)",
	}, queueDepth))
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_in_flight",
		Help: "Requests dispatched to the worker and not yet answered",
	}, inFlight))
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_pending_batch",
		Help: "Requests waiting in the current batch window",
	}, pendingBatch))
}

// RegisterWorkerStateGauge registers the worker-state gauge. Called only
// when the supervisor is enabled, so a disabled supervisor never surfaces
// a worker state in the exposition.
func RegisterWorkerStateGauge(state func() float64) {
	register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_worker_state",
		Help: "Managed worker state (0=idle, 1=starting, 2=running, 3=stopping)",
	}, state))
}

func register(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
		panic(err)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
