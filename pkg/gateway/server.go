package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/batch"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkerSupervisor is the slice of the supervisor the gateway drives
type WorkerSupervisor interface {
	RequestActivity()
	StartIfNeeded() bool
	AwaitReady(ctx context.Context) bool
	State() types.WorkerState
}

// Server is the client-facing HTTP front-end. It sequences admission,
// supervisor wake-up, degradation and batching for every request.
type Server struct {
	cfg     *config.Config
	sup     WorkerSupervisor
	tracker *batch.Tracker
	queue   *batch.Queue
	client  *upstream.Client
	logger  zerolog.Logger
	mux     *http.ServeMux

	httpServer *http.Server
}

// New wires the gateway. sup is nil when the supervisor is disabled; a
// zero batch window bypasses the queue entirely.
func New(cfg *config.Config, sup WorkerSupervisor) *Server {
	s := &Server{
		cfg:     cfg,
		sup:     sup,
		tracker: batch.NewTracker(),
		client:  upstream.NewClient(cfg.UpstreamURL),
		logger:  log.WithComponent("gateway"),
		mux:     http.NewServeMux(),
	}

	if cfg.BatchWindowMS > 0 {
		s.queue = batch.NewQueue(cfg.BatchWindow(), s.client, s.tracker)
	}

	s.mux.HandleFunc("/v1/chat/completions", s.chatCompletionsHandler)
	s.mux.HandleFunc("/v1/models", s.modelsHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.Handle("/metrics", metrics.Handler())

	metrics.RegisterDepthGauges(
		func() float64 { return float64(s.tracker.Depth()) },
		func() float64 { return float64(s.tracker.InFlight()) },
		func() float64 { return float64(s.tracker.Pending()) },
	)
	if sup != nil {
		metrics.RegisterWorkerStateGauge(func() float64 {
			return sup.State().GaugeValue()
		})
	}

	return s
}

// Handler returns the gateway's HTTP handler (used by tests)
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured port and serves until ctx is cancelled.
// A bind failure is returned immediately so the process can exit non-zero.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	addr := ":" + strconv.Itoa(s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("addr", addr).
		Int("batch_window_ms", s.cfg.BatchWindowMS).
		Int("q_max", s.cfg.QMax).
		Bool("supervisor", s.sup != nil).
		Msg("Gateway listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// chatCompletionsHandler runs the full request sequence: parse, admit,
// wake the worker, degrade, then dispatch directly or through the batch
// window.
func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		metrics.RequestsTotal.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	logger := log.WithRequestID(uuid.NewString())

	// Admission and the counter reservation are one atomic step; a
	// rejected request releases its slot before responding
	direct := s.queue == nil
	var depth int
	if direct {
		depth = s.tracker.ReserveInFlight()
	} else {
		depth = s.tracker.ReservePending()
	}

	admission := policy.CheckAdmission(depth, s.cfg.QMax)
	if !admission.Admitted {
		if direct {
			s.tracker.ReleaseInFlight()
		} else {
			s.tracker.ReleasePending()
		}
		metrics.RequestsTotal.WithLabelValues("rejected").Inc()
		metrics.RequestsRejectedTotal.Inc()
		logger.Debug().Int("depth", depth).Msg("Request rejected by admission control")

		w.Header().Set("Retry-After", strconv.Itoa(admission.RetryAfterSec))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  "overload",
			"reason": admission.Reason,
		})
		return
	}

	if s.sup != nil {
		s.sup.RequestActivity()
		s.sup.StartIfNeeded()
		if !s.sup.AwaitReady(r.Context()) {
			if direct {
				s.tracker.ReleaseInFlight()
			} else {
				s.tracker.ReleasePending()
			}
			metrics.RequestsTotal.WithLabelValues("cold_start_timeout").Inc()
			logger.Warn().Msg("Cold start timeout, worker not ready")

			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":   "worker not ready",
				"message": "cold start timeout",
			})
			return
		}
	}

	body, tier := policy.ApplyDegradation(body, depth)
	if tier.Tier > 0 {
		metrics.RequestsDegradedTotal.WithLabelValues(strconv.Itoa(tier.Tier)).Inc()
		logger.Info().
			Int("tier", tier.Tier).
			Int("depth", depth).
			Str("label", tier.Label).
			Msg("Degradation tier active")
	}

	var result types.UpstreamResult
	if direct {
		result = s.client.ChatCompletions(r.Context(), body)
		s.tracker.ReleaseInFlight()
	} else {
		// The flush owns the in-flight accounting from here on. A client
		// that disconnects while waiting does not cancel the batch; its
		// result is simply discarded by the failed write below.
		result = <-s.queue.Enqueue(body)
	}

	metrics.RequestsTotal.WithLabelValues("forwarded").Inc()
	writeJSON(w, result.Status, result.Body)
}

// healthResponse is the /health payload. WorkerState appears only when
// the supervisor is enabled.
type healthResponse struct {
	Status        string `json:"status"`
	BatchWindowMS int    `json:"batch_window_ms"`
	WorkerState   string `json:"worker_state,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:        "ok",
		BatchWindowMS: s.cfg.BatchWindowMS,
	}
	if s.sup != nil {
		resp.WorkerState = string(s.sup.State())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// modelsHandler proxies the worker's model listing unchanged
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, contentType, body, err := s.client.Models(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Models proxy failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
