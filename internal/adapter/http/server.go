// Package http exposes health, metrics, and the reconciled timestamp query API.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmfg/portcall-timestamp-service/internal/domain"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// TimestampReader is the windowed, newest-wins read side of the canonical store.
type TimestampReader interface {
	FindByShip(ctx context.Context, ship domain.Ship) ([]domain.CanonicalEvent, error)
	FindByLocode(ctx context.Context, locode string) ([]domain.CanonicalEvent, error)
	FindBySource(ctx context.Context, source domain.Source) ([]domain.CanonicalEvent, error)
}

// Server exposes health, readiness, metrics and timestamp query endpoints.
type Server struct {
	httpServer *http.Server
	reader     TimestampReader
	reconciler *domain.Reconciler
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /api/v1/timestamps routes.
func NewServer(addr string, ready ReadinessChecker, reader TimestampReader, reconciler *domain.Reconciler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		reader:     reader,
		reconciler: reconciler,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/timestamps", s.handleTimestamps)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// timelineResponse is one reconciled port-call timeline.
type timelineResponse struct {
	PortcallID *int64                  `json:"portcallId,omitempty"`
	Events     []domain.CanonicalEvent `json:"events"`
}

// handleTimestamps serves the reconciled view: stored events are fetched
// through the retention window, grouped per port call, and each group runs
// through the reconciliation engine. Consumers never see more than one
// event per kind.
func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	events, ok := s.queryEvents(w, r)
	if !ok {
		return
	}

	groups := make(map[string][]domain.CanonicalEvent)
	order := make([]string, 0)
	for _, e := range events {
		key := e.TimelineKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	timelines := make([]timelineResponse, 0, len(order))
	for _, key := range order {
		group := groups[key]
		timelines = append(timelines, timelineResponse{
			PortcallID: group[0].PortcallID,
			Events:     s.reconciler.Reconcile(group),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"timelines": timelines})
}

// queryEvents resolves exactly one of the mmsi/imo/locode/source query
// parameters into a store read. Reports false after writing an error response.
func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) ([]domain.CanonicalEvent, bool) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		events []domain.CanonicalEvent
		err    error
	)
	switch {
	case q.Get("mmsi") != "":
		mmsi, convErr := strconv.Atoi(q.Get("mmsi"))
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid mmsi"})
			return nil, false
		}
		events, err = s.reader.FindByShip(ctx, domain.Ship{MMSI: &mmsi})
	case q.Get("imo") != "":
		imo, convErr := strconv.Atoi(q.Get("imo"))
		if convErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid imo"})
			return nil, false
		}
		events, err = s.reader.FindByShip(ctx, domain.Ship{IMO: &imo})
	case q.Get("locode") != "":
		events, err = s.reader.FindByLocode(ctx, q.Get("locode"))
	case q.Get("source") != "":
		source, parseErr := domain.ParseSource(q.Get("source"))
		if parseErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": parseErr.Error()})
			return nil, false
		}
		events, err = s.reader.FindBySource(ctx, source)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "one of mmsi, imo, locode or source is required"})
		return nil, false
	}

	if err != nil {
		s.logger.Error("timestamp query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return nil, false
	}
	return events, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
