package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gymtrack/internal/config"
	"gymtrack/internal/domain"
	"gymtrack/internal/export"
	"gymtrack/internal/metrics"
	"gymtrack/internal/queue"
	"gymtrack/internal/service"

	"github.com/rs/zerolog"
)

// OfflineQueue is the admin surface of the offline mutation queue.
type OfflineQueue interface {
	Status() queue.Status
	ReplayAll(ctx context.Context) queue.ReplayResult
	Clear(ctx context.Context) error
	DeadLetters() []queue.QueuedAction
	RequeueDeadLetters(ctx context.Context) int
}

// Connectivity accepts host reachability signals.
type Connectivity interface {
	IsOnline() bool
	SetOnline(online bool)
}

type DataExporter interface {
	Export(ctx context.Context) (*export.Bundle, error)
	Import(ctx context.Context, b *export.Bundle) (export.ImportResult, error)
	WriteReport(ctx context.Context) (string, error)
}

// Deps are the collaborators served by the HTTP API.
type Deps struct {
	Queue        OfflineQueue
	Connectivity Connectivity
	Members      domain.MemberService
	Payments     domain.PaymentService
	Exporter     DataExporter
	// Ready reports storage readiness for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// HTTPServer exposes the admin API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger, now: time.Now}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Minute,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+healthPath, s.handleHealth)

	mux.HandleFunc("GET /api/v1/queue", s.handleQueueStatus)
	mux.HandleFunc("DELETE /api/v1/queue", s.handleQueueClear)
	mux.HandleFunc("POST /api/v1/queue/replay", s.handleQueueReplay)
	mux.HandleFunc("GET /api/v1/queue/dead-letter", s.handleDeadLetters)
	mux.HandleFunc("POST /api/v1/queue/dead-letter/requeue", s.handleRequeue)

	mux.HandleFunc("GET /api/v1/connectivity", s.handleConnectivity)
	mux.HandleFunc("POST /api/v1/connectivity", s.handleConnectivitySignal)

	mux.HandleFunc("GET /api/v1/members", s.handleListMembers)
	mux.HandleFunc("POST /api/v1/members", s.handleAddMember)
	mux.HandleFunc("GET /api/v1/members/{id}", s.handleGetMember)
	mux.HandleFunc("PUT /api/v1/members/{id}", s.handleUpdateMember)
	mux.HandleFunc("DELETE /api/v1/members/{id}", s.handleDeleteMember)
	mux.HandleFunc("POST /api/v1/members/{id}/attendance", s.handleMarkAttendance)
	mux.HandleFunc("POST /api/v1/members/{id}/reset-sessions", s.handleResetSessions)
	mux.HandleFunc("GET /api/v1/attendance/today", s.handleTodayAttendance)
	mux.HandleFunc("GET /api/v1/activities", s.handleActivities)

	mux.HandleFunc("GET /api/v1/payments", s.handleListPayments)
	mux.HandleFunc("POST /api/v1/payments", s.handleAddPayment)
	mux.HandleFunc("POST /api/v1/payments/session", s.handleSessionPayment)
	mux.HandleFunc("GET /api/v1/payments/{id}", s.handleGetPayment)
	mux.HandleFunc("PUT /api/v1/payments/{id}", s.handleUpdatePayment)
	mux.HandleFunc("DELETE /api/v1/payments/{id}", s.handleDeletePayment)

	mux.HandleFunc("GET /api/v1/pricing", s.handleGetPricing)
	mux.HandleFunc("PUT /api/v1/pricing", s.handleSavePricing)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	mux.HandleFunc("POST /api/v1/export/report", s.handleReport)
	mux.HandleFunc("POST /api/v1/import", s.handleImport)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

// writeServiceError maps service sentinels to HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyExists), errors.Is(err, service.ErrNoSessionsRemaining):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, export.ErrUnsupportedBundle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeMutation answers 202 for mutations deferred to the offline queue.
func (s *HTTPServer) writeMutation(w http.ResponseWriter, created bool, key string, value any, err error) {
	if errors.Is(err, service.ErrDeferred) {
		writeJSON(w, http.StatusAccepted, map[string]any{"deferred": true, key: value})
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{key: value})
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
