// Package api exposes the service over HTTP: lease lifecycle and
// payment operations, the audit surface over the ledger, dead-letter
// administration and operational endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/leasify/leased/internal/eventbus"
	"github.com/leasify/leased/internal/ledger"
	"github.com/leasify/leased/internal/lease"
	"github.com/leasify/leased/internal/payment"
	"github.com/leasify/leased/internal/projection"
	"github.com/leasify/leased/internal/storage/relationaldb"
)

// Deps are the services the HTTP layer fronts. Metrics and DLQ may be
// nil; their endpoints then report unavailable.
type Deps struct {
	Leases      *lease.Service
	Payments    *payment.Service
	Audit       *ledger.QueryService
	Projections *projection.Reader
	DLQ         eventbus.DeadLetterQueue
	System      relationaldb.SystemRepository
	Metrics     http.Handler
	Stats       relationaldb.Metrics
	Logger      eventbus.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	deps   Deps
	router *mux.Router
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NewServer builds the server and its routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	s := &Server{deps: deps, router: mux.NewRouter()}
	s.routes()
	return s
}

// Router returns the configured router.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(s.observe)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/leases", s.handleCreateLease).Methods(http.MethodPost)
	api.HandleFunc("/leases/{id}", s.handleGetLease).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/payments", s.handleGetPayments).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/status", s.handleUpdateStatus).Methods(http.MethodPatch)
	api.HandleFunc("/leases/{id}/schedule", s.handleAnnounceSchedule).Methods(http.MethodPost)
	api.HandleFunc("/leases/{id}/projection", s.handleProjection).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}/leases", s.handleListByCustomer).Methods(http.MethodGet)

	api.HandleFunc("/payments/{id}/attempt", s.handleAttemptPayment).Methods(http.MethodPost)
	api.HandleFunc("/leases/{id}/payoff", s.handlePayoffQuote).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/payoff", s.handleEarlyPayoff).Methods(http.MethodPost)

	api.HandleFunc("/leases/{id}/audit", s.handleAuditTrail).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/timeline", s.handleTimeline).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/state-at", s.handleStateAt).Methods(http.MethodGet)
	api.HandleFunc("/leases/{id}/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/audit/metrics", s.handleAuditMetrics).Methods(http.MethodGet)

	api.HandleFunc("/dlq", s.handleListDLQ).Methods(http.MethodGet)
	api.HandleFunc("/dlq", s.handleClearDLQ).Methods(http.MethodDelete)
	api.HandleFunc("/dlq/{id}", s.handleAcknowledgeDLQ).Methods(http.MethodDelete)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods(http.MethodGet)
	}
}

// observe logs each request and feeds the request counters.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		s.deps.Logger.Debug("Handled request",
			"method", r.Method, "path", r.URL.Path,
			"status", recorder.status, "duration", duration)
		if s.deps.Stats != nil {
			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if template, err := current.GetPathTemplate(); err == nil {
					route = template
				}
			}
			tags := map[string]string{"method": r.Method, "route": route}
			s.deps.Stats.IncrementCounter("http.requests", tags)
			s.deps.Stats.RecordDuration("http.request.duration", duration, tags)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.System != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.System.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
