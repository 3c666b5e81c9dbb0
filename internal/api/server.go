package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/config"
	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// JobSource tags jobs submitted over HTTP.
const JobSource = "api"

const maxRunsPage = 200

// MessageHandler runs one job message synchronously.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg ingest.Message) (ingest.ProcessingResult, error)
}

// QuotaGuard is the request allowance consulted before a job is accepted.
type QuotaGuard interface {
	Allow() bool
	Release()
	Usage() (used, limit int)
	ResetAt() time.Time
}

// Deps are the collaborators behind the routes. Queue, Runs, Quota and
// Ready are optional; routes backed by a missing dependency return 503.
type Deps struct {
	Handler MessageHandler
	Queue   ingest.JobQueue
	Runs    ingest.RunReader
	Quota   QuotaGuard
	IDs     ingest.IDGenerator
	Clock   ingest.Clock
	Ready   func(ctx context.Context) error
}

// Server wires HTTP handlers to the worker, queue and run ledger.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/ingest", s.ingest)
		r.Post("/jobs", s.submitJob)
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/quota", s.quota)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type jobRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Language string `json:"language"`
	Source   string `json:"source"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Handler == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	msg, ok := s.acceptJob(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Handler.HandleMessage(r.Context(), msg)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	msg, ok := s.acceptJob(w, r)
	if !ok {
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.deps.Queue.Enqueue(queueCtx, msg); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.releaseQuota()
		s.logger.Error("enqueue job failed", zap.String("message_id", msg.ID), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": msg.ID})
}

// acceptJob decodes and validates the request body, consults the quota
// and builds the queue message. It writes the error response itself.
func (s *Server) acceptJob(w http.ResponseWriter, r *http.Request) (ingest.Message, bool) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return ingest.Message{}, false
	}
	if req.Source == "" {
		req.Source = JobSource
	}
	job := ingest.Job{
		Query:    req.Query,
		Limit:    req.Limit,
		Language: req.Language,
		Source:   req.Source,
	}.WithDefaults()
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ingest.Message{}, false
	}
	if s.deps.Quota != nil && !s.deps.Quota.Allow() {
		writeError(w, http.StatusTooManyRequests, ingest.ErrQuotaExhausted.Error())
		return ingest.Message{}, false
	}
	job.SubmittedAt = s.now()

	id, err := s.newID()
	if err != nil {
		s.releaseQuota()
		writeError(w, http.StatusInternalServerError, err.Error())
		return ingest.Message{}, false
	}
	body, err := json.Marshal(job)
	if err != nil {
		s.releaseQuota()
		writeError(w, http.StatusInternalServerError, "encode job")
		return ingest.Message{}, false
	}
	return ingest.Message{ID: id, Body: body, Attempt: 1}, true
}

// releaseQuota refunds a request admitted by acceptJob that never reached
// the provider.
func (s *Server) releaseQuota() {
	if s.deps.Quota != nil {
		s.deps.Quota.Release()
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRunsPage {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsPage))
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	runID := chi.URLParam(r, "run_id")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, ingest.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "status": run.Status()})
}

func (s *Server) quota(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Quota == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enforced": false})
		return
	}
	used, limit := s.deps.Quota.Usage()
	writeJSON(w, http.StatusOK, map[string]any{
		"enforced": limit > 0,
		"used":     used,
		"limit":    limit,
		"reset_at": s.deps.Quota.ResetAt(),
	})
}

func (s *Server) now() time.Time {
	if s.deps.Clock == nil {
		return time.Now().UTC()
	}
	return s.deps.Clock.Now()
}

func (s *Server) newID() (string, error) {
	if s.deps.IDs == nil {
		return uuid.NewString(), nil
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUpstreamFetch):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrQuotaExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrAllRecordsRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
