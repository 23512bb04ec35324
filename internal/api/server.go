// Package api exposes the ingress HTTP surface: batch submission and
// an SSE event subscription, backed by the dispatcher and notifier.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/domainlink/linkauditor/internal/config"
	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/notify/sinks"
	"github.com/domainlink/linkauditor/internal/telemetry"
)

// Dispatcher is the subset of dispatcher.Dispatcher the API needs.
type Dispatcher interface {
	Enqueue(ctx context.Context, job linkaudit.Job) error
}

// Server is the chi-routed HTTP ingress for batch submission and SSE
// event subscription.
type Server struct {
	router     chi.Router
	dispatcher Dispatcher
	repo       linkaudit.Repository
	clock      linkaudit.Clock
	events     *sinks.SSESink
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer wires the middleware chain and route table.
func NewServer(dispatcher Dispatcher, repo linkaudit.Repository, clock linkaudit.Clock, events *sinks.SSESink, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dispatcher: dispatcher,
		repo:       repo,
		clock:      clock,
		events:     events,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDHeaderMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	// telemetry.Middleware's response wrapper does not forward
	// http.Flusher, and a fixed request timeout has no place on a
	// long-lived connection, so the SSE stream is mounted outside both.
	r.With(telemetry.Middleware, middleware.Timeout(60*time.Second)).Post("/v1/batches", s.submitBatch)
	r.Get("/v1/projects/{projectID}/events", s.streamEvents)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.repo == nil || s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dependencies not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// batchRequest is the wire shape for POST /v1/batches.
type batchRequest struct {
	ProjectID string      `json:"projectId"`
	UserID    string      `json:"userId"`
	Pairs     []batchPair `json:"pairs"`
}

type batchPair struct {
	SourceURL    string `json:"sourceUrl"`
	TargetDomain string `json:"targetDomain"`
}

type batchResponse struct {
	Accepted int      `json:"accepted"`
	JobIDs   []string `json:"jobIds"`
}

// submitBatch handles POST /v1/batches: it accepts a list of
// (source_url, target_domain) pairs plus a project and user id,
// normalizes each target domain, derives a deterministic job id per
// pair, and enqueues one job per pair through the dispatcher.
func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "projectId and userId are required")
		return
	}
	if len(req.Pairs) == 0 {
		writeError(w, http.StatusBadRequest, "pairs must not be empty")
		return
	}

	ctx := r.Context()
	priority, err := s.repo.GetUserPriority(ctx, req.UserID)
	if err != nil {
		s.logger.Error("get user priority failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve user priority")
		return
	}

	jobIDs := make([]string, 0, len(req.Pairs))
	now := s.clock.Now()
	for _, pair := range req.Pairs {
		if pair.SourceURL == "" {
			writeError(w, http.StatusBadRequest, "sourceUrl is required")
			return
		}
		target, err := linkaudit.NormalizeTargetDomain(pair.TargetDomain)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid target domain %q: %v", pair.TargetDomain, err))
			return
		}
		jobID := linkaudit.DeriveJobID(linkaudit.JobKindBatch, pair.SourceURL, req.ProjectID)
		job := linkaudit.Job{
			JobID:        jobID,
			Kind:         linkaudit.JobKindBatch,
			UserID:       req.UserID,
			ProjectID:    req.ProjectID,
			SourceURL:    pair.SourceURL,
			TargetDomain: target,
			Priority:     priority,
			EnqueuedAt:   now,
		}
		if err := s.dispatcher.Enqueue(ctx, job); err != nil {
			s.logger.Error("enqueue batch job failed", zap.Error(err), zap.String("job_id", jobID))
			writeError(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}
		jobIDs = append(jobIDs, jobID)
	}

	writeJSON(w, http.StatusAccepted, batchResponse{Accepted: len(jobIDs), JobIDs: jobIDs})
}

// streamEvents handles GET /v1/projects/{projectID}/events: a
// Server-Sent-Events subscription backed by the notifier's SSE sink.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, unsubscribe := s.events.Subscribe(projectID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// requestIDHeaderMiddleware surfaces the request id chi's RequestID
// middleware stashed in context back onto the response, so callers
// can correlate a response with server-side logs.
func requestIDHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware rejects requests missing the configured API key,
// matching the teacher's optional bearer-token gate.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != s.cfg.Auth.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs one structured line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
