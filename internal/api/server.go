package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/config"
	idgen "github.com/JakeFAU/seo-brief/internal/id/uuid"
	"github.com/JakeFAU/seo-brief/internal/metrics"
	"github.com/JakeFAU/seo-brief/internal/stream"
)

// Enqueuer hands accepted jobs to the worker pool. *dispatcher.Dispatcher
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item brief.QueueItem) error
}

// Streamer follows one job and pushes its events to send. *stream.Streamer
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context, jobID string, send func(stream.Event) error) error
}

// Server wires HTTP handlers to the job store, queue and progress streams.
type Server struct {
	router   chi.Router
	store    brief.JobStore
	enqueuer Enqueuer
	streamer Streamer
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store brief.JobStore,
	enqueuer Enqueuer,
	streamer Streamer,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		enqueuer: enqueuer,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger,
	}

	origins := cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = config.DefaultAllowedOrigins
	}
	requestTimeout := cfg.RequestTimeout()
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	timeout := timeoutMiddleware(requestTimeout)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.With(timeout).Post("/", s.submitJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.With(timeout).Get("/", s.getJob)
			r.With(timeout).Get("/report", s.getReport)
			r.Get("/stream", s.streamJob)
		})
	})

	r.Route("/api/content-brief", func(r chi.Router) {
		r.With(timeout).Post("/", s.submitLegacyJob)
		r.Route("/{job_id}", func(r chi.Router) {
			r.With(timeout).Get("/", s.getLegacyJob)
			r.Get("/stream", s.streamJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": s.store.Count(r.Context())})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The store and queue are in-process; there is nothing downstream to probe.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Topic   string `json:"topic"`
	Keyword string `json:"keyword"`
}

func (r submitRequest) topic() string {
	if topic := strings.TrimSpace(r.Topic); topic != "" {
		return topic
	}
	return strings.TrimSpace(r.Keyword)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "topic cannot be empty")
}

func (s *Server) submitLegacyJob(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "keyword cannot be empty")
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, emptyMsg string) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	topic := req.topic()
	if topic == "" {
		writeError(w, http.StatusUnprocessableEntity, emptyMsg)
		return
	}

	jobID, err := s.enqueueJob(r.Context(), topic)
	if err != nil {
		s.logger.Error("submit job failed", zap.String("topic", topic), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// enqueueJob records the job and hands it to the queue. The id is returned
// even when the queue refuses the job (it only does so while shutting down);
// that job is failed right away and its stream reports the error.
func (s *Server) enqueueJob(ctx context.Context, topic string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	job, err := s.store.Create(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := brief.QueueItem{
		JobID:     job.ID,
		Topic:     job.Topic,
		Submitted: job.Submitted.Unix(),
	}
	if err := s.enqueuer.Enqueue(ctx, item); err != nil {
		msg := err.Error()
		s.logger.Warn("job not queued", zap.String("job_id", job.ID), zap.Error(err))
		s.store.AppendProgress(ctx, job.ID, "ERROR: "+msg)
		if failErr := s.store.Fail(ctx, job.ID, msg); failErr != nil {
			s.logger.Warn("fail unqueued job", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return job.ID, nil
	}
	s.logger.Info("job accepted", zap.String("job_id", job.ID), zap.String("topic", topic))
	return job.ID, nil
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (brief.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.Get(r.Context(), jobID)
	switch {
	case err == nil:
		return job, true
	case errors.Is(err, brief.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		s.logger.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
	}
	return brief.Job{}, false
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// legacyStatus is the job shape served on the /api/content-brief routes.
type legacyStatus struct {
	JobID      string       `json:"job_id"`
	Status     brief.Status `json:"status"`
	Progress   []string     `json:"progress"`
	ReportHTML string       `json:"report_html,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func (s *Server) getLegacyJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, legacyStatus{
		JobID:      job.ID,
		Status:     job.Status,
		Progress:   job.Progress,
		ReportHTML: job.Result,
		Error:      job.Error,
	})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != brief.StatusComplete {
		writeError(w, http.StatusConflict, fmt.Sprintf("report not ready (status %s)", job.Status))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(job.Result)); err != nil {
		s.logger.Warn("write report failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) streamJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		s.logger.Error("open event stream failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	err = s.streamer.Stream(r.Context(), job.ID, sse.Send)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("event stream ended", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := idgen.New().NewRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request ID middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
