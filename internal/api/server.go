// Package api exposes the pool's monitoring and control surface over HTTP:
// health, stats, result lookup, demo task submission, and manual scaling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jzx17/taskforge/pkg/pool"
	"github.com/jzx17/taskforge/pkg/types"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and the pool it fronts.
type Server struct {
	router *chi.Mux
	pool   *pool.DynamicPool
	logger *slog.Logger
	addr   string
}

// NewServer creates and configures the HTTP server.
func NewServer(addr string, p *pool.DynamicPool, logger *slog.Logger) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		pool:   p,
		logger: logger,
		addr:   addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/results/{id}", s.handleGetResult)
		r.Post("/tasks", s.handleSubmitTask)
		r.Post("/scale", s.handleScale)
	})
}

// Router returns the underlying handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loggingMiddleware logs one line per request with status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.pool.IsRunning() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pool.Stats())
}

// resultResponse is the wire shape of a task result.
type resultResponse struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	Value           any    `json:"value,omitempty"`
	Error           string `json:"error,omitempty"`
	WorkerID        string `json:"worker_id"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := s.pool.GetResult(r.Context(), id)
	if errors.Is(err, types.ErrTaskNotFound) {
		s.writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, resultResponse{
		TaskID:          result.TaskID,
		Status:          result.Status.String(),
		Value:           result.Value,
		Error:           result.ErrorMessage(),
		WorkerID:        result.WorkerID,
		ExecutionTimeMS: result.ExecutionTime().Milliseconds(),
	})
}

// submitTaskRequest describes a demo task: sleep for a while, then succeed
// or fail. Real embedders submit task functions through the Go API instead.
type submitTaskRequest struct {
	SleepMS   int    `json:"sleep_ms"`
	Fail      bool   `json:"fail"`
	TimeoutMS int    `json:"timeout_ms"`
	Payload   string `json:"payload"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fn := func(ctx context.Context) (any, error) {
		if req.SleepMS > 0 {
			select {
			case <-time.After(time.Duration(req.SleepMS) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if req.Fail {
			return nil, fmt.Errorf("task failed on request")
		}
		return req.Payload, nil
	}

	var task *types.Task
	if req.TimeoutMS > 0 {
		task = types.NewTaskWithTimeout(fn, time.Duration(req.TimeoutMS)*time.Millisecond)
	} else {
		task = types.NewTask(fn)
	}

	taskID, err := s.pool.Submit(task)
	if errors.Is(err, types.ErrPoolNotStarted) || errors.Is(err, types.ErrPoolClosed) {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, types.ErrQueueFull) {
		s.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

type scaleRequest struct {
	Target int `json:"target"`
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.pool.ScaleWorkers(req.Target); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{"worker_count": s.pool.WorkerCount()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
