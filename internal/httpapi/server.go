// Package httpapi exposes the daemon's local control surface: supervisor
// status and lifecycle, the model store, streaming model downloads, and
// streaming redaction jobs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marcutd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Models() []types.ModelInfo
	Ready() bool
	EnsureRunning(ctx context.Context, force bool) error
	EnsureModel(ctx context.Context, modelID string, onProgress func(types.ProgressUpdate)) error
	PullModel(ctx context.Context, modelID string, onProgress func(types.ProgressUpdate)) error
	RunJob(ctx context.Context, req types.JobRequest, onProgress func(types.ProgressUpdate)) error
}

// NewMux builds the control API router.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(types.ModelsResponse{Models: svc.Models()}); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Post("/ensure", func(w http.ResponseWriter, r *http.Request) {
		var req types.EnsureRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		var err error
		if req.Model != "" {
			err = svc.EnsureModel(ctx, req.Model, nil)
		} else {
			err = svc.EnsureRunning(ctx, req.Force)
		}
		if err != nil {
			status := statusForError(err)
			writeJSONError(w, status, err.Error())
			logRequest(r, status, start)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(svc.Status())
		logRequest(r, http.StatusOK, start)
	})

	r.Post("/pull", func(w http.ResponseWriter, r *http.Request) {
		var req types.PullRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		stream := newProgressStream(w)
		err := svc.PullModel(ctx, req.Model, stream.Send)
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		if err != nil {
			countDownload("failure")
			stream.Fail(statusForError(err), err.Error())
			logRequest(r, statusForError(err), start)
			return
		}
		countDownload("success")
		stream.Finish()
		logRequest(r, http.StatusOK, start)
	})

	r.Post("/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req types.JobRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Input) == "" || strings.TrimSpace(req.Output) == "" {
			writeJSONError(w, http.StatusBadRequest, "input and output are required")
			return
		}
		start := time.Now()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		stream := newProgressStream(w)
		err := svc.RunJob(ctx, req, stream.Send)
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		if err != nil {
			countJob("failure")
			stream.Fail(statusForError(err), err.Error())
			logRequest(r, statusForError(err), start)
			return
		}
		countJob("success")
		stream.Finish()
		logRequest(r, http.StatusOK, start)
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSON enforces content type and body size, decoding into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// progressStream writes ProgressUpdate values as NDJSON, flushing per line
// so callers see progress as it happens. Headers are sent lazily on the
// first event, which keeps early failures as plain JSON errors.
type progressStream struct {
	w       http.ResponseWriter
	flush   func()
	started bool
}

func newProgressStream(w http.ResponseWriter) *progressStream {
	s := &progressStream{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *progressStream) Send(u types.ProgressUpdate) {
	s.start()
	_ = json.NewEncoder(s.w).Encode(u)
	s.flush()
}

func (s *progressStream) Finish() {
	s.start()
	_ = json.NewEncoder(s.w).Encode(map[string]string{"status": "success"})
	s.flush()
}

// Fail reports an error: as a normal JSON error response when nothing was
// streamed yet, otherwise as a terminal NDJSON line.
func (s *progressStream) Fail(code int, msg string) {
	if !s.started {
		writeJSONError(s.w, code, msg)
		return
	}
	_ = json.NewEncoder(s.w).Encode(map[string]any{"status": "error", "error": msg, "code": code})
	s.flush()
}

func (s *progressStream) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "application/x-ndjson")
	s.w.WriteHeader(http.StatusOK)
}
