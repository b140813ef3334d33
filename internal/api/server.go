package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/auth"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
)

// CaptureRunner runs a capture synchronously.
type CaptureRunner interface {
	Run(ctx context.Context, req capture.Request) (capture.Result, error)
	Renderer() string
}

// JobSubmitter enqueues a capture for a worker.
type JobSubmitter interface {
	Submit(ctx context.Context, req capture.Request, source capture.JobSource, scheduleID string) (capture.Job, error)
}

// Admission gates new captures per owner.
type Admission interface {
	Allow(owner string) bool
	RetryAfter(owner string) time.Duration
}

// Deps are the collaborators the handlers call. Jobs, Limiter, Verifier and
// Ready are optional.
type Deps struct {
	Pipeline  CaptureRunner
	Jobs      JobSubmitter
	Artifacts capture.ArtifactStore
	Records   capture.ProvenanceStore
	Schedules capture.ScheduleStore
	IDs       capture.IDGenerator
	Limiter   Admission
	Verifier  auth.TokenVerifier
	Ready     func(ctx context.Context) error
}

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      config.Config
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger,
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, logger))
		r.Get("/auth/status", s.authStatus)

		r.Route("/captures", func(r chi.Router) {
			r.With(auth.RequireRole(auth.RoleOperator)).Post("/trigger", s.triggerCapture)
			r.With(auth.RequireRole(auth.RoleOperator)).Post("/enqueue", s.enqueueCapture)
			r.Post("/verify", s.verifyCapture)
			r.Get("/", s.listCaptures)
			r.Route("/{capture_id}", func(r chi.Router) {
				r.Get("/", s.getCapture)
				r.Get("/download", s.downloadCapture)
				r.With(auth.RequireRole(auth.RoleAdmin)).Delete("/", s.deleteCapture)
			})
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", s.listSchedules)
			r.With(auth.RequireRole(auth.RoleOperator)).Post("/", s.createSchedule)
			r.Route("/{schedule_id}", func(r chi.Router) {
				r.Get("/", s.getSchedule)
				r.With(auth.RequireRole(auth.RoleOperator)).Put("/", s.updateSchedule)
				r.With(auth.RequireRole(auth.RoleOperator)).Delete("/", s.deleteSchedule)
				r.With(auth.RequireRole(auth.RoleOperator)).Post("/run", s.runSchedule)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	renderer := ""
	if s.deps.Pipeline != nil {
		renderer = s.deps.Pipeline.Renderer()
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"renderer":    renderer,
		"environment": s.cfg.Environment,
	})
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

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"auth_enabled":  s.deps.Verifier != nil,
		"user_id":       id.Subject,
		"email":         id.Email,
		"role":          id.Role.String(),
		"groups":        id.Groups,
	})
}

// decode reads a JSON body into dst and runs struct validation.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", capture.ErrValidation)
	}
	if err := s.validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// writeFailure maps err onto a status code. Internal text never reaches the
// body for store or unknown errors.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
		return
	}
	switch capture.KindOf(err) {
	case capture.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case capture.KindNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case capture.KindAccessDenied:
		writeError(w, http.StatusForbidden, "access denied")
	case capture.KindNotImplemented:
		writeError(w, http.StatusNotImplemented, "not implemented")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
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
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
