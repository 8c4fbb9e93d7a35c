// Package api exposes the HTTP control surface for the recorder feed.
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

	"github.com/lienfeed/recorder-feed/internal/config"
	"github.com/lienfeed/recorder-feed/internal/metrics"
	"github.com/lienfeed/recorder-feed/internal/recorder"
	"github.com/lienfeed/recorder-feed/internal/scheduler"
)

// Automation is the orchestrator surface the API drives.
type Automation interface {
	RunAutomation(ctx context.Context, req recorder.RunRequest) (recorder.AutomationRun, error)
	StopAutomation(ctx context.Context) error
	Status(ctx context.Context) (bool, recorder.AutomationRun, error)
	ScheduleInfo(ctx context.Context) (recorder.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule recorder.Schedule) error
	ListRuns(ctx context.Context, limit int) ([]recorder.AutomationRun, error)
	ListCountyRuns(ctx context.Context, runID int64) ([]recorder.CountyRun, error)
	ListReview(ctx context.Context) ([]recorder.PersistedLien, error)
	ApproveReview(ctx context.Context) (int, error)
	RejectReview(ctx context.Context) (int, error)
}

// Server wires HTTP handlers to the orchestrator and the PDF store.
type Server struct {
	router     chi.Router
	automation Automation
	pdfs       recorder.PdfStore
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(automation Automation, pdfs recorder.PdfStore, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		automation: automation,
		pdfs:       pdfs,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The downstream store fetches attachments unauthenticated.
	r.Get("/pdf/{id}", s.getPdf)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/automation", func(r chi.Router) {
			r.Post("/start", s.startAutomation)
			r.Post("/stop", s.stopAutomation)
			r.Get("/status", s.automationStatus)
		})
		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", s.getSchedule)
			r.Put("/", s.putSchedule)
		})
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}/counties", s.listCountyRuns)
		r.Route("/review", func(r chi.Router) {
			r.Get("/", s.listReview)
			r.Post("/approve", s.approveReview)
			r.Post("/reject", s.rejectReview)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.automation.Status(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
	Limit    int    `json:"limit"`
}

func (s *Server) startAutomation(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	req := recorder.RunRequest{Trigger: recorder.TriggerManual, Limit: body.Limit}
	if body.FromDate != "" {
		from, err := time.Parse("2006-01-02", body.FromDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from_date must be YYYY-MM-DD")
			return
		}
		req.FromDate = &from
	}
	if body.ToDate != "" {
		to, err := time.Parse("2006-01-02", body.ToDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to_date must be YYYY-MM-DD")
			return
		}
		req.ToDate = &to
	}

	run, err := s.automation.RunAutomation(r.Context(), req)
	if err != nil {
		if errors.Is(err, recorder.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "automation run already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) stopAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.automation.StopAutomation(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrNoActiveRun) {
			writeError(w, http.StatusConflict, "no automation run in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) automationStatus(w http.ResponseWriter, r *http.Request) {
	running, latest, err := s.automation.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := map[string]any{"is_running": running}
	if latest.ID != 0 {
		payload["latest_run"] = latest
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	schedule, err := s.automation.ScheduleInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": schedule})
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var schedule recorder.Schedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.automation.UpdateSchedule(r.Context(), schedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedule": schedule})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	runs, err := s.automation.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) listCountyRuns(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || runID <= 0 {
		writeError(w, http.StatusBadRequest, "run id must be a positive integer")
		return
	}
	countyRuns, err := s.automation.ListCountyRuns(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"county_runs": countyRuns})
}

func (s *Server) listReview(w http.ResponseWriter, r *http.Request) {
	held, err := s.automation.ListReview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": held})
}

func (s *Server) approveReview(w http.ResponseWriter, r *http.Request) {
	n, err := s.automation.ApproveReview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requeued": n})
}

func (s *Server) rejectReview(w http.ResponseWriter, r *http.Request) {
	n, err := s.automation.RejectReview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// getPdf serves stored PDF bytes. When the id is unknown and the caller
// supplies a recording-number hint, a just-in-time redownload is attempted
// and the request redirected to the fresh id.
func (s *Server) getPdf(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	content, meta, err := s.pdfs.Get(r.Context(), id)
	if err == nil {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", meta.Filename))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(content); err != nil {
			s.logger.Warn("write pdf response", zap.Error(err))
		}
		return
	}
	if !errors.Is(err, recorder.ErrNotFound) && !errors.Is(err, recorder.ErrPdfExpired) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hint := r.URL.Query().Get("recording_number")
	if hint == "" {
		writeError(w, http.StatusNotFound, "pdf not found")
		return
	}
	stored, err := s.pdfs.Redownload(r.Context(), hint)
	if err != nil {
		s.logger.Warn("redownload failed",
			zap.String("recording_number", hint),
			zap.Error(err),
		)
		writeError(w, http.StatusNotFound, "pdf not found")
		return
	}
	http.Redirect(w, r, "/pdf/"+stored.ID, http.StatusFound)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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
