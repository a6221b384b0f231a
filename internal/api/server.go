// Package api exposes the HTTP interface for the monitoring service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/analyzer"
	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/monitor"
)

// AnalysisTrigger starts a background analysis for a project.
type AnalysisTrigger interface {
	Trigger(projectID int64) *analyzer.Task
}

// NotificationSender delivers one notification immediately.
type NotificationSender interface {
	Send(ctx context.Context, item monitor.DueNotification, useAlertEmailForBugs bool) error
}

// Server wires HTTP handlers to the analyzer, dispatcher and store.
type Server struct {
	router   chi.Router
	store    monitor.Store
	analyzer AnalysisTrigger
	sender   NotificationSender
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store monitor.Store,
	trigger AnalysisTrigger,
	sender NotificationSender,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:    store,
		analyzer: trigger,
		sender:   sender,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects/{project_id}", func(r chi.Router) {
			r.Post("/analyze", s.analyzeProject)
			r.Post("/notifications/send", s.sendNotification)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// analyzeProject starts an analysis and returns immediately. A request for
// a project with a run already in flight joins that run instead of
// starting a second one.
func (s *Server) analyzeProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}
	s.analyzer.Trigger(projectID)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"project_id": projectID,
		"status":     "analysis_started",
	})
}

type sendNotificationRequest struct {
	Type       string   `json:"type"`
	Recipients []string `json:"recipients"`
	// UseAlertEmail keeps the scheduled-send redirect for bug notifications.
	// Omitting it keeps the redirect; manual senders pass false to opt out.
	UseAlertEmail *bool `json:"use_alert_email"`
}

// sendNotification mails one report immediately from the latest persisted
// snapshot, outside the cron schedule.
func (s *Server) sendNotification(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.projectID(w, r)
	if !ok {
		return
	}

	var req sendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	notificationType := monitor.NotificationType(req.Type)
	switch notificationType {
	case monitor.TypeBugs, monitor.TypeWeeklyReport, monitor.TypeMonthlyReport:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown notification type")
		return
	}
	if len(req.Recipients) == 0 {
		s.writeError(w, http.StatusBadRequest, "recipients required")
		return
	}

	project, customer, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}

	recipients, err := json.Marshal(req.Recipients)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid recipients")
		return
	}
	item := monitor.DueNotification{
		Config: monitor.NotificationConfig{
			ProjectID:  projectID,
			Type:       notificationType,
			Enabled:    true,
			Recipients: recipients,
		},
		Project:  *project,
		Customer: *customer,
	}

	useAlertEmail := true
	if req.UseAlertEmail != nil {
		useAlertEmail = *req.UseAlertEmail
	}
	if err := s.sender.Send(r.Context(), item, useAlertEmail); err != nil {
		s.writeError(w, http.StatusBadGateway, "notification send failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"type":       req.Type,
		"status":     "sent",
	})
}

func (s *Server) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "project_id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid project id")
		return 0, false
	}
	return id, true
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
					logger.Error("panic recovered", zap.Any("panic", rec))
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
