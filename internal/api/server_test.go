package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/analyzer"
	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/monitor"
)

type stubStore struct {
	project  *monitor.Project
	customer *monitor.Customer
	err      error
}

func (s *stubStore) GetProject(context.Context, int64) (*monitor.Project, *monitor.Customer, error) {
	return s.project, s.customer, s.err
}

func (s *stubStore) UpdateProjectAnalysis(context.Context, int64, monitor.AnalysisResult) error {
	return nil
}

func (s *stubStore) ListDueNotifications(context.Context, monitor.NotificationType, monitor.Frequency) ([]monitor.DueNotification, error) {
	return nil, nil
}

func (s *stubStore) GetTemplate(context.Context, monitor.NotificationType) (*monitor.ReportTemplate, error) {
	return nil, nil
}

func (s *stubStore) GetCompanySettingsForOwner(context.Context, int64) (*monitor.CompanySettings, error) {
	return nil, nil
}

type stubTrigger struct {
	triggered []int64
}

func (t *stubTrigger) Trigger(projectID int64) *analyzer.Task {
	t.triggered = append(t.triggered, projectID)
	return nil
}

type stubSender struct {
	items         []monitor.DueNotification
	useAlertEmail []bool
	err           error
}

func (s *stubSender) Send(_ context.Context, item monitor.DueNotification, useAlertEmailForBugs bool) error {
	s.items = append(s.items, item)
	s.useAlertEmail = append(s.useAlertEmail, useAlertEmailForBugs)
	return s.err
}

func newTestServer(store *stubStore, trigger *stubTrigger, sender *stubSender) *Server {
	metrics.Init()
	return NewServer(store, trigger, sender, zap.NewNop())
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubStore{}, &stubTrigger{}, &stubSender{})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&stubStore{}, &stubTrigger{}, &stubSender{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzeProjectAccepted(t *testing.T) {
	t.Parallel()

	trigger := &stubTrigger{}
	srv := newTestServer(&stubStore{}, trigger, &stubSender{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest(http.MethodPost, "/v1/projects/7/analyze", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []int64{7}, trigger.triggered)
	require.Contains(t, rec.Body.String(), "analysis_started")
}

func TestAnalyzeProjectRejectsBadID(t *testing.T) {
	t.Parallel()

	trigger := &stubTrigger{}
	srv := newTestServer(&stubStore{}, trigger, &stubSender{})

	for _, id := range []string{"abc", "-4", "0"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/v1/projects/"+id+"/analyze", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, id)
	}
	require.Empty(t, trigger.triggered)
}

func TestSendNotification(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project:  &monitor.Project{ID: 7, Domain: "x.com", URL: "https://x.com"},
		customer: &monitor.Customer{ID: 3, Name: "Jane", OwnerID: 9},
	}
	sender := &stubSender{}
	srv := newTestServer(store, &stubTrigger{}, sender)

	body := `{"type": "bugs", "recipients": ["a@x.com"], "use_alert_email": false}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/projects/7/notifications/send", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sender.items, 1)

	item := sender.items[0]
	require.Equal(t, monitor.TypeBugs, item.Config.Type)
	require.Equal(t, []string{"a@x.com"}, item.Config.ParseRecipients())
	require.Equal(t, "x.com", item.Project.Domain)
	require.Equal(t, int64(9), item.Customer.OwnerID)
	require.Equal(t, []bool{false}, sender.useAlertEmail)
}

func TestSendNotificationDefaultsToAlertRedirect(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project:  &monitor.Project{ID: 7, Domain: "x.com"},
		customer: &monitor.Customer{ID: 3},
	}
	sender := &stubSender{}
	srv := newTestServer(store, &stubTrigger{}, sender)

	body := `{"type": "weekly_report", "recipients": ["a@x.com"]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/projects/7/notifications/send", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []bool{true}, sender.useAlertEmail)
}

func TestSendNotificationValidation(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project:  &monitor.Project{ID: 7},
		customer: &monitor.Customer{ID: 3},
	}
	srv := newTestServer(store, &stubTrigger{}, &stubSender{})

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown type", `{"type": "pager", "recipients": ["a@x.com"]}`},
		{"no recipients", `{"type": "bugs", "recipients": []}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(
			http.MethodPost, "/v1/projects/7/notifications/send", strings.NewReader(tc.body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}

func TestSendNotificationUnknownProject(t *testing.T) {
	t.Parallel()

	store := &stubStore{err: errors.New("no such project")}
	srv := newTestServer(store, &stubTrigger{}, &stubSender{})

	body := `{"type": "bugs", "recipients": ["a@x.com"]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/projects/99/notifications/send", strings.NewReader(body)))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendNotificationSenderFailure(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project:  &monitor.Project{ID: 7, Domain: "x.com"},
		customer: &monitor.Customer{ID: 3},
	}
	srv := newTestServer(store, &stubTrigger{}, &stubSender{err: errors.New("smtp down")})

	body := `{"type": "bugs", "recipients": ["a@x.com"]}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodPost, "/v1/projects/7/notifications/send", strings.NewReader(body)))

	require.Equal(t, http.StatusBadGateway, rec.Code)
}
