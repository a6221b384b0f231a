package analyzer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/monitor"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubStore struct {
	mu       sync.Mutex
	project  *monitor.Project
	customer *monitor.Customer
	getErr   error
	updates  []monitor.AnalysisResult
}

func (s *stubStore) GetProject(_ context.Context, _ int64) (*monitor.Project, *monitor.Customer, error) {
	if s.getErr != nil {
		return nil, nil, s.getErr
	}
	return s.project, s.customer, nil
}

func (s *stubStore) UpdateProjectAnalysis(_ context.Context, _ int64, result monitor.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, result)
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

type stubLinks struct{ links []monitor.BrokenLink }

func (s stubLinks) CheckBrokenLinks(context.Context, string) []monitor.BrokenLink {
	return s.links
}

type stubPerf struct {
	snap   *monitor.PerformanceSnapshot
	gotKey string
}

func (s *stubPerf) Probe(_ context.Context, _ string, apiKey string) *monitor.PerformanceSnapshot {
	s.gotKey = apiKey
	return s.snap
}

type stubServer struct{ status *monitor.ServerStatus }

func (s stubServer) Probe(context.Context, string) *monitor.ServerStatus {
	return s.status
}

func active() *monitor.ServerStatus {
	return &monitor.ServerStatus{Status: monitor.ServerActive, HTTPStatus: 200}
}

func inactive() *monitor.ServerStatus {
	return &monitor.ServerStatus{Status: monitor.ServerInactive, HTTPStatus: 0, Error: "connection refused"}
}

func TestScoreStaysInRange(t *testing.T) {
	t.Parallel()

	snaps := []*monitor.PerformanceSnapshot{
		nil,
		{Score: 0, Performance: 0},
		{Score: 55, Performance: 40},
		{Score: 100, Performance: 100},
	}
	for _, snap := range snaps {
		for _, server := range []*monitor.ServerStatus{active(), inactive(), nil} {
			for _, brokenCount := range []int{0, 1, 10, 60, 500} {
				score := Score(snap, brokenCount, server)
				require.GreaterOrEqual(t, score, 0)
				require.LessOrEqual(t, score, 100)
			}
		}
	}
}

func TestScoreArithmetic(t *testing.T) {
	t.Parallel()

	// No audit: baseline 100.
	require.Equal(t, 100, Score(nil, 0, active()))
	// 3 broken links off the baseline.
	require.Equal(t, 94, Score(nil, 3, active()))
	// Inactive server costs a flat 20.
	require.Equal(t, 80, Score(nil, 0, inactive()))
	// Audit composite as baseline.
	require.Equal(t, 70, Score(&monitor.PerformanceSnapshot{Score: 70}, 0, active()))
	// Combined, clamped at zero.
	require.Equal(t, 0, Score(&monitor.PerformanceSnapshot{Score: 10}, 30, inactive()))
}

func TestBuildAlerts(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	broken := []monitor.BrokenLink{{URL: "https://x.com/a"}, {URL: "https://x.com/b"}}
	perf := &monitor.PerformanceSnapshot{Score: 40, Performance: 35}

	alerts := buildAlerts(perf, broken, inactive(), now)
	require.Len(t, alerts, 3)
	require.Equal(t, "broken_links", alerts[0].Type)
	require.Equal(t, "high", alerts[0].Severity)
	require.Equal(t, 2, alerts[0].Count)
	require.Contains(t, alerts[0].Message, "2")
	require.Equal(t, "server_down", alerts[1].Type)
	require.Equal(t, "critical", alerts[1].Severity)
	require.Equal(t, "low_performance", alerts[2].Type)
	require.Equal(t, "medium", alerts[2].Severity)

	require.Empty(t, buildAlerts(&monitor.PerformanceSnapshot{Performance: 90}, nil, active(), now))
}

func newTestAnalyzer(store *stubStore, links monitor.LinkChecker, perf monitor.PerformanceProber, server monitor.ServerProber) *Analyzer {
	metrics.Init()
	return New(store, links, perf, server,
		fixedClock{t: time.Unix(1700000000, 0)}, zap.NewNop())
}

func TestAnalyzePersistsGroupWrite(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project: &monitor.Project{
			ID: 1, Domain: "x.com", URL: "https://x.com",
		},
		customer: &monitor.Customer{
			ID:      7,
			APIKeys: json.RawMessage(`[{"type":"pagespeed","key":"customer-key"}]`),
		},
	}
	perf := &stubPerf{snap: &monitor.PerformanceSnapshot{Score: 70, Performance: 42}}
	links := stubLinks{links: []monitor.BrokenLink{{URL: "https://x.com/dead", Status: 404}}}

	a := newTestAnalyzer(store, links, perf, stubServer{status: active()})

	result, err := a.Analyze(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, "customer-key", perf.gotKey)
	require.Equal(t, 68, result.HealthScore) // 70 - 2*1
	require.Len(t, store.updates, 1)
	require.Equal(t, *result, store.updates[0])

	// broken_links and low_performance alerts, no server_down.
	types := []string{}
	for _, al := range store.updates[0].Alerts {
		types = append(types, al.Type)
	}
	require.Equal(t, []string{"broken_links", "low_performance"}, types)
}

func TestAnalyzeWithoutAuditKeepsNilPerformance(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		project:  &monitor.Project{ID: 2, Domain: "y.com", URL: "https://y.com"},
		customer: &monitor.Customer{ID: 8},
	}
	a := newTestAnalyzer(store, stubLinks{}, &stubPerf{snap: nil}, stubServer{status: inactive()})

	result, err := a.Analyze(context.Background(), 2)
	require.NoError(t, err)

	require.Nil(t, result.Performance)
	require.Equal(t, 80, result.HealthScore) // 100 - 20
	require.Len(t, result.Alerts, 1)
	require.Equal(t, "server_down", result.Alerts[0].Type)
}

func TestTriggerDedupesInflightRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	store := &stubStore{
		project:  &monitor.Project{ID: 3, Domain: "z.com", URL: "https://z.com"},
		customer: &monitor.Customer{ID: 9},
	}
	blocking := blockingLinks{release: release}
	a := newTestAnalyzer(store, blocking, &stubPerf{}, stubServer{status: active()})

	first := a.Trigger(3)
	second := a.Trigger(3)
	require.Same(t, first, second)

	close(release)
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not finish")
	}
	require.NoError(t, first.Err())
	require.NotNil(t, first.Result())

	// A fresh trigger after completion starts a new task.
	third := a.Trigger(3)
	<-third.Done()
	require.NotSame(t, first, third)
}

type blockingLinks struct{ release chan struct{} }

func (b blockingLinks) CheckBrokenLinks(context.Context, string) []monitor.BrokenLink {
	<-b.release
	return nil
}

func TestPagespeedKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", pagespeedKey(nil))
	require.Equal(t, "", pagespeedKey(json.RawMessage(`not json`)))
	require.Equal(t, "", pagespeedKey(json.RawMessage(`[{"type":"maps","key":"x"}]`)))
	require.Equal(t, "abc",
		pagespeedKey(json.RawMessage(`[{"type":"maps","key":"x"},{"type":"pagespeed","key":"abc"}]`)))
}
