// Package analyzer runs the health analysis pipeline for a project: probe
// performance, crawl for broken links, check the server, derive a score and
// alerts, and persist the snapshot as one group write.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/monitor"
)

// Analyzer coordinates the three probers and the snapshot write. It is the
// sole writer of a project's analysis fields; a keyed lock serializes
// overlapping runs for the same project.
type Analyzer struct {
	store  monitor.Store
	links  monitor.LinkChecker
	perf   monitor.PerformanceProber
	server monitor.ServerProber
	clock  monitor.Clock
	logger *zap.Logger

	mu       sync.Mutex
	locks    map[int64]*sync.Mutex
	inflight map[int64]*Task
}

// New builds an Analyzer.
func New(
	store monitor.Store,
	links monitor.LinkChecker,
	perf monitor.PerformanceProber,
	server monitor.ServerProber,
	clock monitor.Clock,
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		store:    store,
		links:    links,
		perf:     perf,
		server:   server,
		clock:    clock,
		logger:   logger,
		locks:    make(map[int64]*sync.Mutex),
		inflight: make(map[int64]*Task),
	}
}

// Task is a handle on an in-flight analysis. Callers that trigger
// fire-and-forget can still await, inspect or cancel it.
type Task struct {
	ProjectID int64

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result *monitor.AnalysisResult
	err    error
}

// Done is closed when the analysis finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel aborts the underlying run.
func (t *Task) Cancel() { t.cancel() }

// Err returns the terminal error, valid after Done is closed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Result returns the analysis result, valid after Done is closed.
func (t *Task) Result() *monitor.AnalysisResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Trigger starts an analysis in the background and returns its handle.
// A second trigger for a project with a run still in flight returns the
// existing handle instead of starting a duplicate.
func (a *Analyzer) Trigger(projectID int64) *Task {
	a.mu.Lock()
	if existing, ok := a.inflight[projectID]; ok {
		a.mu.Unlock()
		return existing
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ProjectID: projectID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.inflight[projectID] = task
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.inflight, projectID)
			a.mu.Unlock()
			cancel()
			close(task.done)
		}()
		result, err := a.Analyze(ctx, projectID)
		task.mu.Lock()
		task.result, task.err = result, err
		task.mu.Unlock()
	}()
	return task
}

// Analyze runs the full pipeline for one project and persists the result.
func (a *Analyzer) Analyze(ctx context.Context, projectID int64) (*monitor.AnalysisResult, error) {
	unlock := a.lockProject(projectID)
	defer unlock()

	start := time.Now()

	project, customer, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		metrics.ObserveAnalysis("unknown", "error", 0, 0, time.Since(start))
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}

	a.logger.Info("analyzing project",
		zap.Int64("project_id", projectID),
		zap.String("domain", project.Domain),
		zap.String("url", project.URL))

	perf := a.perf.Probe(ctx, project.URL, pagespeedKey(customer.APIKeys))
	broken := a.links.CheckBrokenLinks(ctx, project.URL)
	server := a.server.Probe(ctx, project.URL)

	now := a.clock.Now()
	result := monitor.AnalysisResult{
		HealthScore:  Score(perf, len(broken), server),
		Performance:  perf,
		BrokenLinks:  broken,
		ServerStatus: server,
		Alerts:       buildAlerts(perf, broken, server, now),
	}

	if err := a.store.UpdateProjectAnalysis(ctx, projectID, result); err != nil {
		metrics.ObserveAnalysis(project.URL, "error", 0, 0, time.Since(start))
		return nil, fmt.Errorf("persist analysis for project %d: %w", projectID, err)
	}

	metrics.ObserveAnalysis(project.URL, "ok",
		result.HealthScore, len(broken), time.Since(start))
	a.logger.Info("project analyzed",
		zap.Int64("project_id", projectID),
		zap.String("domain", project.Domain),
		zap.Int("health_score", result.HealthScore),
		zap.Int("broken_links", len(broken)))

	return &result, nil
}

// lockProject acquires the per-project mutex, creating it on first use.
func (a *Analyzer) lockProject(projectID int64) func() {
	a.mu.Lock()
	lock, ok := a.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[projectID] = lock
	}
	a.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Score derives the health score. Baseline is the performance composite, or
// 100 without an audit; 2 points per broken link and a flat 20 for an
// inactive server are subtracted, clamping to [0,100] after each step.
func Score(perf *monitor.PerformanceSnapshot, brokenCount int, server *monitor.ServerStatus) int {
	score := 100
	if perf != nil {
		score = clamp(perf.Score)
	}
	if brokenCount > 0 {
		score = clamp(score - brokenCount*2)
	}
	if server == nil || server.Status != monitor.ServerActive {
		score = clamp(score - 20)
	}
	return score
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// buildAlerts derives the alert list for one run. The list fully replaces
// whatever the previous run stored.
func buildAlerts(
	perf *monitor.PerformanceSnapshot,
	broken []monitor.BrokenLink,
	server *monitor.ServerStatus,
	now time.Time,
) []monitor.Alert {
	alerts := []monitor.Alert{}
	if len(broken) > 0 {
		alerts = append(alerts, monitor.Alert{
			Type:      "broken_links",
			Message:   fmt.Sprintf("%d broken link(s) detected", len(broken)),
			Severity:  "high",
			Count:     len(broken),
			CreatedAt: now,
		})
	}
	if server == nil || server.Status != monitor.ServerActive {
		alerts = append(alerts, monitor.Alert{
			Type:      "server_down",
			Message:   "Server unreachable",
			Severity:  "critical",
			CreatedAt: now,
		})
	}
	if perf != nil && perf.Performance < 50 {
		alerts = append(alerts, monitor.Alert{
			Type:      "low_performance",
			Message:   fmt.Sprintf("Low performance (%d/100)", perf.Performance),
			Severity:  "medium",
			CreatedAt: now,
		})
	}
	return alerts
}

// pagespeedKey extracts a per-customer audit API key from the stored
// api_keys JSON, an array of {type, key} objects.
func pagespeedKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var keys []struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return ""
	}
	for _, k := range keys {
		if k.Type == "pagespeed" && k.Key != "" {
			return k.Key
		}
	}
	return ""
}
