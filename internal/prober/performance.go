// Package prober implements the external probes used by the analyzer: a
// Lighthouse-style performance audit and a single-request server check.
package prober

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/monitor"
)

// AuditConfig controls the performance audit client.
type AuditConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Performance implements monitor.PerformanceProber against a PageSpeed-style
// audit API.
type Performance struct {
	cfg    AuditConfig
	client *http.Client
	clock  monitor.Clock
	logger *zap.Logger
}

// NewPerformance builds a Performance prober.
func NewPerformance(cfg AuditConfig, clock monitor.Clock, logger *zap.Logger) *Performance {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Performance{
		cfg:    cfg,
		client: &http.Client{},
		clock:  clock,
		logger: logger,
	}
}

// auditResponse mirrors the subset of the audit API payload we consume.
type auditResponse struct {
	LighthouseResult struct {
		Categories map[string]struct {
			Score *float64 `json:"score"`
		} `json:"categories"`
		Audits map[string]struct {
			NumericValue *float64 `json:"numericValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// Probe runs a mobile-strategy audit for pageURL. apiKey overrides the
// global key when non-empty; with neither key the audit is skipped. Every
// failure path returns nil, which callers must keep distinct from a real
// zero score.
func (p *Performance) Probe(ctx context.Context, pageURL, apiKey string) *monitor.PerformanceSnapshot {
	key := apiKey
	if key == "" {
		key = p.cfg.APIKey
	}
	if key == "" {
		p.logger.Warn("audit api key not configured, skipping performance probe")
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("key", key)
	params.Set("strategy", "mobile")
	params.Set("category", "performance,accessibility,best-practices,seo")

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		p.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		p.logger.Warn("build audit request failed", zap.Error(err))
		return nil
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("audit request failed",
			zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close() //nolint:errcheck // response fully consumed

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("audit returned non-200",
			zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
		return nil
	}

	var payload auditResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		p.logger.Warn("decode audit payload failed", zap.Error(err))
		return nil
	}
	if len(payload.LighthouseResult.Categories) == 0 {
		p.logger.Warn("audit payload missing categories", zap.String("url", pageURL))
		return nil
	}

	snap := p.normalize(payload)
	snap.Timestamp = p.clock.Now()
	return snap
}

// normalize converts [0,1] category scores to integer percentages and the
// raw audit metrics to report units.
func (p *Performance) normalize(payload auditResponse) *monitor.PerformanceSnapshot {
	category := func(name string) int {
		c, ok := payload.LighthouseResult.Categories[name]
		if !ok || c.Score == nil {
			return 0
		}
		return int(math.Round(*c.Score * 100))
	}
	audit := func(name string) float64 {
		a, ok := payload.LighthouseResult.Audits[name]
		if !ok || a.NumericValue == nil {
			return 0
		}
		return *a.NumericValue
	}

	perf := category("performance")
	access := category("accessibility")
	best := category("best-practices")
	seo := category("seo")

	composite := int(math.Round(
		float64(perf)*0.4 + float64(access)*0.2 + float64(best)*0.2 + float64(seo)*0.2))

	return &monitor.PerformanceSnapshot{
		Score:             composite,
		Performance:       perf,
		Accessibility:     access,
		BestPractices:     best,
		SEO:               seo,
		LoadTime:          int(math.Round(audit("first-contentful-paint") / 1000)),
		TimeToInteractive: int(math.Round(audit("interactive") / 1000)),
		TotalBlockingTime: int(math.Round(audit("total-blocking-time"))),
		PageSizeKB:        int(math.Round(audit("total-byte-weight") / 1024)),
	}
}

var _ monitor.PerformanceProber = (*Performance)(nil)
