// Package metrics exposes Prometheus collectors for the monitoring service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analysesTotal           *prometheus.CounterVec
	analysisDurationSeconds *prometheus.HistogramVec
	brokenLinksFoundTotal   *prometheus.CounterVec
	healthScoreGauge        *prometheus.GaugeVec
	notificationsTotal      *prometheus.CounterVec
	dispatchDurationSeconds *prometheus.HistogramVec
	reportEmailsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_analyses_total",
				Help: "Total number of project analyses, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		analysisDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_analysis_duration_seconds",
				Help:    "Histogram of full analysis run durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"site"},
		)

		brokenLinksFoundTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_broken_links_found_total",
				Help: "Total broken links recorded, labeled by site.",
			},
			[]string{"site"},
		)

		healthScoreGauge = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitewatch_health_score",
				Help: "Latest computed health score per site.",
			},
			[]string{"site"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_notifications_total",
				Help: "Notification dispatch outcomes, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		dispatchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitewatch_dispatch_duration_seconds",
				Help:    "Histogram of dispatch batch durations per frequency bucket.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"frequency"},
		)

		reportEmailsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitewatch_report_emails_total",
				Help: "Individual report emails sent, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAnalysis records one analysis run.
func ObserveAnalysis(site, status string, score, brokenLinks int, duration time.Duration) {
	sanitized := SanitizeSite(site)
	analysesTotal.WithLabelValues(sanitized, status).Inc()
	analysisDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
	if status == "ok" {
		healthScoreGauge.WithLabelValues(sanitized).Set(float64(score))
	}
	if brokenLinks > 0 {
		brokenLinksFoundTotal.WithLabelValues(sanitized).Add(float64(brokenLinks))
	}
}

// ObserveNotification records the outcome of one notification.
func ObserveNotification(notificationType, status string) {
	notificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// ObserveDispatch records the duration of one dispatch batch.
func ObserveDispatch(frequency string, duration time.Duration) {
	dispatchDurationSeconds.WithLabelValues(frequency).Observe(duration.Seconds())
}

// ObserveReportEmail records one recipient-level send outcome.
func ObserveReportEmail(outcome string) {
	reportEmailsTotal.WithLabelValues(outcome).Inc()
}
