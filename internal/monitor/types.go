// Package monitor defines the core domain types and collaborator
// interfaces shared by the crawl, analysis and dispatch pipelines.
package monitor

import (
	"encoding/json"
	"time"
)

// NotificationType identifies the kind of report a notification sends.
type NotificationType string

// Notification types.
const (
	TypeBugs          NotificationType = "bugs"
	TypeWeeklyReport  NotificationType = "weekly_report"
	TypeMonthlyReport NotificationType = "monthly_report"
)

// IsReport reports whether the type is one of the report kinds, as opposed
// to a bug alert. Monthly postponement only applies to report kinds.
func (t NotificationType) IsReport() bool {
	return t == TypeWeeklyReport || t == TypeMonthlyReport
}

// Frequency buckets used to select due notifications at each trigger.
type Frequency string

// Dispatch frequencies.
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ServerState is the liveness verdict of a server probe.
type ServerState string

// Server states.
const (
	ServerActive   ServerState = "active"
	ServerInactive ServerState = "inactive"
)

// Project is a monitored customer website. Identity fields are owned by the
// external CRUD layer; the analysis fields (HealthScore, Performance,
// BrokenLinks, ServerStatus, Alerts) are written only by the analyzer, as
// one group.
type Project struct {
	ID          int64
	CustomerID  int64
	Domain      string
	URL         string
	Status      string
	HealthScore int
	Performance *PerformanceSnapshot
	BrokenLinks []BrokenLink
	ServerStat  *ServerStatus
	Alerts      []Alert
	TrafficData json.RawMessage
}

// Customer owns projects. OwnerID is the admin user whose company settings
// (logo, support/alert emails) decorate this customer's reports.
type Customer struct {
	ID      int64
	Name    string
	Email   string
	OwnerID int64
	APIKeys json.RawMessage
}

// Alert is a condition raised by an analysis run. The alert list on a
// project is fully replaced on every run, never appended to.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Count     int       `json:"count,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BrokenLink records one in-origin hyperlink that failed its probe.
// Status 0 means the probe failed at the network level.
type BrokenLink struct {
	URL       string    `json:"url"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	CheckedAt time.Time `json:"checkedAt"`
}

// PerformanceSnapshot is a normalized audit result. A nil snapshot means
// the audit API could not be reached; it is distinct from a zero score.
type PerformanceSnapshot struct {
	Score             int       `json:"score"`
	Performance       int       `json:"performance"`
	Accessibility     int       `json:"accessibility"`
	BestPractices     int       `json:"bestPractices"`
	SEO               int       `json:"seo"`
	LoadTime          int       `json:"loadTime"`
	TimeToInteractive int       `json:"timeToInteractive"`
	TotalBlockingTime int       `json:"totalBlockingTime"`
	PageSizeKB        int       `json:"pageSize"`
	Timestamp         time.Time `json:"timestamp"`
}

// ServerStatus is a single liveness/latency check result.
type ServerStatus struct {
	Status       ServerState `json:"status"`
	ResponseTime int64       `json:"responseTime"`
	HTTPStatus   int         `json:"httpStatus"`
	Error        string      `json:"error,omitempty"`
	CheckedAt    time.Time   `json:"checkedAt"`
}

// AnalysisResult is the group of fields persisted atomically after an
// analysis run.
type AnalysisResult struct {
	HealthScore  int
	Performance  *PerformanceSnapshot
	BrokenLinks  []BrokenLink
	ServerStatus *ServerStatus
	Alerts       []Alert
}

// NotificationConfig is a stored preference controlling whether, how often
// and to whom a report type is mailed for a project. One exists per
// (project, type); the dispatcher only reads them.
type NotificationConfig struct {
	ID         int64
	ProjectID  int64
	Type       NotificationType
	Frequency  Frequency
	Enabled    bool
	Recipients json.RawMessage
	Settings   json.RawMessage
}

// DueNotification is a notification config joined to its project, customer
// and the owning admin, as returned by the store for a due bucket.
type DueNotification struct {
	Config   NotificationConfig
	Project  Project
	Customer Customer
}

// ReportTemplate holds the stored HTML/CSS for one report type. When no row
// exists for a type the renderer substitutes a built-in default.
type ReportTemplate struct {
	Type         NotificationType
	HTMLTemplate string
	CSSStyles    string
}

// CompanySettings are the per-admin branding and routing settings injected
// into the render context and used to pick sender/alert addresses.
type CompanySettings struct {
	CompanyName    string
	CompanyEmail   string
	CompanyPhone   string
	CompanyAddress string
	LogoURL        string
	SupportEmail   string
	AlertEmail     string
}

// ParseRecipients decodes the stored recipients column, which may be a JSON
// array of strings or empty. Unparseable values yield an empty list rather
// than an error; a notification with no recipients is skipped, not fatal.
func (n NotificationConfig) ParseRecipients() []string {
	if len(n.Recipients) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(n.Recipients, &out); err != nil {
		return nil
	}
	filtered := out[:0]
	for _, r := range out {
		if r != "" {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
