package monitor

import (
	"context"
	"time"
)

// Clock abstracts time.Now so schedule arithmetic is testable.
type Clock interface {
	Now() time.Time
}

// Store is the persistence collaborator. The CRUD surface that creates
// projects, customers and notification configs lives outside this module;
// the pipelines only need the operations below.
type Store interface {
	// GetProject loads a project with its owning customer.
	GetProject(ctx context.Context, id int64) (*Project, *Customer, error)
	// UpdateProjectAnalysis writes the analysis field group in one statement.
	UpdateProjectAnalysis(ctx context.Context, id int64, result AnalysisResult) error
	// ListDueNotifications returns enabled configs matching exactly the
	// given (type, frequency) pair, joined to project, customer and owner.
	ListDueNotifications(ctx context.Context, t NotificationType, f Frequency) ([]DueNotification, error)
	// GetTemplate returns the stored template for a type, or nil when absent.
	GetTemplate(ctx context.Context, t NotificationType) (*ReportTemplate, error)
	// GetCompanySettingsForOwner returns the admin's settings, or nil.
	GetCompanySettingsForOwner(ctx context.Context, ownerID int64) (*CompanySettings, error)
}

// Mailer delivers a single message. Implementations must be safe for
// concurrent use; the dispatcher fans out over recipients.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html, from string) error
}

// LinkChecker probes a page for broken in-origin hyperlinks.
type LinkChecker interface {
	CheckBrokenLinks(ctx context.Context, pageURL string) []BrokenLink
}

// PerformanceProber runs an external audit for a URL. A nil snapshot with a
// nil error means the audit was unavailable (missing key, timeout, bad
// payload); callers must not treat it as a zero score.
type PerformanceProber interface {
	Probe(ctx context.Context, pageURL, apiKey string) *PerformanceSnapshot
}

// ServerProber performs a single liveness/latency check.
type ServerProber interface {
	Probe(ctx context.Context, pageURL string) *ServerStatus
}
