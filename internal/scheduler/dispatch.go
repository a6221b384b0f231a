// Package scheduler dispatches notification emails on cron triggers
// evaluated in a fixed reference timezone, independent of the host clock.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/weboost/sitewatch/internal/metrics"
	"github.com/weboost/sitewatch/internal/monitor"
	"github.com/weboost/sitewatch/internal/report"
)

// defaultSenderName labels the From header when the owning admin has a
// support address but no company name on file.
const defaultSenderName = "SiteWatch"

// allTypes is the dispatch order within one frequency bucket.
var allTypes = []monitor.NotificationType{
	monitor.TypeBugs,
	monitor.TypeWeeklyReport,
	monitor.TypeMonthlyReport,
}

// Dispatcher selects due notifications for a (type, frequency) bucket,
// renders each report from the latest persisted snapshot and mails it.
// It never triggers a fresh analysis.
type Dispatcher struct {
	store   monitor.Store
	mailer  monitor.Mailer
	reports *report.Generator
	clock   monitor.Clock
	loc     *time.Location
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher. loc is the reference timezone for all
// calendar decisions (day-of-month, weekday).
func NewDispatcher(
	store monitor.Store,
	mailer monitor.Mailer,
	reports *report.Generator,
	clock monitor.Clock,
	loc *time.Location,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:   store,
		mailer:  mailer,
		reports: reports,
		clock:   clock,
		loc:     loc,
		logger:  logger,
	}
}

// RunDaily dispatches every type in the daily frequency bucket.
func (d *Dispatcher) RunDaily(ctx context.Context) {
	d.runBuckets(ctx, monitor.FrequencyDaily, allTypes)
}

// RunWeekly dispatches every type in the weekly frequency bucket.
func (d *Dispatcher) RunWeekly(ctx context.Context) {
	d.runBuckets(ctx, monitor.FrequencyWeekly, allTypes)
}

// RunMonthlyCheck runs the daily monthly-dispatch decision. On the 1st,
// bug notifications always go out; report types are withheld when the 1st
// is a Saturday and recovered on the following Sunday the 2nd. There is no
// persisted withheld flag, the recovery is pure date arithmetic.
func (d *Dispatcher) RunMonthlyCheck(ctx context.Context) {
	now := d.clock.Now().In(d.loc)

	switch {
	case now.Day() == 1:
		d.runBuckets(ctx, monitor.FrequencyMonthly,
			[]monitor.NotificationType{monitor.TypeBugs})
		if now.Weekday() == time.Saturday {
			d.logger.Info("monthly reports withheld until Sunday",
				zap.Time("now", now))
			return
		}
		d.runBuckets(ctx, monitor.FrequencyMonthly,
			[]monitor.NotificationType{monitor.TypeWeeklyReport, monitor.TypeMonthlyReport})

	case now.Day() == 2 && now.Weekday() == time.Sunday:
		yesterday := now.AddDate(0, 0, -1)
		if yesterday.Day() == 1 && yesterday.Weekday() == time.Saturday {
			d.logger.Info("dispatching withheld monthly reports",
				zap.Time("now", now))
			d.runBuckets(ctx, monitor.FrequencyMonthly,
				[]monitor.NotificationType{monitor.TypeWeeklyReport, monitor.TypeMonthlyReport})
		}
	}
}

// runBuckets dispatches the given types for one frequency. Each bucket and
// each notification is isolated: failures are logged and the batch goes on.
func (d *Dispatcher) runBuckets(ctx context.Context, f monitor.Frequency, types []monitor.NotificationType) {
	start := d.clock.Now()
	for _, t := range types {
		d.dispatchBucket(ctx, t, f)
	}
	metrics.ObserveDispatch(string(f), d.clock.Now().Sub(start))
}

func (d *Dispatcher) dispatchBucket(ctx context.Context, t monitor.NotificationType, f monitor.Frequency) {
	due, err := d.store.ListDueNotifications(ctx, t, f)
	if err != nil {
		d.logger.Error("list due notifications failed",
			zap.String("type", string(t)),
			zap.String("frequency", string(f)),
			zap.Error(err))
		return
	}
	if len(due) == 0 {
		d.logger.Debug("no due notifications",
			zap.String("type", string(t)),
			zap.String("frequency", string(f)))
		return
	}

	d.logger.Info("dispatching notifications",
		zap.String("type", string(t)),
		zap.String("frequency", string(f)),
		zap.Int("count", len(due)))

	for _, item := range due {
		d.sendIsolated(ctx, item)
	}
}

// sendIsolated runs one scheduled send, converting panics and errors into
// log lines so the batch continues.
func (d *Dispatcher) sendIsolated(ctx context.Context, item monitor.DueNotification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification send panicked",
				zap.String("domain", item.Project.Domain),
				zap.Any("panic", r))
			metrics.ObserveNotification(string(item.Config.Type), "failed")
		}
	}()

	if err := d.Send(ctx, item, true); err != nil {
		d.logger.Error("notification send failed",
			zap.String("domain", item.Project.Domain),
			zap.String("type", string(item.Config.Type)),
			zap.Error(err))
	}
}

// Send delivers one notification. useAlertEmailForBugs applies the
// scheduled-send redirect: a bug notification goes to the owning admin's
// alert address instead of the configured recipients when one is set.
// Manual/API-triggered sends pass false to keep the configured list.
func (d *Dispatcher) Send(ctx context.Context, item monitor.DueNotification, useAlertEmailForBugs bool) error {
	recipients := item.Config.ParseRecipients()
	if len(recipients) == 0 {
		d.logger.Warn("notification has no recipients, skipping",
			zap.String("domain", item.Project.Domain),
			zap.String("type", string(item.Config.Type)))
		metrics.ObserveNotification(string(item.Config.Type), "skipped")
		return nil
	}

	settings, err := d.store.GetCompanySettingsForOwner(ctx, item.Customer.OwnerID)
	if err != nil {
		d.logger.Warn("load company settings failed, rendering without branding",
			zap.Int64("owner_id", item.Customer.OwnerID),
			zap.Error(err))
		settings = nil
	}

	if item.Config.Type == monitor.TypeBugs && useAlertEmailForBugs &&
		settings != nil && settings.AlertEmail != "" {
		d.logger.Info("bug notification redirected to alert address",
			zap.String("domain", item.Project.Domain),
			zap.String("alert_email", settings.AlertEmail))
		recipients = []string{settings.AlertEmail}
	}

	subject := Subject(item.Config.Type, item.Project.Domain)
	from := senderAddress(settings)
	html := d.reports.Generate(ctx, item.Config.Type, renderContext(item, settings))
	text := plainText(item, subject)

	var g errgroup.Group
	for _, recipient := range recipients {
		g.Go(func() error {
			if err := d.mailer.Send(ctx, recipient, subject, text, html, from); err != nil {
				metrics.ObserveReportEmail("failed")
				return fmt.Errorf("send to %s: %w", recipient, err)
			}
			metrics.ObserveReportEmail("sent")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ObserveNotification(string(item.Config.Type), "failed")
		return err
	}

	metrics.ObserveNotification(string(item.Config.Type), "sent")
	d.logger.Info("notification sent",
		zap.String("domain", item.Project.Domain),
		zap.String("type", string(item.Config.Type)),
		zap.Int("recipients", len(recipients)))
	return nil
}

// Subject derives the mail subject from the notification type and domain.
func Subject(t monitor.NotificationType, domain string) string {
	switch t {
	case monitor.TypeBugs:
		return "Bug report - " + domain
	case monitor.TypeWeeklyReport:
		return "Weekly report - " + domain
	default:
		return "Monthly report - " + domain
	}
}

// senderAddress picks the From value: the owning admin's support address
// labeled with the company name when configured, else empty so the mailer
// falls back to the configured default sender.
func senderAddress(settings *monitor.CompanySettings) string {
	if settings == nil || settings.SupportEmail == "" {
		return ""
	}
	name := settings.CompanyName
	if name == "" {
		name = defaultSenderName
	}
	return fmt.Sprintf("%s <%s>", name, settings.SupportEmail)
}

// renderContext builds the template context from the project's latest
// persisted snapshot and the owning admin's branding settings.
func renderContext(item monitor.DueNotification, settings *monitor.CompanySettings) report.Context {
	// A project that has never been analyzed carries score 0; reports
	// treat that as the 100 baseline rather than rendering a blank score.
	health := item.Project.HealthScore
	if health == 0 {
		health = 100
	}
	rc := report.Context{
		Project: report.Project{
			Domain:      item.Project.Domain,
			URL:         item.Project.URL,
			Status:      item.Project.Status,
			HealthScore: health,
		},
		Customer: report.Customer{
			Name:  item.Customer.Name,
			Email: item.Customer.Email,
		},
	}

	if perf := item.Project.Performance; perf != nil {
		rc.Project.PerformanceData = &report.Performance{
			Score:    perf.Score,
			LoadTime: float64(perf.LoadTime),
		}
	}
	if traffic := parseTraffic(item.Project.TrafficData); traffic != nil {
		rc.Project.TrafficData = traffic
	}
	for _, alert := range item.Project.Alerts {
		row := report.Alert{Message: alert.Message}
		if !alert.CreatedAt.IsZero() {
			row.Date = alert.CreatedAt.Format("2006-01-02")
		}
		rc.Project.Alerts = append(rc.Project.Alerts, row)
	}
	if settings != nil {
		rc.Company = &report.Company{
			Name:    settings.CompanyName,
			Email:   settings.CompanyEmail,
			Phone:   settings.CompanyPhone,
			Address: settings.CompanyAddress,
			LogoURL: settings.LogoURL,
		}
	}
	return rc
}

func parseTraffic(raw json.RawMessage) *report.Traffic {
	if len(raw) == 0 {
		return nil
	}
	var t struct {
		Visitors  int `json:"visitors"`
		Pageviews int `json:"pageviews"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	return &report.Traffic{Visitors: t.Visitors, Pageviews: t.Pageviews}
}

// plainText is the text/plain alternative accompanying the HTML report.
func plainText(item monitor.DueNotification, subject string) string {
	return fmt.Sprintf(
		"Report for %s\nCustomer: %s\n\n%s\n\nSee the HTML version of this email for details.",
		item.Project.Domain, item.Customer.Name, subject)
}
