package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/monitor"
)

// defaultCSS styles the built-in templates.
const defaultCSS = `
body { margin: 0; font-family: Arial, Helvetica, sans-serif; color: #222; background: #f4f5f7; }
.container { max-width: 640px; margin: 0 auto; background: #ffffff; }
.header { background: #1f2a44; color: #ffffff; padding: 24px; text-align: center; }
.content { padding: 24px; }
.score { font-size: 42px; font-weight: bold; color: #1f2a44; }
.alert-row { border-left: 4px solid #d9534f; padding: 8px 12px; margin: 8px 0; background: #fdf3f2; }
.footer { padding: 16px 24px; font-size: 12px; color: #888; text-align: center; }
`

const defaultBugsTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div class="container">
  <div class="header">
    {{company.logo}}
    <h1>Bug report for {{project.domain}}</h1>
  </div>
  <div class="content">
    <p>Hello {{customer.name}},</p>
    <p>The following issues were detected on <a href="{{project.url}}">{{project.domain}}</a>:</p>
    {{#alerts}}
    <div class="alert-row"><strong>{{message}}</strong><br><small>{{date}}</small></div>
    {{/alerts}}
    <p>Current health score: <span class="score">{{project.health_score}}</span>/100</p>
  </div>
  <div class="footer">
    {{#company.name}}{{company.name}}{{/company.name}}{{#company.email}} &middot; {{company.email}}{{/company.email}}{{#company.phone}} &middot; {{company.phone}}{{/company.phone}}
  </div>
</div>
</body>
</html>`

const defaultWeeklyTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div class="container">
  <div class="header">
    {{company.logo}}
    <h1>Weekly report — {{project.domain}}</h1>
  </div>
  <div class="content">
    <p>Hello {{customer.name}},</p>
    <p>Here is this week's summary for <a href="{{project.url}}">{{project.domain}}</a>.</p>
    <p>Health score: <span class="score">{{project.health_score}}</span>/100</p>
    <p>Performance score: {{performance.score}}/100 &middot; load time {{performance.loadTime}}s</p>
    <p>Traffic: {{traffic.visitors}} visitors, {{traffic.pageviews}} page views</p>
    {{#alerts}}
    <div class="alert-row">{{message}} <small>({{date}})</small></div>
    {{/alerts}}
  </div>
  <div class="footer">{{#company.name}}{{company.name}}{{/company.name}}{{#company.address}} &middot; {{company.address}}{{/company.address}}</div>
</div>
</body>
</html>`

const defaultMonthlyTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<div class="container">
  <div class="header">
    {{company.logo}}
    <h1>Monthly report — {{project.domain}}</h1>
  </div>
  <div class="content">
    <p>Hello {{customer.name}},</p>
    <p>Monthly overview for <a href="{{project.url}}">{{project.domain}}</a>.</p>
    <p>Health score: <span class="score">{{project.health_score}}</span>/100</p>
    <p>Performance: {{performance.score}}/100 &middot; load time {{performance.loadTime}}s</p>
    <p>Traffic: {{traffic.visitors}} visitors, {{traffic.pageviews}} page views</p>
    {{#alerts}}
    <div class="alert-row">{{message}} <small>({{date}})</small></div>
    {{/alerts}}
  </div>
  <div class="footer">{{#company.name}}{{company.name}}{{/company.name}}</div>
</div>
</body>
</html>`

// DefaultTemplate returns the built-in template for a notification type,
// used whenever no stored template exists.
func DefaultTemplate(t monitor.NotificationType) monitor.ReportTemplate {
	html := defaultMonthlyTemplate
	switch t {
	case monitor.TypeBugs:
		html = defaultBugsTemplate
	case monitor.TypeWeeklyReport:
		html = defaultWeeklyTemplate
	}
	return monitor.ReportTemplate{
		Type:         t,
		HTMLTemplate: html,
		CSSStyles:    defaultCSS,
	}
}

// Generator resolves the template for a type and renders it.
type Generator struct {
	store  monitor.Store
	logger *zap.Logger
	opts   Options
}

// NewGenerator builds a Generator.
func NewGenerator(store monitor.Store, logger *zap.Logger, opts Options) *Generator {
	return &Generator{store: store, logger: logger, opts: opts}
}

// Generate renders the report for one notification type. A missing or
// unreadable stored template degrades to the built-in default.
func (g *Generator) Generate(ctx context.Context, t monitor.NotificationType, rc Context) string {
	tmpl, err := g.store.GetTemplate(ctx, t)
	if err != nil {
		g.logger.Warn("load template failed, using default",
			zap.String("type", string(t)), zap.Error(err))
		tmpl = nil
	}
	if tmpl == nil {
		def := DefaultTemplate(t)
		tmpl = &def
	}
	return Render(tmpl.HTMLTemplate, tmpl.CSSStyles, rc, g.opts)
}
