// Package report renders notification emails from stored (or built-in)
// HTML/CSS templates and a snapshot-derived context. The renderer is a pure
// function: identical inputs always produce identical output.
package report

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Context carries every value a template may reference.
type Context struct {
	Project     Project
	Customer    Customer
	Traffic     *Traffic
	Performance *Performance
	Alerts      []Alert
	Company     *Company
}

// Project is the snapshot view of a monitored site.
type Project struct {
	Domain          string
	URL             string
	Status          string
	HealthScore     int
	TrafficData     *Traffic
	PerformanceData *Performance
	Alerts          []Alert
}

// Customer identifies the report's audience.
type Customer struct {
	Name  string
	Email string
}

// Traffic is opaque visitor data accepted as input, never computed here.
type Traffic struct {
	Visitors  int
	Pageviews int
}

// Performance is the subset of the audit snapshot templates reference.
type Performance struct {
	Score    int
	LoadTime float64
}

// Alert is one row of the alerts loop. Message falls back to Title; Date
// falls back to CreatedAt, then to the rendering day.
type Alert struct {
	Message   string
	Title     string
	Date      string
	CreatedAt string
}

// Company is the per-admin branding block.
type Company struct {
	Name    string
	Email   string
	Phone   string
	Address string
	LogoURL string
}

// field resolves a conditional/scalar field name against the company block.
func (c *Company) field(name string) string {
	if c == nil {
		return ""
	}
	switch name {
	case "name":
		return c.Name
	case "email":
		return c.Email
	case "phone":
		return c.Phone
	case "address":
		return c.Address
	case "logo_url":
		return c.LogoURL
	default:
		return ""
	}
}

// Options control rendering behavior that is not part of the context.
type Options struct {
	// AllowSyntheticDefaults substitutes randomized placeholder values for
	// wholly absent performance data instead of zeros. Off by default; the
	// placeholders are customer-visible.
	AllowSyntheticDefaults bool
	// Now anchors the fallback alert date. The zero value means wall-clock.
	Now time.Time
	// Seed makes synthetic defaults reproducible. Zero seeds from Now.
	Seed int64
}

var (
	companyOpen = regexp.MustCompile(`\{\{#company\.(\w+)\}\}`)
	companyVar  = regexp.MustCompile(`\{\{company\.(\w+)\}\}`)
	alertsBlock = regexp.MustCompile(`(?s)\{\{#alerts\}\}(.*?)\{\{/alerts\}\}`)
)

// Render produces the final HTML for one report. The three phases run in
// order: company conditional blocks, the alerts loop, then scalar
// substitution; CSS is injected into the document head last.
func Render(html, css string, rc Context, opts Options) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := renderCompanyBlocks(html, rc.Company)
	out = renderAlertsLoop(out, alertRows(rc), now)
	out = renderScalars(out, rc, opts, now)
	out = injectCSS(out, css)
	return out
}

// renderCompanyBlocks keeps a {{#company.F}}...{{/company.F}} block iff the
// field is non-blank after trimming, substituting inner {{company.*}}
// placeholders. Open and close field names must match; an unmatched opener
// is left in place for the scalar phase to ignore.
func renderCompanyBlocks(s string, company *Company) string {
	var b strings.Builder
	for {
		loc := companyOpen.FindStringSubmatchIndex(s)
		if loc == nil {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:loc[0]])
		field := s[loc[2]:loc[3]]
		closeMarker := "{{/company." + field + "}}"
		idx := strings.Index(s[loc[1]:], closeMarker)
		if idx < 0 {
			b.WriteString(s[loc[0]:loc[1]])
			s = s[loc[1]:]
			continue
		}
		content := s[loc[1] : loc[1]+idx]
		s = s[loc[1]+idx+len(closeMarker):]

		if strings.TrimSpace(company.field(field)) == "" {
			continue
		}
		b.WriteString(companyVar.ReplaceAllStringFunc(content, func(m string) string {
			name := companyVar.FindStringSubmatch(m)[1]
			return company.field(name)
		}))
	}
	return b.String()
}

// alertRows picks the loop source: explicit context alerts, else the
// project snapshot's alerts.
func alertRows(rc Context) []Alert {
	if len(rc.Alerts) > 0 {
		return rc.Alerts
	}
	return rc.Project.Alerts
}

// renderAlertsLoop expands each {{#alerts}}...{{/alerts}} block once per
// alert. An empty list collapses the block to nothing.
func renderAlertsLoop(s string, alerts []Alert, now time.Time) string {
	return alertsBlock.ReplaceAllStringFunc(s, func(block string) string {
		content := alertsBlock.FindStringSubmatch(block)[1]
		if len(alerts) == 0 {
			return ""
		}
		var b strings.Builder
		for _, alert := range alerts {
			message := alert.Message
			if message == "" {
				message = alert.Title
			}
			date := alert.Date
			if date == "" {
				date = alert.CreatedAt
			}
			if date == "" {
				date = now.Format("2006-01-02")
			}
			row := strings.ReplaceAll(content, "{{message}}", message)
			row = strings.ReplaceAll(row, "{{date}}", date)
			b.WriteString(row)
		}
		return b.String()
	})
}

// renderScalars substitutes the remaining {{namespace.field}} placeholders.
func renderScalars(s string, rc Context, opts Options, now time.Time) string {
	replace := func(token, value string) {
		s = strings.ReplaceAll(s, token, value)
	}

	replace("{{project.domain}}", rc.Project.Domain)
	replace("{{project.url}}", rc.Project.URL)
	replace("{{project.health_score}}", intOrEmpty(rc.Project.HealthScore))
	replace("{{project.status}}", rc.Project.Status)

	replace("{{customer.name}}", rc.Customer.Name)
	replace("{{customer.email}}", rc.Customer.Email)

	traffic := rc.Traffic
	if traffic == nil {
		traffic = rc.Project.TrafficData
	}
	if traffic != nil {
		replace("{{traffic.visitors}}", intOrEmpty(traffic.Visitors))
		replace("{{traffic.pageviews}}", intOrEmpty(traffic.Pageviews))
	} else {
		replace("{{traffic.visitors}}", "0")
		replace("{{traffic.pageviews}}", "0")
	}

	perf := rc.Performance
	if perf == nil {
		perf = rc.Project.PerformanceData
	}
	switch {
	case perf != nil:
		replace("{{performance.score}}", intOrEmpty(perf.Score))
		replace("{{performance.loadTime}}", floatOrEmpty(perf.LoadTime))
	case opts.AllowSyntheticDefaults:
		score, loadTime := syntheticPerformance(opts, now)
		replace("{{performance.score}}", strconv.Itoa(score))
		replace("{{performance.loadTime}}", fmt.Sprintf("%.1f", loadTime))
	default:
		replace("{{performance.score}}", "0")
		replace("{{performance.loadTime}}", "0")
	}

	replace("{{company.name}}", rc.Company.field("name"))
	replace("{{company.email}}", rc.Company.field("email"))
	replace("{{company.phone}}", rc.Company.field("phone"))
	replace("{{company.address}}", rc.Company.field("address"))

	if logo := rc.Company.field("logo_url"); logo != "" {
		img := `<img src="` + logo + `" alt="Logo" style="max-width: 180px; ` +
			`max-height: 80px; height: auto; display: block; margin: 0 auto; ` +
			`background: rgba(255, 255, 255, 0.1); padding: 10px; border-radius: 8px;" />`
		replace("{{company.logo}}", img)
	} else {
		replace("{{company.logo}}", "")
	}

	return s
}

// syntheticPerformance generates the opt-in "never show zero" placeholder:
// a score in [90,100] and a load time in [1.0,3.0] seconds.
func syntheticPerformance(opts Options, now time.Time) (int, float64) {
	seed := opts.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // cosmetic values only
	return 90 + rng.Intn(11), 1.0 + rng.Float64()*2.0
}

// injectCSS wraps css in a style tag and places it in the document head,
// synthesizing a head when the template has none.
func injectCSS(s, css string) string {
	if css == "" {
		return s
	}
	style := "<style>" + css + "</style>"
	switch {
	case strings.Contains(s, "</head>"):
		return strings.Replace(s, "</head>", style+"</head>", 1)
	case strings.Contains(s, "<head>"):
		return strings.Replace(s, "<head>", "<head>"+style, 1)
	case strings.Contains(s, "<body>"):
		return strings.Replace(s, "<body>", "<head>"+style+"</head><body>", 1)
	default:
		return "<head>" + style + "</head>" + s
	}
}

func intOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func floatOrEmpty(f float64) string {
	if f == 0 {
		return ""
	}
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
