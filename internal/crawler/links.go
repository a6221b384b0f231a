// Package crawler implements the broken-link detection pipeline: fetch a
// page, extract and classify its hyperlinks, and probe the in-origin
// survivors for liveness.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/monitor"
)

// Config controls crawl behavior.
type Config struct {
	UserAgent    string
	PageTimeout  time.Duration
	ProbeTimeout time.Duration
	MaxLinks     int
}

// Checker implements monitor.LinkChecker.
type Checker struct {
	cfg     Config
	fetcher *pageFetcher
	client  *http.Client
	clock   monitor.Clock
	logger  *zap.Logger
}

// New builds a Checker.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Checker {
	if cfg.PageTimeout == 0 {
		cfg.PageTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.MaxLinks == 0 {
		cfg.MaxLinks = 50
	}
	return &Checker{
		cfg:     cfg,
		fetcher: newPageFetcher(cfg.UserAgent, cfg.PageTimeout),
		client:  &http.Client{Transport: newHTTPTransport()},
		clock:   clock,
		logger:  logger,
	}
}

var hrefPattern = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)

// Hyperlink schemes that can never be probed over HTTP.
var skippedSchemes = []string{
	"tel:", "mailto:", "sms:", "whatsapp:", "skype:", "viber:", "javascript:",
}

// CMS system endpoints that routinely answer 403/405 to probes and would
// otherwise pollute every report for a WordPress site.
var cmsEndpoints = []string{"/xmlrpc.php", "/wp-json", "/wp-login.php", "/wp-admin"}

var domainSegment = regexp.MustCompile(`^(?:[a-z0-9-]+\.){2,}[a-z]{2,6}$`)

// CheckBrokenLinks fetches pageURL, classifies every href value on it and
// probes the surviving in-origin links. Only broken entries are returned;
// any failure to fetch the base page yields an empty list.
func (c *Checker) CheckBrokenLinks(ctx context.Context, pageURL string) []monitor.BrokenLink {
	broken := []monitor.BrokenLink{}

	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		c.logger.Warn("invalid base url", zap.String("url", pageURL), zap.Error(err))
		return broken
	}

	html, err := c.fetcher.FetchHTML(ctx, pageURL)
	if err != nil {
		c.logger.Warn("base page fetch failed",
			zap.String("url", pageURL), zap.Error(err))
		return broken
	}

	links := c.candidateLinks(base, html)
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		if entry := c.probeLink(ctx, link); entry != nil {
			broken = append(broken, *entry)
		}
	}
	return broken
}

// candidateLinks extracts every href value and runs the classification
// pipeline, returning at most MaxLinks absolute in-origin URLs.
func (c *Checker) candidateLinks(base *url.URL, html []byte) []string {
	origin := base.Scheme + "://" + base.Host
	var out []string
	for _, m := range hrefPattern.FindAllSubmatch(html, -1) {
		link := strings.TrimSpace(string(m[1]))
		if link == "" {
			continue
		}
		abs, ok := classify(origin, link)
		if !ok {
			continue
		}
		out = append(out, abs)
		if len(out) >= c.cfg.MaxLinks {
			break
		}
	}
	return out
}

// classify applies the ordered drop rules to one extracted href value and
// resolves it to an absolute URL on the base origin.
func classify(origin, link string) (string, bool) {
	lower := strings.ToLower(link)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	if strings.HasPrefix(link, "#") {
		return "", false
	}

	abs := link
	switch {
	case strings.HasPrefix(link, "/"):
		abs = origin + link
	case !strings.HasPrefix(lower, "http"):
		abs = origin + "/" + link
	}

	u, err := url.Parse(abs)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme+"://"+u.Host != origin {
		return "", false
	}
	if isCMSEndpoint(u) {
		return "", false
	}
	if malformedPath(u) {
		return "", false
	}
	return abs, true
}

func isCMSEndpoint(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	if u.RawQuery != "" {
		p += "?" + strings.ToLower(u.RawQuery)
	}
	for _, endpoint := range cmsEndpoints {
		if strings.Contains(p, endpoint) {
			return true
		}
	}
	return false
}

func isCMSLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return isCMSEndpoint(u)
}

// malformedPath reports paths with a doubled slash or a segment that looks
// like another domain, both symptoms of broken template concatenation.
func malformedPath(u *url.URL) bool {
	lower := strings.ToLower(u.Path)
	if strings.Contains(lower, "//") {
		return true
	}
	if strings.Contains(lower, "http:") || strings.Contains(lower, "https:") {
		return true
	}
	for _, seg := range strings.Split(strings.Trim(lower, "/"), "/") {
		if strings.HasPrefix(seg, "www.") || domainSegment.MatchString(seg) {
			return true
		}
	}
	return false
}

// probeLink issues a HEAD request for one candidate. It returns a broken
// entry for statuses >= 400 and for network failures, except that links
// matching a CMS endpoint are suppressed on 403 and on network failure.
func (c *Checker) probeLink(ctx context.Context, link string) *monitor.BrokenLink {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, link, nil)
	if err != nil {
		return &monitor.BrokenLink{
			URL:       link,
			Status:    0,
			Error:     err.Error(),
			CheckedAt: c.clock.Now(),
		}
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isCMSLink(link) {
			return nil
		}
		return &monitor.BrokenLink{
			URL:       link,
			Status:    0,
			Error:     err.Error(),
			CheckedAt: c.clock.Now(),
		}
	}
	defer resp.Body.Close() //nolint:errcheck // HEAD body is empty

	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusForbidden && isCMSLink(link) {
		return nil
	}
	return &monitor.BrokenLink{
		URL:       link,
		Status:    resp.StatusCode,
		Error:     fmt.Sprintf("HTTP %d", resp.StatusCode),
		CheckedAt: c.clock.Now(),
	}
}
