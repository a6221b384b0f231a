package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// pageFetcher retrieves page HTML using a Colly collector.
type pageFetcher struct {
	base      *colly.Collector
	userAgent string
	timeout   time.Duration
}

func newPageFetcher(userAgent string, timeout time.Duration) *pageFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &pageFetcher{
		base:      c,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// FetchHTML executes a single GET and returns the response body.
func (f *pageFetcher) FetchHTML(ctx context.Context, pageURL string) ([]byte, error) {
	collector := f.base.Clone()
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", pageURL, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
		}
		return body, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
