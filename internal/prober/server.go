package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/weboost/sitewatch/internal/monitor"
)

// Server implements monitor.ServerProber with a single HEAD request.
type Server struct {
	client  *http.Client
	timeout time.Duration
	clock   monitor.Clock
}

// NewServer builds a Server prober.
func NewServer(timeout time.Duration, clock monitor.Clock) *Server {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		client:  &http.Client{},
		timeout: timeout,
		clock:   clock,
	}
}

// Probe checks liveness and latency for pageURL. All HTTP statuses are
// accepted; active means 200 <= status < 400. Transport failures yield an
// inactive status with the error text captured.
func (s *Server) Probe(ctx context.Context, pageURL string) *monitor.ServerStatus {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	checkedAt := s.clock.Now()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, pageURL, nil)
	if err != nil {
		return &monitor.ServerStatus{
			Status:    monitor.ServerInactive,
			Error:     err.Error(),
			CheckedAt: checkedAt,
		}
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return &monitor.ServerStatus{
			Status:    monitor.ServerInactive,
			Error:     err.Error(),
			CheckedAt: checkedAt,
		}
	}
	elapsed := time.Since(start)
	defer resp.Body.Close() //nolint:errcheck // HEAD body is empty

	state := monitor.ServerInactive
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		state = monitor.ServerActive
	}
	return &monitor.ServerStatus{
		Status:       state,
		ResponseTime: elapsed.Milliseconds(),
		HTTPStatus:   resp.StatusCode,
		CheckedAt:    checkedAt,
	}
}

var _ monitor.ServerProber = (*Server)(nil)
