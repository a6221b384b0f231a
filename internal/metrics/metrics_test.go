package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, analysesTotal)
	require.NotNil(t, notificationsTotal)
}

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com/path", "example.com"},
		{"example.com", "example.com"},
		{"http://sub.example.com:8080", "sub.example.com"},
		{"://bad", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SanitizeSite(tc.in), "input %q", tc.in)
	}
}

func TestObserveHelpersDoNotPanic(t *testing.T) {
	Init()

	ObserveAnalysis("https://example.com", "ok", 87, 3, 12*time.Second)
	ObserveAnalysis("https://example.com", "error", 0, 0, time.Second)
	ObserveNotification("bugs", "sent")
	ObserveDispatch("daily", 2*time.Second)
	ObserveReportEmail("sent")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "sitewatch_analyses_total")
}
