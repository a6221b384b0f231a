package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: true
crawler:
  user_agent: sitewatch-test
  page_timeout_seconds: 4
  probe_timeout_seconds: 2
  max_links: 10
audit:
  endpoint: https://audit.example.com/run
  api_key: global-key
  timeout_seconds: 12
mail:
  host: smtp.example.com
  port: 2525
  from: reports@example.com
  from_name: Example Reports
scheduler:
  enabled: false
  timezone: Europe/Paris
db:
  dsn: postgres://localhost/sitewatch
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, "sitewatch-test", cfg.Crawler.UserAgent)
	require.Equal(t, 10, cfg.Crawler.MaxLinks)
	require.Equal(t, "global-key", cfg.Audit.APIKey)
	require.Equal(t, 12, cfg.Audit.TimeoutSeconds)
	require.Equal(t, 2525, cfg.Mail.Port)
	require.False(t, cfg.Scheduler.Enabled)
	require.Equal(t, "postgres://localhost/sitewatch", cfg.DB.DSN)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 50, cfg.Crawler.MaxLinks)
	require.Equal(t, 10, cfg.Crawler.PageTimeoutSeconds)
	require.Equal(t, 5, cfg.Crawler.ProbeTimeoutSeconds)
	require.Equal(t, 30, cfg.Audit.TimeoutSeconds)
	require.Equal(t, "Europe/Paris", cfg.Scheduler.Timezone)
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Scheduler.Timezone = "Not/AZone"
	require.Error(t, cfg.Validate())
}
