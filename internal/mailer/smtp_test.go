package mailer

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/config"
)

type capturedSend struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingMailer(cfg config.MailConfig, captured *capturedSend, fail error) *SMTP {
	m := New(cfg, zap.NewNop())
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return fail
	}
	return m
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{
		Host:     "smtp.example.com",
		Port:     587,
		From:     "noreply@example.com",
		FromName: "SiteWatch",
	}
}

func TestSendHTMLOnly(t *testing.T) {
	t.Parallel()

	var got capturedSend
	m := newCapturingMailer(testMailConfig(), &got, nil)

	err := m.Send(context.Background(), "jane@x.com", "Weekly report - x.com",
		"", "<p>hi</p>", "")
	require.NoError(t, err)

	require.Equal(t, "smtp.example.com:587", got.addr)
	require.Equal(t, "noreply@example.com", got.from)
	require.Equal(t, []string{"jane@x.com"}, got.to)
	require.Contains(t, got.msg, "From: SiteWatch <noreply@example.com>")
	require.Contains(t, got.msg, "Subject: Weekly report - x.com")
	require.Contains(t, got.msg, "Content-Type: text/html; charset=UTF-8")
	require.Contains(t, got.msg, "<p>hi</p>")
	require.NotContains(t, got.msg, "multipart/alternative")
}

func TestSendMultipart(t *testing.T) {
	t.Parallel()

	var got capturedSend
	m := newCapturingMailer(testMailConfig(), &got, nil)

	err := m.Send(context.Background(), "jane@x.com", "Bug report - x.com",
		"plain body", "<p>rich body</p>", "")
	require.NoError(t, err)

	require.Contains(t, got.msg, "multipart/alternative")
	require.Contains(t, got.msg, "Content-Type: text/plain; charset=UTF-8")
	require.Contains(t, got.msg, "plain body")
	require.Contains(t, got.msg, "Content-Type: text/html; charset=UTF-8")
	require.Contains(t, got.msg, "<p>rich body</p>")
	require.True(t, strings.HasSuffix(got.msg, "--"+altBoundary+"--\r\n"))
}

func TestSendFromOverride(t *testing.T) {
	t.Parallel()

	var got capturedSend
	m := newCapturingMailer(testMailConfig(), &got, nil)

	err := m.Send(context.Background(), "admin@agency.com", "s", "t", "", "alerts@agency.com")
	require.NoError(t, err)

	require.Equal(t, "alerts@agency.com", got.from)
	require.Contains(t, got.msg, "From: alerts@agency.com")
	require.NotContains(t, got.msg, "SiteWatch <")
}

func TestSendDisplayNameFromKeepsEnvelopeBare(t *testing.T) {
	t.Parallel()

	var got capturedSend
	m := newCapturingMailer(testMailConfig(), &got, nil)

	err := m.Send(context.Background(), "jane@x.com", "Weekly report - x.com",
		"t", "", "Acme Web <support@acme.com>")
	require.NoError(t, err)

	require.Equal(t, "support@acme.com", got.from)
	require.Contains(t, got.msg, "From: Acme Web <support@acme.com>")
}

func TestSendSanitizesHeaders(t *testing.T) {
	t.Parallel()

	var got capturedSend
	m := newCapturingMailer(testMailConfig(), &got, nil)

	err := m.Send(context.Background(), "jane@x.com\r\nBcc: evil@x.com",
		"subject\r\ninjected", "body", "", "")
	require.NoError(t, err)

	require.Equal(t, []string{"jane@x.comBcc: evil@x.com"}, got.to)
	require.Contains(t, got.msg, "Subject: subjectinjected")
	require.NotContains(t, got.msg, "\r\nBcc:")
	require.NotContains(t, got.msg, "Subject: subject\r\ninjected")
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	t.Parallel()

	m := newCapturingMailer(testMailConfig(), &capturedSend{}, nil)
	err := m.Send(context.Background(), "   ", "s", "t", "", "")
	require.Error(t, err)
}

func TestSendHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	m := newCapturingMailer(testMailConfig(), &capturedSend{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, "jane@x.com", "s", "t", "", "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendWrapsTransportError(t *testing.T) {
	t.Parallel()

	m := newCapturingMailer(testMailConfig(), &capturedSend{}, assertErr)
	err := m.Send(context.Background(), "jane@x.com", "s", "t", "", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "jane@x.com")
	require.ErrorIs(t, err, assertErr)
}

var assertErr = errSentinel("connection refused")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

func TestNewAuthOnlyWithCredentials(t *testing.T) {
	t.Parallel()

	cfg := testMailConfig()
	require.Nil(t, New(cfg, zap.NewNop()).auth)

	cfg.User = "u"
	cfg.Password = "p"
	require.NotNil(t, New(cfg, zap.NewNop()).auth)
}

func TestEncodeSubject(t *testing.T) {
	t.Parallel()

	require.Equal(t, "plain ascii", encodeSubject("plain ascii"))
	encoded := encodeSubject("rapport hebdomadaire — été")
	require.True(t, strings.HasPrefix(encoded, "=?utf-8?q?"))
}
