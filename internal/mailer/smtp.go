// Package mailer delivers rendered notifications over SMTP.
package mailer

import (
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/weboost/sitewatch/internal/config"
	"github.com/weboost/sitewatch/internal/monitor"
)

// sendFunc matches smtp.SendMail, swapped out in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTP implements monitor.Mailer on net/smtp. Safe for concurrent use.
type SMTP struct {
	cfg    config.MailConfig
	auth   smtp.Auth
	send   sendFunc
	logger *zap.Logger
}

// New builds the SMTP mailer. Auth is PLAIN when both user and password are
// set, otherwise the connection is unauthenticated.
func New(cfg config.MailConfig, logger *zap.Logger) *SMTP {
	var auth smtp.Auth
	if cfg.User != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTP{
		cfg:    cfg,
		auth:   auth,
		send:   smtp.SendMail,
		logger: logger,
	}
}

var _ monitor.Mailer = (*SMTP)(nil)

// Send delivers one message. A non-empty from overrides the configured
// sender address for the header and the envelope. When both text and html
// bodies are present the message is multipart/alternative; a single body is
// sent with its matching content type.
func (s *SMTP) Send(ctx context.Context, to, subject, text, html, from string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	// The envelope sender (MAIL FROM) must stay a raw mailbox address;
	// only the From header may carry a display name.
	envelope := s.cfg.From
	fromHeader := s.cfg.From
	if strings.TrimSpace(s.cfg.FromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	if from != "" {
		fromHeader = from
		envelope = from
		if addr, err := mail.ParseAddress(from); err == nil {
			envelope = addr.Address
		}
	}

	msg := buildMessage(fromHeader, to, subject, text, html)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	errc := make(chan error, 1)
	go func() {
		errc <- s.send(addr, s.auth, envelope, []string{sanitizeHeader(to)}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
	}

	s.logger.Debug("mail sent",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

const altBoundary = "sitewatch-alt-7f3a9c"

// buildMessage assembles the RFC 5322 message bytes. Header values are
// stripped of CR/LF to block header injection from template data.
func buildMessage(from, to, subject, text, html string) []byte {
	headers := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(to),
		"Subject: " + encodeSubject(sanitizeHeader(subject)),
		"MIME-Version: 1.0",
	}

	var b strings.Builder
	switch {
	case text != "" && html != "":
		headers = append(headers,
			`Content-Type: multipart/alternative; boundary="`+altBoundary+`"`)
		b.WriteString(strings.Join(headers, "\r\n"))
		b.WriteString("\r\n\r\n")
		writePart(&b, "text/plain; charset=UTF-8", text)
		writePart(&b, "text/html; charset=UTF-8", html)
		b.WriteString("--" + altBoundary + "--\r\n")
	case html != "":
		headers = append(headers, "Content-Type: text/html; charset=UTF-8")
		b.WriteString(strings.Join(headers, "\r\n"))
		b.WriteString("\r\n\r\n")
		b.WriteString(html)
	default:
		headers = append(headers, "Content-Type: text/plain; charset=UTF-8")
		b.WriteString(strings.Join(headers, "\r\n"))
		b.WriteString("\r\n\r\n")
		b.WriteString(text)
	}
	return []byte(b.String())
}

func writePart(b *strings.Builder, contentType, body string) {
	b.WriteString("--" + altBoundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
}

// encodeSubject RFC 2047-encodes subjects that carry non-ASCII characters.
func encodeSubject(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}
