package mailer

import (
	"fmt"
	"net/smtp"

	"go.uber.org/zap"
)

// Mailer sends emails over SMTP. A Mailer with no host configured is a no-op
// that reports every send as skipped.
type Mailer struct {
	host     string
	port     int
	user     string
	pass     string
	from     string
	fromName string
	logger   *zap.Logger
}

// New creates an SMTP mailer.
func New(host string, port int, user, pass, from, fromName string, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{host: host, port: port, user: user, pass: pass, from: from, fromName: fromName, logger: logger}
}

// Enabled reports whether SMTP is configured.
func (m *Mailer) Enabled() bool { return m.host != "" }

// Send delivers one HTML email.
func (m *Mailer) Send(to, subject, bodyHTML string) error {
	if !m.Enabled() {
		m.logger.Debug("smtp not configured, skipping email", zap.String("to", to), zap.String("subject", subject))
		return nil
	}
	msg := []byte(fmt.Sprintf(
		"From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n",
		m.fromName, m.from, to, subject, bodyHTML))
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
