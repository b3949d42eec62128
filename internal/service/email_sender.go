package service

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/xxxsen/sharegate/internal/config"
	appErr "github.com/xxxsen/sharegate/internal/pkg/errors"
)

// EmailSender delivers plain text notifications.
type EmailSender interface {
	Send(to, subject, body string) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	cfg  config.SMTPConfig
	send sendFunc
	now  func() time.Time
}

func NewEmailSender(cfg config.SMTPConfig) EmailSender {
	return &smtpSender{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (s *smtpSender) Send(to, subject, body string) error {
	from := strings.TrimSpace(s.cfg.From)
	to = strings.TrimSpace(to)
	if s.cfg.Host == "" || s.cfg.Port == 0 || from == "" {
		return appErr.Invalidf("smtp is not configured")
	}
	if to == "" || hasLineBreak(to) || hasLineBreak(from) {
		return appErr.Invalidf("invalid mail address")
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	msg := buildMessage(from, to, subject, body, s.now())
	if err := s.send(addr, auth, from, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// buildMessage renders a text/plain mail. The subject is Q-encoded, so share
// names with line breaks or non-ASCII text cannot break the header block.
func buildMessage(from, to, subject, body string, now time.Time) []byte {
	subject = strings.Join(strings.Fields(subject), " ")
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + now.UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func hasLineBreak(v string) bool {
	return strings.ContainsAny(v, "\r\n")
}
