package notifications

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"digipub/internal/config"
)

// MailSender matches smtp.SendMail.
type MailSender func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type mailer struct {
	addr string
	auth smtp.Auth
	from string
	send MailSender
	now  func() time.Time
}

func newMailer(cfg config.Mail, send MailSender) *mailer {
	if send == nil {
		send = smtp.SendMail
	}
	host := strings.TrimSpace(cfg.SMTPHost)
	port := cfg.SMTPPort
	if port <= 0 {
		port = 25
	}
	m := &mailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: strings.TrimSpace(cfg.From),
		send: send,
		now:  time.Now,
	}
	if user := strings.TrimSpace(cfg.Username); user != "" {
		m.auth = smtp.PlainAuth("", user, cfg.Password, host)
	}
	return m
}

func (m *mailer) deliver(ctx context.Context, msg message) error {
	to := trimmed(msg.to)
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.send(m.addr, m.auth, m.from, to, m.compose(msg, to)); err != nil {
		return fmt.Errorf("send mail %q: %w", msg.subject, err)
	}
	return nil
}

func (m *mailer) compose(msg message, to []string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.subject))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
