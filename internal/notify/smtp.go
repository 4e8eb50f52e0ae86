package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
	From     Address
	To       Address
}

// SMTPNotifier sends alerts through an SMTP relay.
type SMTPNotifier struct {
	cfg SMTPConfig
	// send delivers a prepared message. Replaced in tests.
	send func(ctx context.Context, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	n := &SMTPNotifier{cfg: cfg}
	n.send = n.deliver
	return n
}

// NotifyHotLead implements Notifier.
func (n *SMTPNotifier) NotifyHotLead(ctx context.Context, l HotLead) error {
	body, err := Body(l)
	if err != nil {
		return err
	}
	msg := buildMessage(n.cfg.From, n.cfg.To, Subject(l), body)
	if err := n.send(ctx, n.cfg.From.Email, []string{n.cfg.To.Email}, msg); err != nil {
		return eris.Wrap(err, "notify: smtp send")
	}
	return nil
}

func formatAddress(a Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", a.Name), a.Email)
}

func buildMessage(from, to Address, subject, htmlBody string) []byte {
	var msg strings.Builder
	msg.WriteString("From: " + formatAddress(from) + "\r\n")
	msg.WriteString("To: " + formatAddress(to) + "\r\n")
	msg.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	msg.WriteString("\r\n")
	return []byte(msg.String())
}

// deliver sends msg over a fresh SMTP session, upgrading with STARTTLS when
// configured.
func (n *SMTPNotifier) deliver(ctx context.Context, from string, to []string, msg []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))

	d := net.Dialer{Timeout: 15 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return eris.Wrapf(err, "smtp: dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return eris.Wrap(err, "smtp: client")
	}
	defer client.Close() //nolint:errcheck

	if n.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return eris.Wrap(err, "smtp: starttls")
		}
	}
	if n.cfg.Username != "" {
		auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return eris.Wrap(err, "smtp: auth")
		}
	}
	if err := client.Mail(from); err != nil {
		return eris.Wrap(err, "smtp: MAIL")
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return eris.Wrap(err, "smtp: RCPT")
		}
	}
	w, err := client.Data()
	if err != nil {
		return eris.Wrap(err, "smtp: DATA")
	}
	if _, err := w.Write(msg); err != nil {
		return eris.Wrap(err, "smtp: write")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "smtp: close data")
	}
	return client.Quit()
}
