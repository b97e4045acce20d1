package notify

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const smtpTimeout = 30 * time.Second

// Mailer sends alert emails over SMTP. Port 587 uses STARTTLS; any other
// port (conventionally 465) uses an implicit TLS connection.
type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string

	// sendFn is the transport, injectable for tests.
	sendFn func(m *Mailer, to []string, msg []byte) error
}

// NewMailer creates a Mailer for the given SMTP endpoint and credentials.
func NewMailer(host string, port int, username, password, from string) *Mailer {
	if from == "" {
		from = username
	}
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		sendFn:   send,
	}
}

// Send delivers one message to the given recipients.
func (m *Mailer) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("mail: no recipients")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)

	if err := m.sendFn(m, to, []byte(b.String())); err != nil {
		return fmt.Errorf("mail: send to %s: %w", strings.Join(to, ","), err)
	}
	return nil
}

// send routes by port: STARTTLS upgrade on 587, implicit TLS otherwise.
func send(m *Mailer, to []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.username, m.password, m.host)

	if m.port == 587 {
		// smtp.SendMail negotiates STARTTLS when the server offers it.
		return smtp.SendMail(addr, auth, m.from, to, msg)
	}
	return sendImplicitTLS(m, addr, auth, to, msg)
}

// sendImplicitTLS opens a TLS connection first (SMTPS), then speaks SMTP.
func sendImplicitTLS(m *Mailer, addr string, auth smtp.Auth, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: smtpTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: m.host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return c.Quit()
}
