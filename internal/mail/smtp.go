package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// smtpTimeout bounds the dial and the whole SMTP session, so a hung
// server cannot stall the agent loop.
const smtpTimeout = 30 * time.Second

// Send composes an RFC 5322 message and submits it via SMTP, using
// implicit TLS or STARTTLS per configuration.
func (c *Client) Send(ctx context.Context, out OutgoingMessage) error {
	from := c.cfg.Username

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", out.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", out.Subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", messageDate(time.Now())))
	if out.InReplyTo != "" {
		ref := out.InReplyTo
		if !strings.HasPrefix(ref, "<") {
			ref = "<" + ref + ">"
		}
		msg.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", ref))
		msg.WriteString(fmt.Sprintf("References: %s\r\n", ref))
	}
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(out.Body)

	addr := c.cfg.SMTPHost + ":" + c.cfg.SMTPPort

	var err error
	if c.cfg.TLS {
		err = c.sendWithTLS(ctx, addr, from, out.To, msg.String())
	} else {
		err = c.sendWithStartTLS(ctx, addr, from, out.To, msg.String())
	}
	if err != nil {
		return &TransportError{
			Op:  "send",
			Err: fmt.Errorf("sending to %s: %w", out.To, err),
		}
	}
	return nil
}

// sessionDeadline bounds the SMTP session by the timeout, tightened to
// the context deadline when that is sooner.
func sessionDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(smtpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// sendWithTLS sends a message over an implicit TLS connection.
func (c *Client) sendWithTLS(ctx context.Context, addr, from, to, body string) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: smtpTimeout},
		Config:    &tls.Config{ServerName: c.cfg.SMTPHost},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}
	if err := conn.SetDeadline(sessionDeadline(ctx)); err != nil {
		conn.Close()
		return fmt.Errorf("setting session deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return submit(client, from, to, body)
}

// sendWithStartTLS sends a message using STARTTLS.
func (c *Client) sendWithStartTLS(ctx context.Context, addr, from, to, body string) error {
	dialer := &net.Dialer{Timeout: smtpTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}
	if err := conn.SetDeadline(sessionDeadline(ctx)); err != nil {
		conn.Close()
		return fmt.Errorf("setting session deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, c.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: c.cfg.SMTPHost}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}

	return submit(client, from, to, body)
}

// submit sends a message using an already-authenticated SMTP client.
func submit(client *smtp.Client, from, to, body string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write([]byte(body)); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing message body: %w", err)
	}

	return client.Quit()
}
