package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport speaks to an authenticated relay. STARTTLS is used whenever
// the server offers it, and the whole session shares one deadline.
type SMTPTransport struct {
	opts SMTPOptions
}

func NewSMTPTransport(opts SMTPOptions) *SMTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &SMTPTransport{opts: opts}
}

func (t *SMTPTransport) Send(
	ctx context.Context,
	from string,
	to []string,
	msg []byte,
) (err error) {
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	addr := net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))

	dialer := net.Dialer{Timeout: t.opts.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	deadline := time.Now().Add(t.opts.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err = conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return fmt.Errorf("set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, t.opts.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil && err == nil && !errors.Is(closeErr, net.ErrClosed) {
			err = fmt.Errorf("close client: %w", closeErr)
		}
	}()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err = client.StartTLS(&tls.Config{
			ServerName: t.opts.Host,
			MinVersion: tls.VersionTLS12,
		}); err != nil {
			return fmt.Errorf("start tls: %w", err)
		}
	}

	if t.opts.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return errors.New("relay does not offer AUTH")
		}

		auth := smtp.PlainAuth("", t.opts.Username, t.opts.Password, t.opts.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}

	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}

	if err = client.Quit(); err != nil {
		return fmt.Errorf("quit: %w", err)
	}

	return nil
}
