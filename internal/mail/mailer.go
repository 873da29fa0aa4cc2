// Package mail renders digest messages and hands them to an SMTP relay.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"papermail/internal/domain"
	"papermail/internal/summarizer"
)

// Transport delivers an encoded message.
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

type Limiter interface {
	Wait(ctx context.Context, recipient string) error
}

type Options struct {
	FromAddress string
	FromName    string
	BaseURL     string
}

type Mailer struct {
	fromAddress string
	fromName    string
	renderer    *Renderer
	transport   Transport
	limiter     Limiter
	summarizer  summarizer.Summarizer
	now         func() time.Time
	log         *slog.Logger
}

// New builds a Mailer. limiter and sum may be nil.
func New(
	opts Options,
	transport Transport,
	limiter Limiter,
	sum summarizer.Summarizer,
	log *slog.Logger,
) *Mailer {
	return &Mailer{
		fromAddress: opts.FromAddress,
		fromName:    opts.FromName,
		renderer:    NewRenderer(opts.BaseURL, opts.FromName),
		transport:   transport,
		limiter:     limiter,
		summarizer:  sum,
		now:         time.Now,
		log:         log,
	}
}

func (m *Mailer) Renderer() *Renderer {
	return m.renderer
}

// Send renders sel for recipient and delivers it. Failures are returned to
// the caller; nothing is retried here.
func (m *Mailer) Send(
	ctx context.Context,
	recipient string,
	sel domain.Selection,
) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return errors.New("recipient is empty")
	}

	msg, err := m.renderer.Render(recipient, sel, m.tldr(ctx, sel))
	if err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	raw, err := m.compose(recipient, msg)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	if m.limiter != nil {
		if err = m.limiter.Wait(ctx, recipient); err != nil {
			return fmt.Errorf("wait rate limiter: %w", err)
		}
	}

	if err = m.transport.Send(ctx, m.fromAddress, []string{recipient}, raw); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	m.log.InfoContext(ctx, "Mail sent",
		"recipient", recipient,
		"source", sel.Source.Name,
		"title", sel.Entry.Title,
		"weekend", sel.Weekend)

	return nil
}

func (m *Mailer) compose(recipient string, msg Message) ([]byte, error) {
	part, err := enmime.Builder().
		From(m.fromName, m.fromAddress).
		To("", recipient).
		Subject(msg.Subject).
		Date(m.now()).
		Text([]byte(msg.Text)).
		HTML([]byte(msg.HTML)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build mime: %w", err)
	}

	var buf bytes.Buffer
	if err = part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode mime: %w", err)
	}

	return buf.Bytes(), nil
}

// tldr is best effort: a failing summarizer never blocks delivery.
func (m *Mailer) tldr(ctx context.Context, sel domain.Selection) string {
	if m.summarizer == nil || sel.Entry.IsNotFound() {
		return ""
	}

	abstract := ExtractAbstract(sel.Entry.Summary)
	if abstract == "" {
		return ""
	}

	summary, err := m.summarizer.Summarize(ctx, summarizer.Input{
		Title:    sel.Entry.Title,
		Abstract: abstract,
		Link:     sel.Entry.Link,
	})
	if err != nil {
		m.log.WarnContext(ctx, "Failed to summarize entry",
			"error", err,
			"link", sel.Entry.Link)

		return ""
	}

	return summary
}
