package mail_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jhillyerd/enmime"

	"papermail/internal/domain"
	"papermail/internal/mail"
	"papermail/internal/summarizer"
)

type sentMessage struct {
	from string
	to   []string
	raw  []byte
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeTransport) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, sentMessage{from: from, to: to, raw: msg})

	return nil
}

type fakeLimiter struct {
	mu    sync.Mutex
	waits []string
	err   error
}

func (f *fakeLimiter) Wait(_ context.Context, recipient string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, recipient)

	return f.err
}

type fakeSummarizer struct {
	calls int
	out   string
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ summarizer.Input) (string, error) {
	f.calls++

	return f.out, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMailer(transport mail.Transport, limiter mail.Limiter, sum summarizer.Summarizer) *mail.Mailer {
	return mail.New(mail.Options{
		FromAddress: "papers@example.com",
		FromName:    "Daily IT Papers",
		BaseURL:     "http://localhost:5000",
	}, transport, limiter, sum, discardLogger())
}

func readEnvelope(t *testing.T, raw []byte) *enmime.Envelope {
	t.Helper()

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("failed to parse sent message: %v", err)
	}

	return env
}

func TestSendComposesMultipartMessage(t *testing.T) {
	transport := &fakeTransport{}
	limiter := &fakeLimiter{}
	m := newMailer(transport, limiter, nil)

	if err := m.Send(context.Background(), " reader@example.com ", paperSelection()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(transport.sent))
	}

	sent := transport.sent[0]
	if sent.from != "papers@example.com" {
		t.Fatalf("unexpected envelope sender: %q", sent.from)
	}

	if len(sent.to) != 1 || sent.to[0] != "reader@example.com" {
		t.Fatalf("unexpected recipients: %v", sent.to)
	}

	if len(limiter.waits) != 1 || limiter.waits[0] != "reader@example.com" {
		t.Fatalf("expected rate limiter to be consulted once, got %v", limiter.waits)
	}

	env := readEnvelope(t, sent.raw)

	if got := env.GetHeader("Subject"); got != mail.Subject {
		t.Fatalf("unexpected subject: %q", got)
	}

	if got := env.GetHeader("To"); !strings.Contains(got, "reader@example.com") {
		t.Fatalf("unexpected To header: %q", got)
	}

	if got := env.GetHeader("From"); !strings.Contains(got, "papers@example.com") {
		t.Fatalf("unexpected From header: %q", got)
	}

	if !strings.Contains(env.HTML, "Attention Is Still All You Need") {
		t.Fatalf("expected HTML part to carry the title, got:\n%s", env.HTML)
	}

	if !strings.Contains(env.Text, "We revisit attention.") {
		t.Fatalf("expected text part to carry the abstract, got:\n%s", env.Text)
	}
}

func TestSendIncludesTLDR(t *testing.T) {
	transport := &fakeTransport{}
	sum := &fakeSummarizer{out: "Attention still works."}
	m := newMailer(transport, nil, sum)

	if err := m.Send(context.Background(), "reader@example.com", paperSelection()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env := readEnvelope(t, transport.sent[0].raw)
	if !strings.Contains(env.HTML, "Attention still works.") {
		t.Fatalf("expected TL;DR in HTML, got:\n%s", env.HTML)
	}
}

func TestSendSurvivesSummarizerFailure(t *testing.T) {
	transport := &fakeTransport{}
	sum := &fakeSummarizer{err: errors.New("quota exceeded")}
	m := newMailer(transport, nil, sum)

	if err := m.Send(context.Background(), "reader@example.com", paperSelection()); err != nil {
		t.Fatalf("expected delivery despite summarizer failure, got %v", err)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(transport.sent))
	}
}

func TestSendSkipsSummarizerForNotFound(t *testing.T) {
	transport := &fakeTransport{}
	sum := &fakeSummarizer{out: "unused"}
	m := newMailer(transport, nil, sum)

	sel := domain.Selection{Entry: domain.NotFoundEntry("Databases")}
	if err := m.Send(context.Background(), "reader@example.com", sel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sum.calls != 0 {
		t.Fatalf("expected summarizer to be skipped, got %d calls", sum.calls)
	}
}

func TestSendReportsFailures(t *testing.T) {
	m := newMailer(&fakeTransport{err: errors.New("relay rejected")}, nil, nil)
	if err := m.Send(context.Background(), "reader@example.com", paperSelection()); err == nil {
		t.Fatalf("expected transport failure to be returned")
	}

	blocked := newMailer(&fakeTransport{}, &fakeLimiter{err: context.Canceled}, nil)
	if err := blocked.Send(context.Background(), "reader@example.com", paperSelection()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected limiter error, got %v", err)
	}

	if err := m.Send(context.Background(), "  ", paperSelection()); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}
