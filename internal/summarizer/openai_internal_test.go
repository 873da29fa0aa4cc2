package summarizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOneLine(t *testing.T) {
	cases := map[string]string{
		"  A short line. ":            "A short line.",
		"First part\nsecond part\n\n": "First part second part",
		"tabs\tand  spaces":           "tabs and spaces",
		"":                            "",
	}

	for in, want := range cases {
		if got := oneLine(in); got != want {
			t.Fatalf("oneLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClampWords(t *testing.T) {
	if got := clampWords("a b c", 3); got != "a b c" {
		t.Fatalf("unexpected clamp: %q", got)
	}

	if got := clampWords("a b c d", 2); got != "a b…" {
		t.Fatalf("unexpected clamp: %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	if _, err := buildPrompt(Input{Title: "Only a title"}); err == nil {
		t.Fatalf("expected error for empty abstract")
	}

	prompt, err := buildPrompt(paper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"Title: Attention Revisited", "Link: https://arxiv.org/abs/2501.00001", "Abstract: We revisit attention."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, prompt)
		}
	}
}

func TestNewOpenAISummarizer(t *testing.T) {
	if _, err := NewOpenAISummarizer(OpenAIOptions{APIKey: "  "}); err == nil {
		t.Fatalf("expected error for empty api key")
	}

	s, err := NewOpenAISummarizer(OpenAIOptions{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.model != DefaultModel || s.timeout != DefaultTimeout {
		t.Fatalf("expected defaults, got model %q timeout %v", s.model, s.timeout)
	}
}

func TestSummarizeGivesUpOnUnresponsiveAPI(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, err := NewOpenAISummarizer(OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Summarize(context.Background(), paper())
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error from unresponsive API")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Summarize is still blocked on an unresponsive API")
	}
}
