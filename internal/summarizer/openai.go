package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	DefaultModel   = openai.ChatModelGPT5Mini2025_08_07
	DefaultTimeout = 20 * time.Second

	maxOutputTokens int64 = 1024
	maxWords              = 40

	instructions = `You write the TL;DR line of a daily research-paper email.

Given a paper title and abstract, reply with one sentence of at most 25 words that
states the main contribution or result. Keep key numbers and method names.
No lists, no hype, no first person, no leading "This paper".
Answer in the language of the abstract.`
)

type OpenAIOptions struct {
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// Timeout bounds one Summarize call including retries.
	Timeout time.Duration
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// OpenAISummarizer condenses abstracts with the Responses API.
type OpenAISummarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAISummarizer(opts OpenAIOptions) (*OpenAISummarizer, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("api key is empty")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	return &OpenAISummarizer{
		client:  openai.NewClient(clientOpts...),
		model:   model,
		timeout: timeout,
	}, nil
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, input Input) (string, error) {
	prompt, err := buildPrompt(input)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           s.model,
		MaxOutputTokens: openai.Int(maxOutputTokens),
		Reasoning: responses.ReasoningParam{
			Effort: openai.ReasoningEffortLow,
		},
		Instructions: openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create response: %w", err)
	}

	if summary := clampWords(oneLine(resp.OutputText()), maxWords); summary != "" {
		return summary, nil
	}

	if resp.Status == "incomplete" {
		return "", fmt.Errorf("response is incomplete (reason = %s)", resp.IncompleteDetails.Reason)
	}

	return "", fmt.Errorf("response has no text (status = %s)", resp.Status)
}

func buildPrompt(input Input) (string, error) {
	abstract := oneLine(input.Abstract)
	if abstract == "" {
		return "", errors.New("abstract is empty")
	}

	var b strings.Builder
	if title := oneLine(input.Title); title != "" {
		b.WriteString("Title: " + title + "\n")
	}
	if link := strings.TrimSpace(input.Link); link != "" {
		b.WriteString("Link: " + link + "\n")
	}
	b.WriteString("Abstract: " + abstract)

	return b.String(), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// clampWords cuts s after n words.
func clampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}

	return strings.Join(words[:n], " ") + "…"
}
