package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/quietline/quietline/internal/tokens"
)

// DefaultHostedBaseURL is the hosted completion API endpoint.
const DefaultHostedBaseURL = "https://api.openai.com"

// sampling holds fixed generation parameters. They are set server-side per
// operation; callers cannot override them.
type sampling struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// completer executes one completion round trip and returns the reply text.
type completer interface {
	complete(ctx context.Context, messages []tokens.Message, s sampling) (string, error)
}

// completionRequest is the wire shape both variants send.
type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []tokens.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	TopP        float64          `json:"top_p,omitempty"`
}

// httpCompleter is the shared HTTP transport. The extract hook is the only
// variant-specific part: hosted parses the fixed completion schema, custom
// runs the priority-ordered extractor chain.
type httpCompleter struct {
	client  *http.Client
	limiter *rate.Limiter
	url     string
	apiKey  string
	model   string
	extract func(body []byte) (string, error)
}

func (c *httpCompleter) complete(ctx context.Context, messages []tokens.Message, s sampling) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("provider limiter: %w", err)
		}
	}

	payload, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		TopP:        s.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	return c.extract(body)
}

// newHostedCompleter builds the hosted-variant transport.
func newHostedCompleter(baseURL, apiKey, model string, timeout time.Duration, limiter *rate.Limiter) *httpCompleter {
	if baseURL == "" {
		baseURL = DefaultHostedBaseURL
	}
	return &httpCompleter{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		url:     baseURL + "/v1/chat/completions",
		apiKey:  apiKey,
		model:   model,
		extract: extractHosted,
	}
}

// newCustomCompleter builds the custom-variant transport against an
// operator-supplied endpoint.
func newCustomCompleter(baseURL, apiKey, model string, timeout time.Duration, limiter *rate.Limiter) *httpCompleter {
	return &httpCompleter{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		url:     baseURL + "/chat",
		apiKey:  apiKey,
		model:   model,
		extract: extractCustom,
	}
}

// extractHosted reads the fixed completion schema.
func extractHosted(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("unparseable provider response")
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type == gjson.String && content.String() != "" {
		return content.String(), nil
	}
	return FallbackReply, nil
}

// extractCustom runs the shape-probing extractor chain. Unparseable JSON is
// an error; a parseable body with no recognizable field yields the safe
// fallback string.
func extractCustom(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("unparseable provider response")
	}
	return ExtractReply(body), nil
}
