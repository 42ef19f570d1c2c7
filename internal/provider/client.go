package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/quietline/quietline/internal/config"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
	"github.com/quietline/quietline/internal/tokens"
)

const systemPrompt = `You are a supportive communication assistant.

YOUR CORE ROLE:
- Help users express themselves clearly and calmly
- Be a mirror, not a judge
- Provide emotionally intelligent responses

STRICT RULES (DO NOT BREAK THESE):
- Never judge the user or their feelings
- Never force advice or diagnose emotions
- Never escalate conflict or tension
- Always ask permission before suggesting changes

TONE GUIDELINES:
- Reply like a calm, thoughtful human
- Keep replies short to medium (2-3 sentences typically)
- Be conversational, warm, and genuinely supportive
- Acknowledge feelings without trying to fix them

AVOID:
- "You should..."
- Diagnostic language
- Toxic positivity
- Urgency or alarm
- Taking sides in conflicts`

const advisorBase = "You are an AI assistant inside a relationship messaging app. Keep outputs concise. Never reveal chain-of-thought. Neutral, empathetic, non-judgmental."

// Fixed sampling per operation. Deliberate safety and cost control.
var (
	chatSampling        = sampling{Temperature: 0.7, MaxTokens: 300, TopP: 0.9}
	reflectSampling     = sampling{Temperature: 0.6, MaxTokens: 100}
	analyzeSampling     = sampling{Temperature: 0.2, MaxTokens: 300}
	rephraseSampling    = sampling{Temperature: 0.6, MaxTokens: 200}
	suggestSampling     = sampling{Temperature: 0.6, MaxTokens: 200}
	perspectiveSampling = sampling{Temperature: 0.4, MaxTokens: 120}
	summarySampling     = sampling{Temperature: 0.3, MaxTokens: 120}
)

// client implements Client over a variant-specific completer.
type client struct {
	completer completer
	model     string
	logger    *logging.Logger
	observe   Observer
}

// New builds the provider client selected by configuration.
func New(cfg config.ProviderConfig, logger *logging.Logger, observe Observer) (Client, error) {
	if observe == nil {
		observe = func(string, string) {}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Caps outbound provider traffic at 5 rps regardless of inbound
	// admission.
	limiter := rate.NewLimiter(rate.Limit(5), 5)

	var c completer
	switch cfg.Kind {
	case "custom":
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return nil, fmt.Errorf("custom provider requires CUSTOM_API_BASE_URL and CUSTOM_API_KEY")
		}
		c = newCustomCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, timeout, limiter)
	case "hosted":
		if cfg.APIKey == "" {
			logger.Warn("provider API key not set; AI calls will fail")
		}
		c = newHostedCompleter(cfg.BaseURL, cfg.APIKey, cfg.Model, timeout, limiter)
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", cfg.Kind)
	}

	return &client{
		completer: c,
		model:     cfg.Model,
		logger:    logger,
		observe:   observe,
	}, nil
}

// Model implements Client.
func (c *client) Model() string {
	return c.model
}

// Chat implements Client. This is the one hard-failing operation: there is
// no safe silent fallback for the primary reply.
func (c *client) Chat(ctx context.Context, messages []tokens.Message) (Reply, error) {
	full := append([]tokens.Message{{Role: "system", Content: systemPrompt}}, messages...)

	text, err := c.completer.complete(ctx, full, chatSampling)
	if err != nil {
		c.observe("chat", "error")
		c.logger.WithContext(ctx).WithError(err).Error("chat completion failed")
		return Reply{}, errors.AIUnavailable(err)
	}

	c.observe("chat", "ok")
	return Reply{Text: text, Model: c.model}, nil
}

// ReflectTone implements Client.
func (c *client) ReflectTone(ctx context.Context, userMessage string) string {
	prompt := `You are a gentle communication advisor. Your job is to help users see how their message might be perceived by others. Be kind and non-judgmental. Offer a brief, empathetic reflection.

IMPORTANT: Only mention tone observations if they're genuinely useful. Don't over-analyze. Keep it to 1-2 short sentences.

Return ONLY the reflection, nothing else.`

	text, err := c.completer.complete(ctx, []tokens.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: fmt.Sprintf("How might this message be received? %q", userMessage)},
	}, reflectSampling)
	if err != nil || text == "" {
		c.observe("reflect", "fallback")
		c.logger.WithContext(ctx).WithError(err).Debug("tone reflection degraded")
		return fallbackReflection
	}

	c.observe("reflect", "ok")
	return text
}

// Analyze implements Client. The reply must be strict JSON; anything it
// gets wrong falls back to the keyword heuristic rather than erroring.
func (c *client) Analyze(ctx context.Context, userMessage string) []Span {
	prompt := fmt.Sprintf(`Highlight message segments as positive, neutral, or negative.
Return STRICT JSON only: {"spans":[{"start":number,"end":number,"label":"positive|neutral|negative"},...]}
"start"/"end" are character indices in the ORIGINAL string. No extra fields, no explanation.
Message: %q`, userMessage)

	text, err := c.completer.complete(ctx, []tokens.Message{
		{Role: "system", Content: advisorBase + " Output JSON only."},
		{Role: "user", Content: prompt},
	}, analyzeSampling)
	if err != nil {
		c.observe("analyze", "fallback")
		return heuristicSpans(userMessage)
	}

	var parsed struct {
		Spans []Span `json:"spans"`
	}
	if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr != nil || !validSpans(parsed.Spans, len(userMessage)) {
		c.observe("analyze", "fallback")
		return heuristicSpans(userMessage)
	}

	c.observe("analyze", "ok")
	return parsed.Spans
}

// Rephrase implements Client.
func (c *client) Rephrase(ctx context.Context, userMessage string) []string {
	text, err := c.completer.complete(ctx, []tokens.Message{
		{Role: "system", Content: advisorBase + ` Use I-statements, remove blame/absolutes, <25 words. Return JSON only: {"variants":[...]}`},
		{Role: "user", Content: fmt.Sprintf("Rephrase kindly using I-statements (<25 words): %q", userMessage)},
	}, rephraseSampling)
	if err != nil {
		c.observe("rephrase", "fallback")
		return []string{userMessage}
	}

	var parsed struct {
		Variants []string `json:"variants"`
	}
	if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr != nil || len(parsed.Variants) == 0 {
		c.observe("rephrase", "fallback")
		return []string{userMessage}
	}

	c.observe("rephrase", "ok")
	return clampStrings(parsed.Variants, 3)
}

// Suggest implements Client.
func (c *client) Suggest(ctx context.Context, context_ string) []string {
	text, err := c.completer.complete(ctx, []tokens.Message{
		{Role: "system", Content: advisorBase + ` Provide 2-3 short suggestions. Default very short. Return JSON only: {"suggestions":[...]}`},
		{Role: "user", Content: fmt.Sprintf("Suggest 2-3 gentle openings (very short) for: %q", context_)},
	}, suggestSampling)
	if err != nil {
		c.observe("suggest", "fallback")
		return fallbackSuggestions
	}

	var parsed struct {
		Suggestions []string `json:"suggestions"`
	}
	if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr != nil || len(parsed.Suggestions) == 0 {
		c.observe("suggest", "fallback")
		return fallbackSuggestions
	}

	c.observe("suggest", "ok")
	return clampStrings(parsed.Suggestions, 3)
}

// Perspective implements Client.
func (c *client) Perspective(ctx context.Context, context_ string) Insight {
	system := advisorBase + ` Output JSON only: {"triggers":string,"impact":string,"action":string}. Use: Triggers, Impact, Action. Describe feelings with 'may feel/might feel'.`
	user := fmt.Sprintf("Give very short perspective using Triggers/Impact/Action for: %q", context_)
	return c.insight(ctx, "perspective", system, user, perspectiveSampling, fallbackPerspective)
}

// Summarize implements Client.
func (c *client) Summarize(ctx context.Context, context_ string) Insight {
	system := advisorBase + ` Summarize very briefly. Output JSON only: {"triggers":string,"impact":string,"action":string}.`
	user := fmt.Sprintf("Summarize (Triggers/Impact/Action) the conversation: %q", context_)
	return c.insight(ctx, "summary", system, user, summarySampling, fallbackSummary)
}

func (c *client) insight(ctx context.Context, op, system, user string, s sampling, fallback Insight) Insight {
	text, err := c.completer.complete(ctx, []tokens.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, s)
	if err != nil {
		c.observe(op, "fallback")
		return fallback
	}

	var parsed Insight
	if jsonErr := json.Unmarshal([]byte(text), &parsed); jsonErr != nil ||
		parsed.Triggers == "" || parsed.Impact == "" || parsed.Action == "" {
		c.observe(op, "fallback")
		return fallback
	}

	c.observe(op, "ok")
	return parsed
}

// validSpans re-validates the structured reply shape before trusting it.
func validSpans(spans []Span, messageLen int) bool {
	if len(spans) == 0 {
		return false
	}
	for _, s := range spans {
		if s.Start < 0 || s.End < s.Start || s.End > messageLen {
			return false
		}
		switch s.Label {
		case "positive", "neutral", "negative":
		default:
			return false
		}
	}
	return true
}

func clampStrings(in []string, max int) []string {
	if len(in) > max {
		return in[:max]
	}
	return in
}
