// Package provider abstracts the AI backend behind a single client that
// can target either a hosted completion API or an operator-supplied custom
// HTTP endpoint with an unknown response shape.
package provider

import (
	"context"

	"github.com/quietline/quietline/internal/tokens"
)

// Reply is a normalized chat response regardless of upstream shape.
type Reply struct {
	Text  string `json:"reply"`
	Model string `json:"model"`
}

// Span labels a character range of the analyzed message.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Label string `json:"label"` // positive | neutral | negative
}

// Insight is the triggers/impact/action shape shared by perspective and
// summary operations.
type Insight struct {
	Triggers string `json:"triggers"`
	Impact   string `json:"impact"`
	Action   string `json:"action"`
}

// Client is the provider abstraction. Chat surfaces errors; the advisory
// operations never do — they degrade to fixed neutral fallbacks instead.
type Client interface {
	// Chat sends the conversation and returns the assistant reply.
	// Failures surface as AI_UNAVAILABLE.
	Chat(ctx context.Context, messages []tokens.Message) (Reply, error)

	// ReflectTone returns a gentle reflection of how the message may land.
	ReflectTone(ctx context.Context, userMessage string) string

	// Analyze labels message segments positive/neutral/negative.
	Analyze(ctx context.Context, userMessage string) []Span

	// Rephrase suggests up to three kinder variants of the message.
	Rephrase(ctx context.Context, userMessage string) []string

	// Suggest proposes up to three short openings for the context.
	Suggest(ctx context.Context, context string) []string

	// Perspective gives a triggers/impact/action view of the context.
	Perspective(ctx context.Context, context string) Insight

	// Summarize condenses a conversation into triggers/impact/action.
	Summarize(ctx context.Context, context string) Insight

	// Model reports the configured model identifier.
	Model() string
}

// Neutral fallbacks for soft-degrading operations.
var (
	fallbackReflection  = "This message comes through clearly."
	fallbackSuggestions = []string{"I want to share this kindly.", "Can we talk about this together?"}
	fallbackPerspective = Insight{
		Triggers: "Different needs surfaced.",
		Impact:   "Partner may feel unheard.",
		Action:   "Use I-statements and ask what they need.",
	}
	fallbackSummary = Insight{
		Triggers: "Recurring trigger identified.",
		Impact:   "Both may feel tense.",
		Action:   "Agree on one small change and appreciation.",
	}
)

// Observer records provider call outcomes, typically into metrics.
type Observer func(operation, outcome string)
