// Package tokens provides a heuristic token cost estimator for chat messages.
package tokens

import "strings"

// Message is a single chat-style message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	// charsPerToken is a rough characters-per-token ratio. Good enough for
	// budget gating, not for exact billing.
	charsPerToken = 4

	// MinCost is the per-request floor. It keeps empty or near-empty
	// requests from bypassing the budget at zero cost.
	MinCost = 20
)

// Estimate returns the estimated token cost of the given messages.
// Contents are joined with single spaces and divided by the chars-per-token
// ratio, rounding up. The result never goes below MinCost and is monotonic
// in total content length.
func Estimate(messages []Message) int {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(m.Content)
	}

	cost := (b.Len() + charsPerToken - 1) / charsPerToken
	if cost < MinCost {
		return MinCost
	}
	return cost
}
