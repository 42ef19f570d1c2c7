package provider

import (
	"sort"
	"strings"
)

// Keyword lists for the static analysis fallback.
var (
	positiveWords = []string{"appreciate", "thank", "love", "understand", "together", "sorry", "kind"}
	negativeWords = []string{"always", "never", "hate", "stupid", "useless", "blame", "angry", "annoying"}
)

// heuristicSpans labels known positive/negative keywords and fills the
// gaps with neutral spans covering the rest of the message.
func heuristicSpans(message string) []Span {
	if message == "" {
		return []Span{{Start: 0, End: 0, Label: "neutral"}}
	}

	lower := strings.ToLower(message)

	var labeled []Span
	for _, w := range positiveWords {
		if i := strings.Index(lower, w); i >= 0 {
			labeled = append(labeled, Span{Start: i, End: i + len(w), Label: "positive"})
		}
	}
	for _, w := range negativeWords {
		if i := strings.Index(lower, w); i >= 0 {
			labeled = append(labeled, Span{Start: i, End: i + len(w), Label: "negative"})
		}
	}

	sort.Slice(labeled, func(i, j int) bool { return labeled[i].Start < labeled[j].Start })

	var out []Span
	cursor := 0
	for _, s := range labeled {
		if cursor < s.Start {
			out = append(out, Span{Start: cursor, End: s.Start, Label: "neutral"})
		}
		out = append(out, s)
		if s.End > cursor {
			cursor = s.End
		}
	}
	if cursor < len(message) {
		out = append(out, Span{Start: cursor, End: len(message), Label: "neutral"})
	}
	return out
}
