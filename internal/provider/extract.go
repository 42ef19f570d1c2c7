package provider

import "github.com/tidwall/gjson"

// FallbackReply is returned when no reply text can be recovered from a
// provider response.
const FallbackReply = "I'm here to listen."

// extractor pulls an optional reply string out of a parsed JSON value.
type extractor func(gjson.Result) string

func field(path string) extractor {
	return func(v gjson.Result) string {
		r := v.Get(path)
		if r.Type == gjson.String {
			return r.String()
		}
		return ""
	}
}

// replyExtractors probe completion-like response shapes in fixed priority
// order. First non-empty string wins.
var replyExtractors = []extractor{
	field("reply"),
	field("content"),
	field("message"),
	field("text"),
	field("response"),
	field("choices.0.message.content"),
	field("choices.0.text"),
}

// ExtractReply normalizes a heterogeneous completion-style JSON body to a
// reply string without requiring any schema. Returns FallbackReply when
// nothing matches.
func ExtractReply(body []byte) string {
	if !gjson.ValidBytes(body) {
		return FallbackReply
	}
	parsed := gjson.ParseBytes(body)
	for _, extract := range replyExtractors {
		if s := extract(parsed); s != "" {
			return s
		}
	}
	return FallbackReply
}
