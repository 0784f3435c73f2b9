package conversation

import (
	"regexp"
	"strings"
)

// Sentinel markers the model emits inside plain text. The vendor adapter
// lifts matching text blocks into typed terminal blocks on ingest.
const (
	MarkerUserInput     = "NEED_USER_INPUT"
	MarkerFinalResponse = "FINAL_RESPONSE"
)

// A marker may be followed by an optional colon; the body runs to the first
// blank line or end of string.
var (
	userInputRe     = regexp.MustCompile(`(?s)` + MarkerUserInput + `\s*:?\s*(.*?)(?:\n[ \t]*\n|\z)`)
	finalResponseRe = regexp.MustCompile(`(?s)` + MarkerFinalResponse + `\s*:?\s*(.*?)(?:\n[ \t]*\n|\z)`)
)

// Classify rewrites a Text block whose body contains a sentinel marker into
// the corresponding terminal block. Other blocks, including blocks already
// classified, pass through unchanged, so Classify is idempotent.
//
// FINAL_RESPONSE takes precedence when both markers appear.
func Classify(b Block) Block {
	t, ok := b.(Text)
	if !ok {
		return b
	}
	if m := finalResponseRe.FindStringSubmatch(t.Text); m != nil {
		return FinalResponse{Response: strings.TrimSpace(m[1])}
	}
	if m := userInputRe.FindStringSubmatch(t.Text); m != nil {
		return UserInput{Request: strings.TrimSpace(m[1])}
	}
	return b
}

// MarkerText serializes a terminal sentinel back into the vendor text form.
// Used on emit so a replayed conversation round-trips.
func MarkerText(b Block) (string, bool) {
	switch v := b.(type) {
	case UserInput:
		return MarkerUserInput + ": " + v.Request, true
	case FinalResponse:
		return MarkerFinalResponse + ": " + v.Response, true
	default:
		return "", false
	}
}
