package conversation

import (
	"strings"

	"golang.org/x/net/html"
)

// cleanThreshold is the length under which text with no suspicious
// characters is returned as-is (trimmed). Short clean text dominates model
// output; skipping the full pass keeps it byte-faithful.
const cleanThreshold = 256

// Sanitize is the text-hygiene pass applied to inbound Text blocks: strips
// HTML tags and entities, unescapes common JSON artifacts, collapses runs of
// whitespace, and trims.
func Sanitize(s string) string {
	if len(s) <= cleanThreshold && !strings.ContainsAny(s, "<&\\") {
		return strings.TrimSpace(s)
	}

	if strings.ContainsRune(s, '<') {
		s = stripTags(s)
	}
	// Entities may appear with or without surrounding tags.
	s = html.UnescapeString(s)
	s = unescapeJSONArtifacts(s)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

// stripTags drops markup and keeps text content, skipping script and style
// bodies entirely.
func stripTags(s string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

// unescapeJSONArtifacts undoes the escape sequences that survive when a JSON
// string is pasted into plain text.
func unescapeJSONArtifacts(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	replacer := strings.NewReplacer(
		`\n`, "\n",
		`\t`, "\t",
		`\"`, `"`,
		`\\`, `\`,
		`\/`, "/",
	)
	return replacer.Replace(s)
}

// collapseWhitespace squeezes horizontal whitespace runs to one space and
// runs of more than two newlines to a paragraph break.
func collapseWhitespace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space, newlines := false, 0
	for _, r := range s {
		switch r {
		case '\n':
			newlines++
			space = false
		case ' ', '\t', '\r':
			space = true
		default:
			if newlines > 0 {
				if newlines >= 2 {
					sb.WriteString("\n\n")
				} else {
					sb.WriteByte('\n')
				}
				newlines = 0
			} else if space {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
