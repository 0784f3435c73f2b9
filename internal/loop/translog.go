package loop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/util"
)

// toolOutputLimit caps tool result bodies in transcripts.
const toolOutputLimit = 4000

// TranscriptLogger writes one markdown file per turn with the complete
// conversation, under a fixed directory.
type TranscriptLogger struct {
	dir string
	now func() time.Time
}

// NewTranscriptLogger ensures dir exists and returns a logger writing into
// it.
func NewTranscriptLogger(dir string) (*TranscriptLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("loop: create transcript dir: %w", err)
	}
	return &TranscriptLogger{dir: dir, now: time.Now}, nil
}

// WriteTurn renders the full conversation to a fresh timestamped file and
// returns its path.
func (l *TranscriptLogger) WriteTurn(conv conversation.Conversation) (string, error) {
	ts := l.now().Format("20060102-150405")
	path := filepath.Join(l.dir, fmt.Sprintf("conversation-%s-%s.md", ts, uuid.NewString()[:8]))
	var sb strings.Builder
	sb.WriteString("# Conversation Transcript\n\n")
	fmt.Fprintf(&sb, "**Time**: %s  \n", l.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Messages**: %d\n\n---\n\n", len(conv))
	for i, msg := range conv {
		fmt.Fprintf(&sb, "## %d. %s\n\n", i+1, msg.Role)
		for _, b := range msg.Content {
			writeBlock(&sb, b)
		}
		sb.WriteString("---\n\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("loop: write transcript: %w", err)
	}
	return path, nil
}

func writeBlock(sb *strings.Builder, b conversation.Block) {
	switch v := b.(type) {
	case conversation.Text:
		fmt.Fprintf(sb, "%s\n\n", v.Text)
	case conversation.Thinking:
		fmt.Fprintf(sb, "> %s\n\n", strings.ReplaceAll(v.Text, "\n", "\n> "))
	case conversation.ToolUse:
		fmt.Fprintf(sb, "**Tool call**: `%s` (%s)\n\n", v.Name, v.ID)
		if len(v.Args) > 0 {
			fmt.Fprintf(sb, "<details>\n<summary>Arguments</summary>\n\n```json\n%s\n```\n\n</details>\n\n", util.IndentJSON(v.Args))
		}
	case conversation.ToolResult:
		label := "Tool result"
		if v.IsError {
			label = "Tool result (error)"
		}
		var parts []string
		for _, t := range v.Content {
			parts = append(parts, t.Text)
		}
		body := util.TruncateRunes(strings.Join(parts, "\n"), toolOutputLimit)
		fmt.Fprintf(sb, "**%s**: `%s`\n\n<details>\n<summary>Output</summary>\n\n```\n%s\n```\n\n</details>\n\n", label, v.ToolUseID, body)
	case conversation.UserInput:
		fmt.Fprintf(sb, "**%s**: %s\n\n", conversation.MarkerUserInput, v.Request)
	case conversation.FinalResponse:
		fmt.Fprintf(sb, "**%s**: %s\n\n", conversation.MarkerFinalResponse, v.Response)
	case conversation.Exception:
		fmt.Fprintf(sb, "**Exception**: %s\n\n", v.Message)
	}
}
