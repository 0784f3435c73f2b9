// Package loop drives a full user turn: model call, tool dispatch, and
// termination on a sentinel, an error, or the depth cap.
package loop

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/agent"
	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/mcp"
)

// DefaultMaxDepth bounds model re-evaluations within one user turn.
const DefaultMaxDepth = 10

// depthDiagnostic terminates a turn that never produced a sentinel.
const depthDiagnostic = "Maximum re-evaluation depth reached; stopping here. Ask again to continue."

// ToolDispatcher is the slice of the toolbox the loop needs.
// *toolbox.Toolbox satisfies it.
type ToolDispatcher interface {
	AvailableTools() []mcp.ToolDescriptor
	ExecuteTool(ctx context.Context, tu conversation.ToolUse) conversation.ToolResult
}

// Options configures a Loop. Zero values take defaults; a zero TurnTimeout
// means no per-turn deadline.
type Options struct {
	MaxDepth    int
	TurnTimeout time.Duration
	Transcripts *TranscriptLogger
}

// Loop owns the conversation lifetime for a session. It is not safe for
// concurrent turns; sessions are sequential by design.
type Loop struct {
	agent       agent.Agent
	tools       ToolDispatcher
	maxDepth    int
	turnTimeout time.Duration
	transcripts *TranscriptLogger
}

// New builds a Loop over an agent and a dispatcher.
func New(a agent.Agent, tools ToolDispatcher, opts Options) *Loop {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Loop{
		agent:       a,
		tools:       tools,
		maxDepth:    opts.MaxDepth,
		turnTimeout: opts.TurnTimeout,
		transcripts: opts.Transcripts,
	}
}

// RunTurn appends the user query and drives model calls until a sentinel,
// an agent error, or the depth cap terminates the turn. Agent errors do not
// propagate; they are recorded as a system-role Exception. The returned
// conversation is always valid per Conversation.Validate.
func (l *Loop) RunTurn(ctx context.Context, conv conversation.Conversation, query string) conversation.Conversation {
	if l.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.turnTimeout)
		defer cancel()
	}
	conv = conv.Append(conversation.NewUserText(query))

	for depth := 0; ; depth++ {
		blocks, err := l.agent.Chat(ctx, conv, l.tools.AvailableTools())
		if err != nil {
			conv = conv.Append(conversation.Message{
				Role:    conversation.RoleSystem,
				Content: []conversation.Block{conversation.Exception{Message: err.Error()}},
			})
			break
		}

		var scratch []conversation.Block
		flush := func() {
			if len(scratch) > 0 {
				conv = conv.Append(conversation.Message{Role: conversation.RoleAssistant, Content: scratch})
				scratch = nil
			}
		}

		terminal := false
		for i, b := range blocks {
			switch v := b.(type) {
			case conversation.Text, conversation.Thinking:
				scratch = append(scratch, b)

			case conversation.ToolUse:
				// The assistant message must land before its result so the
				// tool_use/tool_result pairing stays adjacent.
				scratch = append(scratch, b)
				flush()
				result := l.tools.ExecuteTool(ctx, v)
				conv = conv.Append(conversation.Message{
					Role:    conversation.RoleUser,
					Content: []conversation.Block{result},
				})

			case conversation.UserInput, conversation.FinalResponse:
				scratch = append(scratch, b)
				flush()
				terminal = true
			}
			if terminal {
				if i < len(blocks)-1 {
					log.Printf("[Loop] dropping %d blocks after terminal sentinel", len(blocks)-1-i)
				}
				break
			}
		}
		flush()

		if terminal {
			break
		}
		if depth >= l.maxDepth {
			conv = conv.Append(conversation.Message{
				Role:    conversation.RoleAssistant,
				Content: []conversation.Block{conversation.Text{Text: depthDiagnostic, Visible: true}},
			})
			break
		}
	}

	if l.transcripts != nil {
		if path, err := l.transcripts.WriteTurn(conv); err != nil {
			log.Printf("[Loop] transcript write failed: %v", err)
		} else {
			log.Printf("[Loop] transcript written to %s", path)
		}
	}
	return conv
}

// RenderUserFacing projects the user-visible text of msgs: visible text,
// sentinel bodies and exception messages, in order.
func RenderUserFacing(msgs []conversation.Message) string {
	var parts []string
	for _, m := range msgs {
		for _, b := range m.Content {
			if !b.UserFacing() {
				continue
			}
			switch v := b.(type) {
			case conversation.Text:
				parts = append(parts, v.Text)
			case conversation.UserInput:
				parts = append(parts, v.Request)
			case conversation.FinalResponse:
				parts = append(parts, v.Response)
			case conversation.Exception:
				parts = append(parts, "error: "+v.Message)
			}
		}
	}
	return strings.Join(parts, "\n")
}
