// Package conversation holds the vendor-neutral message model: typed content
// blocks, sentinel classification, and the text-hygiene pass applied to
// inbound text. The agent package translates these blocks to and from the
// vendor wire format; nothing here depends on any LLM SDK.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrImageContent rejects image parts in tool results at ingest.
var ErrImageContent = errors.New("conversation: image content is not supported in tool results")

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is the sealed sum of content block variants. The set of
// implementations is fixed; switch on the concrete type to consume one.
type Block interface {
	isBlock()
	// UserFacing reports whether the block belongs in the compact stdout
	// projection of a turn.
	UserFacing() bool
}

// Text is plain assistant or user text.
type Text struct {
	Text    string
	Visible bool
}

// Thinking is a model reasoning block; never user facing. The signature is
// an opaque vendor token that must round-trip unchanged.
type Thinking struct {
	Signature string
	Text      string
}

// ToolUse is a model request to invoke a tool. ID is an opaque correlation
// token minted by the model and echoed verbatim by the matching ToolResult.
type ToolUse struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult carries a tool's output back into the conversation.
type ToolResult struct {
	ToolUseID string
	Content   []Text
	IsError   bool
}

// UserInput is the terminal sentinel asking the human for more input.
type UserInput struct {
	Request string
}

// FinalResponse is the terminal sentinel carrying the answer.
type FinalResponse struct {
	Response string
}

// Exception surfaces a caught error to the user without terminating
// classification semantics of its own.
type Exception struct {
	Message string
}

func (Text) isBlock()          {}
func (Thinking) isBlock()      {}
func (ToolUse) isBlock()       {}
func (ToolResult) isBlock()    {}
func (UserInput) isBlock()     {}
func (FinalResponse) isBlock() {}
func (Exception) isBlock()     {}

func (t Text) UserFacing() bool        { return t.Visible }
func (Thinking) UserFacing() bool      { return false }
func (ToolUse) UserFacing() bool       { return false }
func (ToolResult) UserFacing() bool    { return false }
func (UserInput) UserFacing() bool     { return true }
func (FinalResponse) UserFacing() bool { return true }
func (Exception) UserFacing() bool     { return true }

// Message is one turn entry. Content is append-only while the turn runs; a
// flushed Message is treated as immutable.
type Message struct {
	Role    Role
	Content []Block
}

// Conversation is an ordered message sequence.
type Conversation []Message

// Append returns the conversation with msg appended. The receiver is not
// modified beyond the usual slice aliasing rules; callers keep the result.
func (c Conversation) Append(msg Message) Conversation {
	return append(c, msg)
}

// NewUserText builds the canonical user message for a query.
func NewUserText(query string) Message {
	return Message{Role: RoleUser, Content: []Block{Text{Text: query, Visible: true}}}
}

// Validate checks the tool correlation invariant: every ToolResult must be
// preceded by a ToolUse carrying the same ID.
func (c Conversation) Validate() error {
	seen := make(map[string]bool)
	for i, msg := range c {
		for _, b := range msg.Content {
			switch v := b.(type) {
			case ToolUse:
				seen[v.ID] = true
			case ToolResult:
				if !seen[v.ToolUseID] {
					return fmt.Errorf("conversation: message %d has tool result %q with no preceding tool use", i, v.ToolUseID)
				}
			}
		}
	}
	return nil
}
