// Package agent defines the per-turn model contract and its Anthropic
// implementation.
package agent

import (
	"context"

	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/mcp"
)

// Agent makes exactly one model request per call: it translates the
// conversation and tool list into the vendor wire form and translates the
// response back into neutral blocks, sentinels included. Implementations
// are stateless across calls and never touch the toolbox.
type Agent interface {
	Chat(ctx context.Context, conv conversation.Conversation, tools []mcp.ToolDescriptor) ([]conversation.Block, error)
}
