package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/mcp"
)

// DefaultSystemPrompt teaches the model the sentinel protocol and the
// registry discovery flow.
const DefaultSystemPrompt = `You are a capable assistant with access to tools served over MCP.

Tool discovery: if none of your current tools fit the task, call query-tools
with a description of the capability you need. Matching tools become
available on your next step.

Ending a turn: when you need more information from the user, reply with a
message starting with "NEED_USER_INPUT:" followed by your question. When the
task is complete, reply with a message starting with "FINAL_RESPONSE:"
followed by your answer. Use exactly one of these markers, and only when you
are not calling a tool in the same step.`

// messageAPI is the slice of the Anthropic SDK the agent calls.
type messageAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicConfig configures an AnthropicAgent. APIKey is required; the
// rest defaults.
type AnthropicConfig struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	APIVersion   string // overrides the anthropic-version header when set
	SystemPrompt string
}

// AnthropicAgent implements Agent against the Anthropic Messages API.
type AnthropicAgent struct {
	msgs      messageAPI
	model     sdk.Model
	maxTokens int64
	system    string
	reqOpts   []option.RequestOption
}

// NewAnthropic builds an agent from config.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicAgent, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("agent: anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("agent: model name is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	a := &AnthropicAgent{
		msgs:      &ac.Messages,
		model:     sdk.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		system:    cfg.SystemPrompt,
	}
	if cfg.APIVersion != "" {
		a.reqOpts = append(a.reqOpts, option.WithHeader("anthropic-version", cfg.APIVersion))
	}
	return a, nil
}

// Chat issues one Messages request and returns the neutral blocks of the
// assistant's reply.
func (a *AnthropicAgent) Chat(ctx context.Context, conv conversation.Conversation, tools []mcp.ToolDescriptor) ([]conversation.Block, error) {
	msgs, system, err := encodeConversation(conv)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: a.maxTokens,
		Messages:  msgs,
		Model:     a.model,
		System:    append([]sdk.TextBlockParam{{Text: a.system}}, system...),
	}
	encoded, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}
	if len(encoded) > 0 {
		params.Tools = encoded
	}
	msg, err := a.msgs.New(ctx, params, a.reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("agent: anthropic request: %w", err)
	}
	return decodeResponse(msg)
}

// encodeConversation translates neutral messages into SDK params. System
// messages become extra system text blocks rather than conversation turns.
func encodeConversation(conv conversation.Conversation) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	if len(conv) == 0 {
		return nil, nil, errors.New("agent: conversation is empty")
	}
	var msgs []sdk.MessageParam
	var system []sdk.TextBlockParam
	for _, m := range conv {
		if m.Role == conversation.RoleSystem {
			var parts []string
			for _, b := range m.Content {
				parts = append(parts, blockText(b))
			}
			system = append(system, sdk.TextBlockParam{Text: strings.Join(parts, "\n")})
			continue
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			enc, err := encodeBlock(b)
			if err != nil {
				return nil, nil, err
			}
			blocks = append(blocks, enc)
		}
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case conversation.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("agent: unsupported role %q", m.Role)
		}
	}
	if len(msgs) == 0 {
		return nil, nil, errors.New("agent: at least one user or assistant message is required")
	}
	return msgs, system, nil
}

func encodeBlock(b conversation.Block) (sdk.ContentBlockParamUnion, error) {
	switch v := b.(type) {
	case conversation.Text:
		return sdk.NewTextBlock(v.Text), nil
	case conversation.Thinking:
		return sdk.NewThinkingBlock(v.Signature, v.Text), nil
	case conversation.ToolUse:
		var input any = map[string]any{}
		if len(v.Args) > 0 {
			input = json.RawMessage(v.Args)
		}
		return sdk.NewToolUseBlock(v.ID, input, v.Name), nil
	case conversation.ToolResult:
		var parts []string
		for _, t := range v.Content {
			parts = append(parts, t.Text)
		}
		return sdk.NewToolResultBlock(v.ToolUseID, strings.Join(parts, "\n"), v.IsError), nil
	case conversation.UserInput, conversation.FinalResponse, conversation.Exception:
		// Sentinels round-trip as marker text so the model sees its own
		// prior terminations verbatim.
		return sdk.NewTextBlock(blockText(b)), nil
	default:
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("agent: unsupported block type %T", b)
	}
}

// blockText renders a block for contexts that only carry text.
func blockText(b conversation.Block) string {
	switch v := b.(type) {
	case conversation.Text:
		return v.Text
	case conversation.Exception:
		return v.Message
	default:
		if text, ok := conversation.MarkerText(b); ok {
			return text
		}
		return ""
	}
}

func encodeTools(tools []mcp.ToolDescriptor) ([]sdk.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var m map[string]any
		if err := json.Unmarshal(tool.Schema(), &m); err != nil {
			return nil, fmt.Errorf("agent: tool %q schema: %w", tool.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: m}, tool.Name)
		if u.OfTool != nil && tool.Description != "" {
			u.OfTool.Description = sdk.String(tool.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

// decodeResponse maps SDK content blocks back to neutral blocks. Text runs
// through sanitization and sentinel classification.
func decodeResponse(msg *sdk.Message) ([]conversation.Block, error) {
	if msg == nil {
		return nil, errors.New("agent: nil response message")
	}
	var out []conversation.Block
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			clean := conversation.Sanitize(block.Text)
			out = append(out, conversation.Classify(conversation.Text{Text: clean, Visible: true}))
		case "thinking":
			out = append(out, conversation.Thinking{Signature: block.Signature, Text: block.Thinking})
		case "tool_use":
			out = append(out, conversation.ToolUse{
				ID:   block.ID,
				Name: block.Name,
				Args: json.RawMessage(block.Input),
			})
		}
	}
	return out, nil
}
