package agent

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/toolgate/toolgate/internal/conversation"
	"github.com/toolgate/toolgate/internal/mcp"
)

type fakeMessages struct {
	got   sdk.MessageNewParams
	reply *sdk.Message
	err   error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return f.reply, f.err
}

func testAgent(fake *fakeMessages) *AnthropicAgent {
	return &AnthropicAgent{
		msgs:      fake,
		model:     sdk.Model("test-model"),
		maxTokens: 512,
		system:    "system prompt",
	}
}

func TestNewAnthropicRequiresKeyAndModel(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{Model: "m"}); err == nil {
		t.Error("missing API key should error")
	}
	if _, err := NewAnthropic(AnthropicConfig{APIKey: "k"}); err == nil {
		t.Error("missing model should error")
	}
	a, err := NewAnthropic(AnthropicConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if a.maxTokens != 4096 {
		t.Errorf("default maxTokens = %d", a.maxTokens)
	}
	if a.system != DefaultSystemPrompt {
		t.Error("default system prompt not applied")
	}
}

func TestChatEncodesConversationAndTools(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{}}
	a := testAgent(fake)

	conv := conversation.Conversation{
		conversation.NewUserText("weather in Paris"),
		{Role: conversation.RoleAssistant, Content: []conversation.Block{
			conversation.Thinking{Signature: "sig", Text: "considering"},
			conversation.ToolUse{ID: "t1", Name: "weather", Args: json.RawMessage(`{"city":"Paris"}`)},
		}},
		{Role: conversation.RoleUser, Content: []conversation.Block{
			conversation.ToolResult{ToolUseID: "t1", Content: []conversation.Text{{Text: "18°C"}}},
		}},
	}
	tools := []mcp.ToolDescriptor{
		{Name: "weather", Description: "city forecast", InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
		{Name: "bare"},
	}
	if _, err := a.Chat(context.Background(), conv, tools); err != nil {
		t.Fatal(err)
	}
	if fake.got.MaxTokens != 512 || fake.got.Model != sdk.Model("test-model") {
		t.Errorf("params = %+v", fake.got)
	}
	if len(fake.got.System) == 0 || fake.got.System[0].Text != "system prompt" {
		t.Error("system prompt not first system block")
	}
	if len(fake.got.Messages) != 3 {
		t.Fatalf("encoded %d messages, want 3", len(fake.got.Messages))
	}
	if len(fake.got.Tools) != 2 {
		t.Fatalf("encoded %d tools, want 2", len(fake.got.Tools))
	}
	if fake.got.Tools[0].OfTool == nil || fake.got.Tools[0].OfTool.Name != "weather" {
		t.Error("first tool not encoded as plain tool")
	}
}

func TestChatSystemMessagesBecomeSystemBlocks(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{}}
	a := testAgent(fake)
	conv := conversation.Conversation{
		conversation.NewUserText("hello"),
		{Role: conversation.RoleSystem, Content: []conversation.Block{
			conversation.Exception{Message: "tool backend restarted"},
		}},
	}
	if _, err := a.Chat(context.Background(), conv, nil); err != nil {
		t.Fatal(err)
	}
	if len(fake.got.Messages) != 1 {
		t.Fatalf("system message leaked into conversation: %d messages", len(fake.got.Messages))
	}
	if len(fake.got.System) != 2 || fake.got.System[1].Text != "tool backend restarted" {
		t.Errorf("system blocks = %+v", fake.got.System)
	}
}

func TestChatEmptyConversationErrors(t *testing.T) {
	a := testAgent(&fakeMessages{reply: &sdk.Message{}})
	if _, err := a.Chat(context.Background(), nil, nil); err == nil {
		t.Fatal("empty conversation should error")
	}
}

func TestDecodeResponseClassifiesSentinels(t *testing.T) {
	msg := &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "thinking", Thinking: "private reasoning", Signature: "sig"},
		{Type: "text", Text: "FINAL_RESPONSE: 18°C in Paris"},
	}}
	blocks, err := decodeResponse(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 {
		t.Fatalf("decoded %d blocks, want 2", len(blocks))
	}
	th, ok := blocks[0].(conversation.Thinking)
	if !ok || th.Text != "private reasoning" || th.Signature != "sig" {
		t.Errorf("blocks[0] = %#v", blocks[0])
	}
	fr, ok := blocks[1].(conversation.FinalResponse)
	if !ok || fr.Response != "18°C in Paris" {
		t.Errorf("blocks[1] = %#v", blocks[1])
	}
}

func TestDecodeResponseKeepsToolUseArgs(t *testing.T) {
	msg := &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "tool_use", ID: "t9", Name: "weather", Input: json.RawMessage(`{"city":"Paris"}`)},
	}}
	blocks, err := decodeResponse(msg)
	if err != nil {
		t.Fatal(err)
	}
	tu, ok := blocks[0].(conversation.ToolUse)
	if !ok || tu.ID != "t9" || tu.Name != "weather" {
		t.Fatalf("blocks[0] = %#v", blocks[0])
	}
	var args map[string]string
	if err := json.Unmarshal(tu.Args, &args); err != nil || args["city"] != "Paris" {
		t.Errorf("args = %s", tu.Args)
	}
}

func TestDecodeResponseSanitizesText(t *testing.T) {
	long := make([]byte, 0, 600)
	for i := 0; i < 30; i++ {
		long = append(long, "<p>twenty characters</p>"...)
	}
	msg := &sdk.Message{Content: []sdk.ContentBlockUnion{
		{Type: "text", Text: string(long)},
	}}
	blocks, err := decodeResponse(msg)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := blocks[0].(conversation.Text)
	if !ok {
		t.Fatalf("blocks[0] = %#v", blocks[0])
	}
	if !text.Visible {
		t.Error("assistant text should be user-facing")
	}
	for _, c := range text.Text {
		if c == '<' || c == '>' {
			t.Fatalf("markup survived sanitization: %q", text.Text)
		}
	}
}

func TestSentinelRoundTripsThroughEncode(t *testing.T) {
	fake := &fakeMessages{reply: &sdk.Message{}}
	a := testAgent(fake)
	conv := conversation.Conversation{
		conversation.NewUserText("hi"),
		{Role: conversation.RoleAssistant, Content: []conversation.Block{
			conversation.UserInput{Request: "which city?"},
		}},
		conversation.NewUserText("Paris"),
	}
	if _, err := a.Chat(context.Background(), conv, nil); err != nil {
		t.Fatal(err)
	}
	blocks := fake.got.Messages[1].Content
	if len(blocks) != 1 || blocks[0].OfText == nil {
		t.Fatalf("sentinel not encoded as text: %+v", blocks)
	}
	if got := blocks[0].OfText.Text; got != "NEED_USER_INPUT: which city?" {
		t.Errorf("encoded sentinel = %q", got)
	}
}
