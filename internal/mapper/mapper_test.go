package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestOpenAIToClaude_RoundTripShape(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]string{"q": "x"})
	req := openai.ChatRequest{
		Model: "gpt-4",
		Messages: []openai.ChatMessage{
			{Role: "system", Content: rawString("be terse")},
			{Role: "user", Content: rawString("hello")},
			{Role: "assistant", Content: rawString(""), ToolCalls: []openai.ToolCall{
				{ID: "call_1", Type: "function", Function: openai.FunctionCall{Name: "search", Arguments: string(toolArgs)}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: rawString("result text")},
		},
	}

	claude := OpenAIToClaude(req)
	require.Equal(t, "gpt-4", claude.Model)
	require.Len(t, claude.Messages, 3)

	var sys string
	require.NoError(t, json.Unmarshal(claude.System, &sys))
	require.Equal(t, "be terse", sys)

	var assistantBlocks []anthropic.ContentBlock
	require.NoError(t, json.Unmarshal(claude.Messages[1].Content, &assistantBlocks))
	require.Equal(t, "tool_use", assistantBlocks[0].Type)
	require.Equal(t, "search", assistantBlocks[0].Name)

	var toolResultBlocks []anthropic.ContentBlock
	require.NoError(t, json.Unmarshal(claude.Messages[2].Content, &toolResultBlocks))
	require.Equal(t, "tool_result", toolResultBlocks[0].Type)
	require.Equal(t, "call_1", toolResultBlocks[0].ToolUseID)

	back := ClaudeToOpenAI(anthropic.ChatResponse{
		Content: []anthropic.ContentBlock{
			{Type: "text", Text: "answer"},
			{Type: "tool_use", ID: "call_2", Name: "search", Input: json.RawMessage(`{"q":"y"}`)},
		},
		StopReason: "tool_use",
	}, "gpt-4", 1700000000)
	require.Equal(t, "answer", back.Choices[0].Message.Content)
	require.Equal(t, "tool_calls", back.Choices[0].FinishReason)
	require.Len(t, back.Choices[0].Message.ToolCalls, 1)
}

func TestOpenAIToClaude_ImageDataURI(t *testing.T) {
	parts := []openai.ContentPart{
		{Type: "text", Text: "look"},
		{Type: "image_url", ImageURL: &openai.ImageURL{URL: "data:image/png;base64,QUJD"}},
	}
	raw, _ := json.Marshal(parts)
	req := openai.ChatRequest{Model: "gpt-4", Messages: []openai.ChatMessage{{Role: "user", Content: raw}}}

	claude := OpenAIToClaude(req)
	var blocks []anthropic.ContentBlock
	require.NoError(t, json.Unmarshal(claude.Messages[0].Content, &blocks))
	require.Equal(t, "image", blocks[1].Type)
	require.Equal(t, "image/png", blocks[1].Source.MediaType)
	require.Equal(t, "QUJD", blocks[1].Source.Data)
}

func TestOpenAIToClaude_RemoteImageURLBecomesNote(t *testing.T) {
	parts := []openai.ContentPart{{Type: "image_url", ImageURL: &openai.ImageURL{URL: "https://example.com/a.png"}}}
	raw, _ := json.Marshal(parts)
	req := openai.ChatRequest{Model: "gpt-4", Messages: []openai.ChatMessage{{Role: "user", Content: raw}}}

	claude := OpenAIToClaude(req)
	var blocks []anthropic.ContentBlock
	require.NoError(t, json.Unmarshal(claude.Messages[0].Content, &blocks))
	require.Equal(t, "text", blocks[0].Type)
	require.Contains(t, blocks[0].Text, "https://example.com/a.png")
}

func TestResolveModelRoute_CustomExactBeatsFamily(t *testing.T) {
	custom := map[string]string{"claude-3.5-fancy": "gemini-custom-1"}
	got := gemini.ResolveModelRoute("claude-3.5-fancy", custom, nil)
	require.Equal(t, "gemini-custom-1", got)
}

func TestCompletionToChat_JoinsArrayPromptWithNewline(t *testing.T) {
	req := openai.CompletionRequest{Model: "gpt-4o", Prompt: rawString2([]string{"line one", "line two"})}
	chat := CompletionToChat(req)
	require.Len(t, chat.Messages, 1)
	require.Equal(t, "user", chat.Messages[0].Role)
	require.Equal(t, "line one\nline two", contentAsPlainText(chat.Messages[0].Content))
}

func TestCompletionToChat_StringPrompt(t *testing.T) {
	req := openai.CompletionRequest{Model: "gpt-4o", Prompt: rawString("hello")}
	chat := CompletionToChat(req)
	require.Equal(t, "hello", contentAsPlainText(chat.Messages[0].Content))
}

func TestResponsesToChat_PlainStringInput(t *testing.T) {
	req := openai.ResponsesRequest{Model: "gpt-4o", Input: rawString("what's 2+2")}
	chat := ResponsesToChat(req)
	require.Len(t, chat.Messages, 1)
	require.Equal(t, "user", chat.Messages[0].Role)
}

func TestResponsesToChat_FunctionCallRoundTrip(t *testing.T) {
	input := []map[string]any{
		{"role": "user", "content": "what's the weather in nyc"},
		{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": `{"city":"nyc"}`},
		{"type": "function_call_output", "call_id": "call_1", "output": "72F and sunny"},
	}
	raw, err := json.Marshal(input)
	require.NoError(t, err)

	chat := ResponsesToChat(openai.ResponsesRequest{Model: "gpt-4o", Input: raw})
	require.Len(t, chat.Messages, 3)
	require.Equal(t, "assistant", chat.Messages[1].Role)
	require.Equal(t, "get_weather", chat.Messages[1].ToolCalls[0].Function.Name)
	require.Equal(t, "tool", chat.Messages[2].Role)
	require.Equal(t, "call_1", chat.Messages[2].ToolCallID)
}

func TestChatToCompletion_ReshapesChoices(t *testing.T) {
	resp := openai.ChatResponse{
		Model: "gpt-4o", Created: 1000,
		Choices: []openai.ChatChoice{{Index: 0, Message: openai.ChatChoiceMessage{Content: "hi there"}, FinishReason: "stop"}},
		Usage:   openai.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}
	out := ChatToCompletion(resp)
	require.Equal(t, "text_completion", out.Object)
	require.Equal(t, "hi there", out.Choices[0].Text)
}

func TestChatToResponses_EmitsMessageAndFunctionCallItems(t *testing.T) {
	resp := openai.ChatResponse{
		Model: "gpt-4o",
		Choices: []openai.ChatChoice{{Message: openai.ChatChoiceMessage{
			Content:   "the answer",
			ToolCalls: []openai.ToolCall{{ID: "call_1", Function: openai.FunctionCall{Name: "f", Arguments: "{}"}}},
		}}},
	}
	out := ChatToResponses(resp)
	require.Len(t, out.Output, 2)
	require.Equal(t, "message", out.Output[0].Type)
	require.Equal(t, "function_call", out.Output[1].Type)
}

func rawString2(ss []string) json.RawMessage {
	b, _ := json.Marshal(ss)
	return b
}

func TestResolveModelRoute_FamilyGroup(t *testing.T) {
	require.Equal(t, "gemini-2.5-flash", gemini.ResolveModelRoute("gpt-4o-mini", nil, nil))
	require.Equal(t, "gemini-2.5-pro", gemini.ResolveModelRoute("o1-preview", nil, nil))
}

func TestResolveModelRoute_StaticAliasAndIdentity(t *testing.T) {
	require.Equal(t, "gemini-2.5-pro", gemini.ResolveModelRoute("gemini-pro", nil, nil))
	require.Equal(t, "unrecognized-model", gemini.ResolveModelRoute("unrecognized-model", nil, nil))
}

func TestClaudeToInternal_OmitsSessionID(t *testing.T) {
	req := anthropic.ChatRequest{
		Model:    "claude-3-opus",
		Messages: []anthropic.Message{{Role: "user", Content: rawString("hi")}},
	}
	internal := ClaudeToInternal(req, "proj-x", "ua", nil, nil)
	raw, err := json.Marshal(internal)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "sessionId")
	require.Equal(t, "proj-x", internal.Project)
}

func TestClaudeToInternal_TranslatesToolsToFunctionDeclarations(t *testing.T) {
	req := anthropic.ChatRequest{
		Model:    "claude-3-opus",
		Messages: []anthropic.Message{{Role: "user", Content: rawString("what's the weather")}},
		Tools: []anthropic.Tool{{
			Name:        "get_weather",
			Description: "Look up current weather for a city",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		}},
	}
	internal := ClaudeToInternal(req, "proj-x", "ua", nil, nil)
	require.NotEmpty(t, internal.Request.Tools)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(internal.Request.Tools, &decoded))
	require.Len(t, decoded, 1)
	decls, ok := decoded[0]["functionDeclarations"].([]any)
	require.True(t, ok)
	require.Len(t, decls, 1)
	decl := decls[0].(map[string]any)
	require.Equal(t, "get_weather", decl["name"])
	require.Equal(t, "Look up current weather for a city", decl["description"])
	params, ok := decl["parameters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "object", params["type"])
}

func TestClaudeToInternal_NoToolsLeavesToolsNil(t *testing.T) {
	req := anthropic.ChatRequest{Model: "claude-3-opus", Messages: []anthropic.Message{{Role: "user", Content: rawString("hi")}}}
	internal := ClaudeToInternal(req, "proj-x", "ua", nil, nil)
	require.Nil(t, internal.Request.Tools)
}

func TestGeminiProjectIDSyntheticDiscarded(t *testing.T) {
	req := anthropic.ChatRequest{Model: "claude-3-opus", Messages: []anthropic.Message{{Role: "user", Content: rawString("hi")}}}
	internal := ClaudeToInternal(req, model.Token{ProjectID: "cloud-code-12345"}.SanitizedProjectID(), "ua", nil, nil)
	require.Equal(t, "", internal.Project)
}

func TestGeminiInternalToClaude_EmptyCandidates(t *testing.T) {
	resp := &gemini.Response{}
	require.False(t, resp.HasUsableContent())
	out := GeminiInternalToClaude(resp, "claude-3-opus")
	require.Empty(t, out.Content)
}
