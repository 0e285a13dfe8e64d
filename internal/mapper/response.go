package mapper

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// GeminiFinishReasonToClaude maps the internal endpoint's finishReason to
// Anthropic's stop_reason vocabulary.
func GeminiFinishReasonToClaude(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		if reason == "" {
			return ""
		}
		return "end_turn"
	}
}

// GeminiFinishReasonToOpenAI implements spec.md §4.4 "Gemini finish-reason → OpenAI".
func GeminiFinishReasonToOpenAI(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return strings.ToLower(reason)
	}
}

// ClaudeFinishReasonToOpenAI implements spec.md §4.4 "Claude → OpenAI" finish_reason table.
func ClaudeFinishReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// GeminiInternalToClaude builds the Anthropic Messages response from a
// (normalized) internal-endpoint Response.
func GeminiInternalToClaude(resp *gemini.Response, requestedModel string) anthropic.ChatResponse {
	out := anthropic.ChatResponse{
		ID:    "msg_" + uuid.NewString(),
		Type:  "message",
		Role:  "assistant",
		Model: requestedModel,
	}

	if len(resp.Candidates) > 0 {
		c := resp.Candidates[0]
		out.StopReason = GeminiFinishReasonToClaude(c.FinishReason)
		for _, p := range c.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				args, _ := json.Marshal(p.FunctionCall.Args)
				id := p.FunctionCall.ID
				if id == "" {
					id = p.FunctionCall.Name + "-" + uuid.NewString()
				}
				out.Content = append(out.Content, anthropic.ContentBlock{
					Type: "tool_use", ID: id, Name: p.FunctionCall.Name, Input: args,
				})
			case p.Thought:
				out.Content = append(out.Content, anthropic.ContentBlock{Type: "thinking", Text: p.Text})
			case p.Text != "":
				out.Content = append(out.Content, anthropic.ContentBlock{Type: "text", Text: p.Text})
			case p.InlineData != nil:
				out.Content = append(out.Content, anthropic.ContentBlock{
					Type:   "image",
					Source: &anthropic.ImageSource{Type: "base64", MediaType: p.InlineData.MimeType, Data: p.InlineData.Data},
				})
			}
		}
	}

	if resp.UsageMetadata != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return out
}

// ClaudeToOpenAI implements spec.md §4.4 "Claude → OpenAI" aggregation.
func ClaudeToOpenAI(resp anthropic.ChatResponse, model string, created int64) openai.ChatResponse {
	var text, reasoning strings.Builder
	var toolCalls []openai.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: inputToArgumentsString(block.Input),
				},
			})
		}
	}

	msg := openai.ChatChoiceMessage{
		Role:             "assistant",
		Content:          text.String(),
		ReasoningContent: reasoning.String(),
		ToolCalls:        toolCalls,
	}

	return openai.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []openai.ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: ClaudeFinishReasonToOpenAI(resp.StopReason),
		}},
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// inputToArgumentsString serializes a tool_use Input value into the string
// OpenAI's function.arguments field expects, passing already-string values
// through unchanged (spec.md §4.4).
func inputToArgumentsString(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var asString string
	if err := json.Unmarshal(input, &asString); err == nil {
		return asString
	}
	return string(input)
}

// ChatToCompletion reshapes a Chat Completions response into the legacy
// text_completion shape spec.md §4.7 names for /v1/completions.
func ChatToCompletion(resp openai.ChatResponse) openai.CompletionResponse {
	choices := make([]openai.CompletionChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = openai.CompletionChoice{Index: c.Index, Text: c.Message.Content, FinishReason: c.FinishReason}
	}
	return openai.CompletionResponse{
		ID: "cmpl-" + uuid.NewString(), Object: "text_completion",
		Created: resp.Created, Model: resp.Model, Choices: choices, Usage: resp.Usage,
	}
}

// ChatToResponses reshapes a Chat Completions response into the /v1/responses
// output-item array shape.
func ChatToResponses(resp openai.ChatResponse) openai.ResponsesResponse {
	var output []openai.ResponsesOutputItem
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			output = append(output, openai.ResponsesOutputItem{
				Type: "message", ID: "msg_" + uuid.NewString(), Role: "assistant", Status: "completed",
				Content: []openai.ResponsesOutputContent{{Type: "output_text", Text: c.Message.Content}},
			})
		}
		for _, tc := range c.Message.ToolCalls {
			output = append(output, openai.ResponsesOutputItem{
				Type: "function_call", ID: tc.ID, Status: "completed",
				Content: []openai.ResponsesOutputContent{{Type: "function_call_arguments", Text: tc.Function.Arguments}},
			})
		}
	}
	return openai.ResponsesResponse{
		ID: "resp_" + uuid.NewString(), Object: "response", Model: resp.Model,
		Status: "completed", Output: output, Usage: resp.Usage,
	}
}

// ImagesFromGeminiResponse collects the inline-image parts of a generate
// response into the OpenAI images response shape (spec.md §4.7
// `/v1/images/generations`, `/v1/images/edits`).
func ImagesFromGeminiResponse(resp *gemini.Response, created int64) openai.ImageResponse {
	var data []openai.ImageData
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.InlineData != nil {
				data = append(data, openai.ImageData{B64JSON: p.InlineData.Data})
			}
		}
	}
	return openai.ImageResponse{Created: created, Data: data}
}

// TranscriptionFromGeminiResponse concatenates the text parts of a generate
// response into the OpenAI transcription response shape (spec.md §4.7
// `/v1/audio/transcriptions`).
func TranscriptionFromGeminiResponse(resp *gemini.Response) openai.TranscriptionResponse {
	var text strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return openai.TranscriptionResponse{Text: text.String()}
}

// GeminiUsageToOpenAI strips Gemini's extra usage fields down to the
// canonical subset (spec.md §4.4).
func GeminiUsageToOpenAI(u *gemini.UsageMetadata) openai.Usage {
	if u == nil {
		return openai.Usage{}
	}
	return openai.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}
