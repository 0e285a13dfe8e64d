// Package mapper implements RequestMapper (C5) and ResponseMapper (C6): the
// protocol translation layer between OpenAI, Anthropic, and Gemini's public
// and internal request/response shapes (spec.md §4.3, §4.4).
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// OpenAIToClaude implements spec.md §4.3 "OpenAI → Claude".
func OpenAIToClaude(req openai.ChatRequest) anthropic.ChatRequest {
	out := anthropic.ChatRequest{
		Model:     req.Model,
		Stream:    req.Stream,
		MaxTokens: 4096,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var systemParts []string
	toolNameByCallID := map[string]string{}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if text := contentAsPlainText(m.Content); text != "" {
				systemParts = append(systemParts, text)
			}
			continue

		case "tool":
			callID := m.ToolCallID
			if callID == "" {
				callID = "tool-" + uuid.NewString()
			}
			block := anthropic.ContentBlock{
				Type:      "tool_result",
				ToolUseID: callID,
				Content:   rawTextContent(contentAsPlainText(m.Content)),
			}
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    "user",
				Content: marshalBlocks([]anthropic.ContentBlock{block}),
			})
			continue

		case "assistant":
			blocks := openAIPartsToBlocks(m.Content)
			for _, tc := range m.ToolCalls {
				toolNameByCallID[tc.ID] = tc.Function.Name
				blocks = append(blocks, anthropic.ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: json.RawMessage(orEmptyJSONObject(tc.Function.Arguments)),
				})
			}
			out.Messages = append(out.Messages, anthropic.Message{Role: "assistant", Content: marshalBlocks(blocks)})
			continue

		default: // "user"
			blocks := openAIPartsToBlocks(m.Content)
			out.Messages = append(out.Messages, anthropic.Message{Role: "user", Content: marshalBlocks(blocks)})
		}
	}

	if len(systemParts) > 0 {
		out.System = rawTextContent(strings.Join(systemParts, "\n"))
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return out
}

// CompletionToChat implements spec.md §4.7's legacy /v1/completions
// normalization: the prompt (a string, or an array of strings joined with
// "\n") becomes a single user message.
func CompletionToChat(req openai.CompletionRequest) openai.ChatRequest {
	return openai.ChatRequest{
		Model:       req.Model,
		Messages:    []openai.ChatMessage{{Role: "user", Content: rawTextContent(promptToText(req.Prompt))}},
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func promptToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "\n")
	}
	return ""
}

// responsesInputItem is the union of shapes spec.md §4.7 says /v1/responses'
// `input` array elements can take: a plain chat turn, a function-call turn
// the model previously emitted, or the tool-result turn answering one.
type responsesInputItem struct {
	Type      string          `json:"type,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// ResponsesToChat implements spec.md §4.7's /v1/responses normalization:
// `input` is reduced to a chat-message array, reconstructing assistant
// tool_calls and tool-result turns from a call_id→tool-name table built
// while scanning function_call items in order.
func ResponsesToChat(req openai.ResponsesRequest) openai.ChatRequest {
	var items []responsesInputItem
	if err := json.Unmarshal(req.Input, &items); err != nil {
		// A bare string input is itself the single user turn.
		if text := promptToText(req.Input); text != "" {
			return openai.ChatRequest{Model: req.Model, Tools: req.Tools,
				Messages: []openai.ChatMessage{{Role: "user", Content: rawTextContent(text)}}}
		}
		return openai.ChatRequest{Model: req.Model, Tools: req.Tools}
	}

	var messages []openai.ChatMessage
	for _, item := range items {
		switch item.Type {
		case "function_call":
			messages = append(messages, openai.ChatMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: "function",
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case "function_call_output":
			messages = append(messages, openai.ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    rawTextContent(item.Output),
			})
		default:
			role := item.Role
			if role == "" {
				role = "user"
			}
			messages = append(messages, openai.ChatMessage{Role: role, Content: item.Content})
		}
	}

	return openai.ChatRequest{Model: req.Model, Messages: messages, Tools: req.Tools}
}

// openAIPartsToBlocks normalizes an OpenAI message's Content (string or
// array-of-parts) into Anthropic content blocks, converting data-URI images
// and leaving remote image URLs as a textual note (spec.md §4.3).
func openAIPartsToBlocks(raw json.RawMessage) []anthropic.ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return []anthropic.ContentBlock{{Type: "text", Text: asString}}
	}

	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}

	var blocks []anthropic.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropic.ContentBlock{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mime, data, ok := parseDataURI(p.ImageURL.URL); ok {
				blocks = append(blocks, anthropic.ContentBlock{
					Type:   "image",
					Source: &anthropic.ImageSource{Type: "base64", MediaType: mime, Data: data},
				})
			} else {
				blocks = append(blocks, anthropic.ContentBlock{
					Type: "text",
					Text: fmt.Sprintf("[image_url] %s", p.ImageURL.URL),
				})
			}
		}
	}
	return blocks
}

// parseDataURI splits a `data:<mime>;base64,<data>` URI.
func parseDataURI(uri string) (mime, data string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", false
	}
	rest := uri[len(prefix):]
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(";base64,"):], true
}

func contentAsPlainText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

func rawTextContent(text string) json.RawMessage {
	b, _ := json.Marshal(text)
	return b
}

func marshalBlocks(blocks []anthropic.ContentBlock) json.RawMessage {
	if blocks == nil {
		blocks = []anthropic.ContentBlock{}
	}
	b, _ := json.Marshal(blocks)
	return b
}

func orEmptyJSONObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

// ClaudeToInternal is the `transformClaudeRequestIn` equivalent spec.md §4.3
// names: it produces the exact internal-endpoint envelope, omitting
// sessionId by design (asserted by TestClaudeToInternal_OmitsSessionID,
// never threaded through here).
func ClaudeToInternal(req anthropic.ChatRequest, projectID, userAgent string, customExact, anthropicCustom map[string]string) gemini.InternalRequest {
	var contents []gemini.Content
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, gemini.Content{Role: role, Parts: claudeBlocksToParts(m.Content)})
	}

	var sysInstruction *gemini.SystemInstruction
	if text := contentAsPlainText(req.System); text != "" {
		sysInstruction = &gemini.SystemInstruction{Parts: []gemini.Part{{Text: text}}}
	}

	genCfg := &gemini.GenerationConfig{}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		genCfg.MaxOutputTokens = &mt
	}

	model := gemini.ResolveModelRoute(req.Model, customExact, anthropicCustom)

	return gemini.InternalRequest{
		Project:   projectID,
		RequestID: uuid.NewString(),
		Request: gemini.Request{
			Contents:          contents,
			GenerationConfig:  genCfg,
			SystemInstruction: sysInstruction,
			Tools:             claudeToolsToGeminiTools(req.Tools),
		},
		Model:       model,
		UserAgent:   userAgent,
		RequestType: "generate-content",
	}
}

// claudeToolsToGeminiTools builds Gemini's tools=[{functionDeclarations:[...]}]
// shape directly as raw JSON rather than modeling FunctionDeclaration as a Go
// struct, since InputSchema already arrives as an opaque JSON Schema blob
// that would otherwise need an extra unmarshal/remarshal round trip.
func claudeToolsToGeminiTools(tools []anthropic.Tool) json.RawMessage {
	if len(tools) == 0 {
		return nil
	}

	decls := []byte("[]")
	for i, t := range tools {
		var err error
		decls, err = sjson.SetBytes(decls, fmt.Sprintf("%d.name", i), t.Name)
		if err != nil {
			continue
		}
		if t.Description != "" {
			decls, _ = sjson.SetBytes(decls, fmt.Sprintf("%d.description", i), t.Description)
		}
		if len(t.InputSchema) > 0 {
			decls, _ = sjson.SetRawBytes(decls, fmt.Sprintf("%d.parameters", i), t.InputSchema)
		}
	}

	wrapper, err := sjson.SetRawBytes([]byte("[{}]"), "0.functionDeclarations", decls)
	if err != nil {
		return nil
	}
	return json.RawMessage(wrapper)
}

func claudeBlocksToParts(raw json.RawMessage) []gemini.Part {
	if len(raw) == 0 {
		return nil
	}
	if text := singleStringContent(raw); text != "" {
		return []gemini.Part{{Text: text}}
	}

	var blocks []anthropic.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var parts []gemini.Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, gemini.Part{Text: b.Text})
		case "image":
			if b.Source != nil {
				parts = append(parts, gemini.Part{InlineData: &gemini.Blob{MimeType: b.Source.MediaType, Data: b.Source.Data}})
			}
		case "tool_use":
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{ID: b.ID, Name: b.Name, Args: args}})
		case "tool_result":
			var response map[string]any
			text := singleStringContent(b.Content)
			if text != "" {
				response = map[string]any{"result": text}
			} else {
				_ = json.Unmarshal(b.Content, &response)
			}
			parts = append(parts, gemini.Part{FunctionResponse: &gemini.FunctionResponse{ID: b.ToolUseID, Response: response}})
		}
	}
	return parts
}

func singleStringContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// GeminiPublicToInternal is the thin wrapper spec.md §4.3 names for native
// Gemini requests.
func GeminiPublicToInternal(model string, req gemini.Request, projectID, userAgent string) gemini.InternalRequest {
	sys := req.SystemInstruction
	if sys != nil {
		var textOnly []gemini.Part
		for _, p := range sys.Parts {
			if p.Text != "" {
				textOnly = append(textOnly, gemini.Part{Text: p.Text})
			}
		}
		sys = &gemini.SystemInstruction{Parts: textOnly}
	}

	return gemini.InternalRequest{
		Project:   projectID,
		RequestID: uuid.NewString(),
		Request: gemini.Request{
			Contents:          req.Contents,
			GenerationConfig:  req.GenerationConfig,
			SystemInstruction: sys,
		},
		Model:       model,
		UserAgent:   userAgent,
		RequestType: "generate-content",
	}
}
