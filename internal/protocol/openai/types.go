// Package openai holds the OpenAI-compatible wire shapes the gateway's
// frontends accept and emit (spec.md §4.7).
package openai

import "encoding/json"

// ChatMessage is one turn of a Chat Completions conversation. Content can be
// a plain string or an array of content parts; callers should use RawContent
// to inspect the arrived shape before falling back to ContentString.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ContentPart is one element of an array-form ChatMessage.Content.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Tool is an OpenAI function-tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is the POST /v1/chat/completions body.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []ChatMessage   `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	Extra       map[string]any  `json:"-"`
	SessionID   string          `json:"session_id,omitempty"`
	User        string          `json:"user,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// CompletionRequest is the legacy POST /v1/completions body.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      json.RawMessage `json:"prompt"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// ResponsesRequest is the POST /v1/responses body (spec.md §4.7).
type ResponsesRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
	Tools []Tool          `json:"tools,omitempty"`
}

// Usage is the canonical OpenAI token-accounting shape.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChoiceMessage is the assistant message in a non-streaming response.
type ChatChoiceMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type ChatChoice struct {
	Index        int               `json:"index"`
	Message      ChatChoiceMessage `json:"message"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

// ChatResponse is the POST /v1/chat/completions non-streaming response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// Delta is one streaming chunk's incremental content.
type Delta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

type ChatChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChatChunk is one `data: {...}` SSE frame (spec.md §4.5).
type ChatChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
}

// CompletionChoice/CompletionResponse back the legacy text_completion shape.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   Usage              `json:"usage"`
}

// Model/ModelList back GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ImageGenerationRequest is the POST /v1/images/generations body.
type ImageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

// ImageData is one generated or edited image (base64, since the gateway
// never hosts URLs for generated content).
type ImageData struct {
	B64JSON string `json:"b64_json"`
}

// ImageResponse is the POST /v1/images/{generations,edits} response.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// TranscriptionResponse is the POST /v1/audio/transcriptions response.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// ResponsesOutputContent/ResponsesOutputItem/ResponsesResponse back the
// POST /v1/responses non-streaming response shape.
type ResponsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type ResponsesOutputItem struct {
	Type    string                   `json:"type"`
	ID      string                   `json:"id,omitempty"`
	Role    string                   `json:"role,omitempty"`
	Status  string                   `json:"status,omitempty"`
	Content []ResponsesOutputContent `json:"content,omitempty"`
}

type ResponsesResponse struct {
	ID     string                `json:"id"`
	Object string                `json:"object"`
	Model  string                `json:"model"`
	Status string                `json:"status"`
	Output []ResponsesOutputItem `json:"output"`
	Usage  Usage                 `json:"usage"`
}

// ErrorBody is the OpenAI-shape error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}
