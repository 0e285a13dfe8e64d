// Package gemini holds the wire shapes for both the public Gemini REST API
// and the internal Cloud Code ("v1internal") generation API the gateway
// actually calls upstream.
package gemini

import "encoding/json"

// Part is one piece of multimodal content, matching the oneof the upstream
// API accepts: exactly one of Text, InlineData, FunctionCall, FunctionResponse
// is populated on any given Part.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Content is one turn of the conversation.
type Content struct {
	Role  string `json:"role,omitempty"` // "user" | "model"
	Parts []Part `json:"parts"`
}

// GenerationConfig mirrors the public API's generationConfig object.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
}

// SystemInstruction carries only text parts — spec.md §4.3 notes the
// transform includes only text parts here even when the source had other
// part kinds.
type SystemInstruction struct {
	Parts []Part `json:"parts"`
}

// Request is the public /v1beta/models/{model}:generateContent body.
type Request struct {
	Contents          []Content          `json:"contents"`
	GenerationConfig  *GenerationConfig  `json:"generationConfig,omitempty"`
	SystemInstruction *SystemInstruction `json:"systemInstruction,omitempty"`
	Tools             json.RawMessage    `json:"tools,omitempty"`
}

// Candidate is one generated completion.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index,omitempty"`
}

// UsageMetadata is the canonical token-accounting subset spec.md §4.4 keeps;
// PromptTokenCount/CandidatesTokenCount/TotalTokenCount are the only fields
// the public response surfaces, stripping thoughtsTokenCount/*Details/
// trafficType/createTime that the internal response carries.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Response is the public /v1beta/models/{model}:generateContent response,
// and also the unwrapped shape of the internal endpoint's {"response": ...}
// envelope (spec.md §4.2 "Normalization").
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// HasUsableContent reports whether any candidate carries at least one part
// — the predicate the orchestrator's empty-response-stream fallback (spec.md
// §4.6) gates on.
func (r *Response) HasUsableContent() bool {
	for _, c := range r.Candidates {
		if len(c.Content.Parts) > 0 {
			return true
		}
	}
	return false
}

// envelope is how the internal endpoint wraps a unary Response.
type envelope struct {
	Response *Response `json:"response"`
}

// UnwrapInternalResponse normalizes a raw internal-endpoint body into the
// canonical Response shape, per spec.md §4.2 "Normalization".
func UnwrapInternalResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Response != nil {
		return env.Response, nil
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InternalRequest is the body the gateway actually POSTs to
// :generateContent / :streamGenerateContent on the internal endpoint —
// the shape spec.md §4.3 names as the output of transformClaudeRequestIn
// and the Gemini-public-to-internal wrapper.
type InternalRequest struct {
	Project     string  `json:"project"`
	RequestID   string  `json:"requestId"`
	Request     Request `json:"request"`
	Model       string  `json:"model"`
	UserAgent   string  `json:"userAgent"`
	RequestType string  `json:"requestType"`
}
