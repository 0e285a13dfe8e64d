package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

// OpenAIStream carries either a genuine upstream SSE body or, when the
// streaming attempt itself failed before any bytes arrived, a fully-formed
// response to synthesize as SSE (spec.md §4.6 "Stream fallback for
// stream:true OpenAI").
type OpenAIStream struct {
	Upstream io.ReadCloser
	Model    string

	Synthetic    bool
	Content      string
	FinishReason string
}

// HandleChatCompletions implements spec.md §4.6's OpenAI operation, routing
// through the same Claude intermediate RequestMapper uses for Anthropic
// (spec.md §4.3: OpenAI → Claude → Gemini-internal).
func (o *Orchestrator) HandleChatCompletions(ctx context.Context, rawBody []byte, req openai.ChatRequest) (*openai.ChatResponse, *OpenAIStream, error) {
	claudeReq := mapper.OpenAIToClaude(req)
	claudeReq.Stream = req.Stream
	sessionKey := OpenAISessionKey(rawBody)
	build := o.claudeBuilder(claudeReq)

	if !req.Stream {
		resp, _, err := o.unaryWithRetry(ctx, sessionKey, nil, build, "")
		if err != nil {
			return nil, nil, err
		}
		claudeResp := mapper.GeminiInternalToClaude(resp, req.Model)
		out := mapper.ClaudeToOpenAI(claudeResp, req.Model, time.Now().Unix())
		return &out, nil, nil
	}

	rc, _, resolvedModel, err := o.streamWithRetry(ctx, sessionKey, nil, build)
	if err == nil {
		return nil, &OpenAIStream{Upstream: rc, Model: resolvedModel}, nil
	}

	resp, _, uerr := o.unaryWithRetry(ctx, sessionKey, nil, build, "")
	if uerr != nil {
		return nil, nil, err
	}
	claudeResp := mapper.GeminiInternalToClaude(resp, req.Model)
	synth := mapper.ClaudeToOpenAI(claudeResp, req.Model, time.Now().Unix())
	return nil, &OpenAIStream{
		Synthetic:    true,
		Model:        req.Model,
		Content:      synth.Choices[0].Message.Content,
		FinishReason: synth.Choices[0].FinishReason,
	}, nil
}

// ChatCompletionID mints the id frontends use for both the chunk stream and
// the non-streaming response.
func ChatCompletionID() string { return "chatcmpl-" + uuid.NewString() }
