package orchestrator

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
)

// AnthropicStream carries a successful streaming attempt's raw upstream body
// back to the frontend for translation (spec.md §4.6 "return the translated
// stream observable").
type AnthropicStream struct {
	Upstream  io.ReadCloser
	Model     string
	MessageID string
}

func (o *Orchestrator) claudeBuilder(req anthropic.ChatRequest) requestBuilder {
	customExact := o.cfg.Proxy.CustomMapping
	anthropicCustom := o.cfg.Proxy.AnthropicMapping
	userAgent := o.cfg.Proxy.UserAgent
	if userAgent == "" {
		userAgent = gemini.DefaultUserAgent
	}

	return func(account *model.Account, token model.Token, projectOverride *string, modelOverride string) gemini.InternalRequest {
		effective := req
		if modelOverride != "" {
			effective.Model = modelOverride
		}
		internal := mapper.ClaudeToInternal(effective, token.ProjectID, userAgent, customExact, anthropicCustom)
		if projectOverride != nil {
			internal.Project = *projectOverride
		}
		return internal
	}
}

// HandleAnthropicMessages implements spec.md §4.6's Anthropic operation.
// Exactly one of the first two return values is populated.
func (o *Orchestrator) HandleAnthropicMessages(ctx context.Context, rawBody []byte, req anthropic.ChatRequest) (*anthropic.ChatResponse, *AnthropicStream, error) {
	sessionKey := AnthropicSessionKey(rawBody)
	build := o.claudeBuilder(req)

	if !req.Stream {
		resp, _, err := o.unaryWithRetry(ctx, sessionKey, nil, build, "gemini-2.5-flash")
		if err != nil {
			return nil, nil, err
		}
		out := mapper.GeminiInternalToClaude(resp, req.Model)
		return &out, nil, nil
	}

	rc, _, resolvedModel, err := o.streamWithRetry(ctx, sessionKey, nil, build)
	if err != nil {
		return nil, nil, err
	}
	return nil, &AnthropicStream{Upstream: rc, Model: resolvedModel, MessageID: "msg_" + uuid.NewString()}, nil
}
