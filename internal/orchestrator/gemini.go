package orchestrator

import (
	"context"
	"io"

	"github.com/antigravity-gateway/gateway/internal/mapper"
	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

func (o *Orchestrator) geminiBuilder(model_ string, req gemini.Request) requestBuilder {
	userAgent := o.cfg.Proxy.UserAgent
	if userAgent == "" {
		userAgent = gemini.DefaultUserAgent
	}

	return func(account *model.Account, token model.Token, projectOverride *string, modelOverride string) gemini.InternalRequest {
		resolved := model_
		if modelOverride != "" {
			resolved = modelOverride
		}
		internal := mapper.GeminiPublicToInternal(resolved, req, token.ProjectID, userAgent)
		if projectOverride != nil {
			internal.Project = *projectOverride
		}
		return internal
	}
}

// HandleGeminiGenerateContent implements the native Gemini unary operation
// of spec.md §4.6. Native Gemini requests carry no session-key convention,
// so every call is pool-balanced with no stickiness, and no quota-downgrade
// inline retry applies (that behavior is Anthropic-only).
func (o *Orchestrator) HandleGeminiGenerateContent(ctx context.Context, model_ string, req gemini.Request) (*gemini.Response, error) {
	build := o.geminiBuilder(model_, req)
	resp, _, err := o.unaryWithRetry(ctx, "", nil, build, "")
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// HandleGeminiStreamGenerateContent implements the native Gemini streaming
// operation, returning the raw upstream body for direct pass-through
// (spec.md §4.6 "Gemini: pass upstream SSE through unchanged").
func (o *Orchestrator) HandleGeminiStreamGenerateContent(ctx context.Context, model_ string, req gemini.Request) (io.ReadCloser, string, error) {
	build := o.geminiBuilder(model_, req)
	rc, _, resolvedModel, err := o.streamWithRetry(ctx, "", nil, build)
	if err != nil {
		return nil, "", err
	}
	return rc, resolvedModel, nil
}
