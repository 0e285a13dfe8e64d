// Package orchestrator implements the ProxyOrchestrator (C8): the single
// entry point per public operation that hides retries, fallbacks, and
// account choice from the HTTP frontends (spec.md §4.6).
package orchestrator

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/pkg/geminicli"
	"github.com/antigravity-gateway/gateway/internal/pool"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

const maxAttempts = 3

// generator is the subset of *upstream.Client the orchestrator depends on;
// naming it lets tests substitute a fake upstream without a network.
type generator interface {
	Generate(ctx context.Context, body gemini.InternalRequest, accessToken string, extraHeaders map[string]string) (*gemini.Response, error)
	StreamGenerate(ctx context.Context, body gemini.InternalRequest, accessToken string, extraHeaders map[string]string) (io.ReadCloser, error)
	PublicGenerate(ctx context.Context, endpoint string, body gemini.Request, accessToken string) (*gemini.Response, error)
	LoadCodeAssist(ctx context.Context, accessToken string) (*geminicli.LoadCodeAssistResponse, error)
}

// Orchestrator is C8.
type Orchestrator struct {
	pool   *pool.TokenPool
	client generator
	cfg    *config.Config
}

func New(p *pool.TokenPool, client generator, cfg *config.Config) *Orchestrator {
	return &Orchestrator{pool: p, client: client, cfg: cfg}
}

// requestBuilder produces the internal-endpoint body for one attempt,
// applying projectOverride (used by the project-context inline retry) and
// modelOverride (used by the Anthropic quota-downgrade inline retry) when
// non-nil/non-empty.
type requestBuilder func(account *model.Account, token model.Token, projectOverride *string, modelOverride string) gemini.InternalRequest

// modelHeaders attaches the Anthropic beta header whenever the resolved
// model is a Claude family model (spec.md §4.6 "Model-specific headers").
func modelHeaders(resolvedModel string, extra map[string]string) map[string]string {
	if !strings.Contains(strings.ToLower(resolvedModel), "claude") {
		return extra
	}
	out := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["anthropic-beta"] = gemini.AnthropicBetaHeader
	return out
}

func toGatewayErr(err error) *gatewayerr.Error {
	if gerr, ok := err.(*gatewayerr.Error); ok {
		return gerr
	}
	return gatewayerr.Classify(0, err.Error())
}

// usesPublicPassthrough reports whether account was provisioned as a direct
// Vertex AI / Google AI Studio credential rather than a pooled Cloud Code
// account, per SPEC_FULL.md §3.8: such accounts bypass the internal
// endpoint's failover list entirely.
func usesPublicPassthrough(account *model.Account) bool {
	return account.IsVertexAI() || account.BaseURL != ""
}

func (o *Orchestrator) callUnary(ctx context.Context, account *model.Account, token model.Token, build requestBuilder, projectOverride *string, modelOverride string, extraHeaders map[string]string) (*gemini.Response, error) {
	req := build(account, token, projectOverride, modelOverride)
	if usesPublicPassthrough(account) {
		endpoint := gemini.PublicEndpointFor(account.GetGeminiBaseURL(), account.IsVertexAI(), account.VertexRegion, account.VertexProjectID, req.Model, false)
		return o.client.PublicGenerate(ctx, endpoint, req.Request, token.AccessToken)
	}
	return o.client.Generate(ctx, req, token.AccessToken, modelHeaders(req.Model, extraHeaders))
}

func (o *Orchestrator) callStream(ctx context.Context, account *model.Account, token model.Token, build requestBuilder, extraHeaders map[string]string) (io.ReadCloser, string, error) {
	req := build(account, token, nil, "")
	if usesPublicPassthrough(account) {
		return nil, req.Model, gatewayerr.New(gatewayerr.Fatal, 0, "account uses a public passthrough endpoint, which does not support streaming")
	}
	rc, err := o.client.StreamGenerate(ctx, req, token.AccessToken, modelHeaders(req.Model, extraHeaders))
	return rc, req.Model, err
}

// emptyResponseStreamFallback implements spec.md §4.6 "Empty-response stream
// fallback (unary)".
func (o *Orchestrator) emptyResponseStreamFallback(ctx context.Context, account *model.Account, token model.Token, build requestBuilder, extraHeaders map[string]string) (*gemini.Response, error) {
	rc, _, err := o.callStream(ctx, account, token, build, extraHeaders)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	resp, err := streaming.CollectUnary(rc)
	if err != nil {
		return nil, err
	}
	if !resp.HasUsableContent() {
		return nil, gatewayerr.New(gatewayerr.EmptyResponseStream, 0, "empty response stream")
	}
	return resp, nil
}

// unaryWithRetry drives the three-attempt retry loop of spec.md §4.6 for any
// of the three unary operations, layering the project-context and optional
// quota-downgrade inline retries on top of each attempt.
func (o *Orchestrator) unaryWithRetry(ctx context.Context, sessionKey string, extraHeaders map[string]string, build requestBuilder, quotaDowngradeModel string) (*gemini.Response, *model.Account, error) {
	var attempted []string
	var lastErr error
	lastKind := gatewayerr.Fatal

	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			time.Sleep(calculateRetryDelay(i-1, lastKind))
		}

		account, err := o.pool.SelectNext(ctx, pool.SelectOptions{SessionKey: sessionKey, ExcludeAccountIDs: attempted})
		if err != nil {
			return nil, nil, err
		}
		if account == nil {
			return nil, nil, gatewayerr.New(gatewayerr.Fatal, 503, "no available accounts")
		}
		attempted = append(attempted, account.ID)

		token, err := account.DecodeToken()
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := o.callUnary(ctx, account, token, build, nil, "", extraHeaders)
		if err == nil {
			if resp.HasUsableContent() {
				return resp, account, nil
			}
			resp, err = o.emptyResponseStreamFallback(ctx, account, token, build, extraHeaders)
			if err == nil {
				return resp, account, nil
			}
		}

		gerr := toGatewayErr(err)

		if gatewayerr.IsProjectContext(gerr.Message) {
			empty := ""
			inline, ierr := o.callUnary(ctx, account, token, build, &empty, "", extraHeaders)
			if ierr == nil && inline.HasUsableContent() {
				return inline, account, nil
			}
			if ierr != nil {
				gerr = toGatewayErr(ierr)
			}

			// Second-step elision (SPEC_FULL.md §3.3): the blank-project retry
			// above still reports a missing project context, so resolve the
			// account's real cloudaicompanionProject via loadCodeAssist and
			// retry once more with it, still inside this same inline-retry
			// unit so it never consumes an outer attempt.
			if gatewayerr.IsProjectContext(gerr.Message) {
				if cc, ccErr := o.client.LoadCodeAssist(ctx, token.AccessToken); ccErr == nil && cc.CloudAICompanionProject != "" {
					project := cc.CloudAICompanionProject
					if inline2, ierr2 := o.callUnary(ctx, account, token, build, &project, "", extraHeaders); ierr2 == nil && inline2.HasUsableContent() {
						return inline2, account, nil
					} else if ierr2 != nil {
						gerr = toGatewayErr(ierr2)
					}
				}
			}
		}

		if quotaDowngradeModel != "" && gatewayerr.IsQuotaExhausted(gerr.Message) {
			if inline, ierr := o.callUnary(ctx, account, token, build, nil, quotaDowngradeModel, extraHeaders); ierr == nil && inline.HasUsableContent() {
				return inline, account, nil
			}
		}

		lastErr = gerr
		lastKind = gerr.Kind
		switch gerr.Kind {
		case gatewayerr.RateLimited:
			o.pool.MarkRateLimited(account.ID)
		case gatewayerr.Forbidden:
			o.pool.MarkForbidden(account.ID)
		case gatewayerr.Transient, gatewayerr.ProjectContext, gatewayerr.QuotaExhausted, gatewayerr.EmptyResponseStream:
			// retryable, account left unmarked
		default:
			return nil, account, gerr
		}
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.Fatal, 503, "all accounts failed")
	}
	return nil, nil, lastErr
}

// streamWithRetry drives the same retry loop for the two streaming
// operations; only the pre-body failure path is retryable across accounts,
// since once bytes reach the client the stream is no longer abortable into
// a different account without protocol-level resumption.
func (o *Orchestrator) streamWithRetry(ctx context.Context, sessionKey string, extraHeaders map[string]string, build requestBuilder) (io.ReadCloser, *model.Account, string, error) {
	var attempted []string
	var lastErr error
	lastKind := gatewayerr.Fatal

	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			time.Sleep(calculateRetryDelay(i-1, lastKind))
		}

		account, err := o.pool.SelectNext(ctx, pool.SelectOptions{SessionKey: sessionKey, ExcludeAccountIDs: attempted})
		if err != nil {
			return nil, nil, "", err
		}
		if account == nil {
			return nil, nil, "", gatewayerr.New(gatewayerr.Fatal, 503, "no available accounts")
		}
		attempted = append(attempted, account.ID)

		token, err := account.DecodeToken()
		if err != nil {
			lastErr = err
			continue
		}

		rc, resolvedModel, err := o.callStream(ctx, account, token, build, extraHeaders)
		if err == nil {
			return rc, account, resolvedModel, nil
		}

		gerr := toGatewayErr(err)
		lastErr = gerr
		lastKind = gerr.Kind
		switch gerr.Kind {
		case gatewayerr.RateLimited:
			o.pool.MarkRateLimited(account.ID)
		case gatewayerr.Forbidden:
			o.pool.MarkForbidden(account.ID)
		case gatewayerr.Transient, gatewayerr.ProjectContext, gatewayerr.QuotaExhausted:
			// retryable
		default:
			return nil, account, "", gerr
		}
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.Fatal, 503, "all accounts failed")
	}
	return nil, nil, "", lastErr
}
