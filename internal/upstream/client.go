// Package upstream implements the UpstreamClient (C4): a req/v3-backed HTTP
// client that POSTs to the internal Gemini endpoint with multi-URL failover,
// grounded on the teacher's httpUpstreamService
// (internal/repository/http_upstream.go) but rebuilt on req/v3 in place of
// bare net/http, per DESIGN.md.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/pkg/geminicli"
)

// Client is C4.
type Client struct {
	baseURLs  []string
	userAgent string
	timeout   time.Duration
	http      *req.Client
}

// New builds a Client from the resolved Config, wiring the optional upstream
// proxy (spec.md §4.2 "Timeouts & proxy").
func New(cfg *config.Config) *Client {
	c := req.C().SetTimeout(cfg.RequestTimeoutDuration())

	if cfg.Proxy.UpstreamProxy.Enabled && cfg.Proxy.UpstreamProxy.URL != "" {
		if proxyURL, err := url.Parse(cfg.Proxy.UpstreamProxy.URL); err == nil {
			c.SetProxyURL(proxyURL.String())
		} else {
			fmt.Printf("upstream: WARN invalid upstream_proxy url %q ignored: %v\n", cfg.Proxy.UpstreamProxy.URL, err)
		}
	}

	baseURLs := cfg.Proxy.InternalBaseURLs
	if len(baseURLs) == 0 {
		baseURLs = gemini.DefaultInternalBaseURLs
	}
	userAgent := cfg.Proxy.UserAgent
	if userAgent == "" {
		userAgent = gemini.DefaultUserAgent
	}

	return &Client{baseURLs: baseURLs, userAgent: userAgent, timeout: cfg.RequestTimeoutDuration(), http: c}
}

func (c *Client) headers(accessToken string, extra map[string]string) map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Content-Type":  "application/json",
		"User-Agent":    c.userAgent,
	}
	for k, v := range gemini.IdentityHeaders() {
		h[k] = v
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// isTransient decides failover advancement per spec.md §4.2: advance only
// on no-response or 408/429/5xx, never on 401/403.
func isTransient(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	return statusCode == 408 || statusCode == 429 || statusCode >= 500
}

// logUpstreamError logs an upstream error body at debug volume, capping it
// through geminicli.SanitizeBodyForLogs (spec.md §7 "response snippets are
// capped") so an account's base64 image/audio payload never floods the logs.
func logUpstreamError(action string, raw []byte, statusCode int) {
	log.Printf("[UpstreamClient] %s failed status=%d body=%s", action, statusCode, geminicli.SanitizeBodyForLogs(string(raw)))
}

// Generate performs a unary :generateContent call with endpoint failover.
func (c *Client) Generate(ctx context.Context, body gemini.InternalRequest, accessToken string, extraHeaders map[string]string) (*gemini.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal internal request: %w", err)
	}

	var lastErr error
	for _, base := range c.baseURLs {
		endpoint := strings.TrimRight(base, "/") + "/models/" + body.Model + ":generateContent"

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.headers(accessToken, extraHeaders)).
			SetBodyBytes(payload).
			Post(endpoint)

		if err != nil {
			lastErr = gatewayerr.New(gatewayerr.Transient, 0, err.Error())
			continue
		}

		raw, readErr := resp.ToBytes()
		if readErr != nil {
			lastErr = gatewayerr.New(gatewayerr.Transient, resp.StatusCode, readErr.Error())
			continue
		}

		if resp.IsErrorState() {
			logUpstreamError("generateContent", raw, resp.StatusCode)
			message := upstreamErrorMessage(raw, resp.StatusCode)
			if isTransient(resp.StatusCode, nil) {
				lastErr = gatewayerr.Classify(resp.StatusCode, message)
				continue
			}
			return nil, gatewayerr.Classify(resp.StatusCode, message)
		}

		return gemini.UnwrapInternalResponse(raw)
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.Fatal, 0, "no internal base urls configured")
	}
	return nil, lastErr
}

// StreamGenerate performs a :streamGenerateContent?alt=sse call and returns
// the raw upstream body for the StreamMapper to parse. The caller owns
// closing the returned ReadCloser.
func (c *Client) StreamGenerate(ctx context.Context, body gemini.InternalRequest, accessToken string, extraHeaders map[string]string) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal internal request: %w", err)
	}

	var lastErr error
	for _, base := range c.baseURLs {
		endpoint := strings.TrimRight(base, "/") + "/models/" + body.Model + ":streamGenerateContent?alt=sse"

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.headers(accessToken, extraHeaders)).
			SetBodyBytes(payload).
			SetDoNotParseResponse(true).
			Post(endpoint)

		if err != nil {
			lastErr = gatewayerr.New(gatewayerr.Transient, 0, err.Error())
			continue
		}

		if resp.IsErrorState() {
			raw, _ := resp.ToBytes()
			logUpstreamError("streamGenerateContent", raw, resp.StatusCode)
			message := upstreamErrorMessage(raw, resp.StatusCode)
			_ = resp.Body.Close()
			if isTransient(resp.StatusCode, nil) {
				lastErr = gatewayerr.Classify(resp.StatusCode, message)
				continue
			}
			return nil, gatewayerr.Classify(resp.StatusCode, message)
		}

		return resp.Body, nil
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.Fatal, 0, "no internal base urls configured")
	}
	return nil, lastErr
}

// PublicGenerate calls a public (non-internal) generateContent endpoint —
// either Google AI Studio's /v1beta/models/{model}:generateContent or a
// Vertex AI regional URL built by gemini.BuildVertexAIURL — bypassing the
// internal Cloud Code endpoint failover entirely (spec.md §4.2 "used only
// for non-internal generation", SPEC_FULL.md §3.8).
func (c *Client) PublicGenerate(ctx context.Context, endpoint string, body gemini.Request, accessToken string) (*gemini.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal public request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+accessToken).
		SetHeader("Content-Type", "application/json").
		SetBodyBytes(payload).
		Post(endpoint)
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.Transient, 0, err.Error())
	}
	raw, err := resp.ToBytes()
	if err != nil {
		return nil, gatewayerr.New(gatewayerr.Transient, resp.StatusCode, err.Error())
	}
	if resp.IsErrorState() {
		logUpstreamError("publicGenerateContent", raw, resp.StatusCode)
		return nil, gatewayerr.Classify(resp.StatusCode, upstreamErrorMessage(raw, resp.StatusCode))
	}
	return gemini.UnwrapInternalResponse(raw)
}

// LoadCodeAssist resolves the pooled account's Cloud Code project context via
// the internal loadCodeAssist action, used by the orchestrator's second-step
// project-context inline retry (SPEC_FULL.md §3.3 "Project-ID default
// fallback") once the unconditional project="" retry still reports a missing
// project context.
func (c *Client) LoadCodeAssist(ctx context.Context, accessToken string) (*geminicli.LoadCodeAssistResponse, error) {
	payload, err := json.Marshal(geminicli.LoadCodeAssistRequest{
		Metadata: geminicli.LoadCodeAssistMetadata{
			IDEType:    "IDE_UNSPECIFIED",
			Platform:   "PLATFORM_UNSPECIFIED",
			PluginType: "GEMINI",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal loadCodeAssist request: %w", err)
	}

	var lastErr error
	for _, base := range c.baseURLs {
		endpoint := strings.TrimRight(base, "/") + ":loadCodeAssist"

		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(c.headers(accessToken, nil)).
			SetBodyBytes(payload).
			Post(endpoint)
		if err != nil {
			lastErr = gatewayerr.New(gatewayerr.Transient, 0, err.Error())
			continue
		}

		raw, readErr := resp.ToBytes()
		if readErr != nil {
			lastErr = gatewayerr.New(gatewayerr.Transient, resp.StatusCode, readErr.Error())
			continue
		}

		if resp.IsErrorState() {
			logUpstreamError("loadCodeAssist", raw, resp.StatusCode)
			message := upstreamErrorMessage(raw, resp.StatusCode)
			if isTransient(resp.StatusCode, nil) {
				lastErr = gatewayerr.Classify(resp.StatusCode, message)
				continue
			}
			return nil, gatewayerr.Classify(resp.StatusCode, message)
		}

		var out geminicli.LoadCodeAssistResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("unmarshal loadCodeAssist response: %w", err)
		}
		return &out, nil
	}

	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.Fatal, 0, "no internal base urls configured")
	}
	return nil, lastErr
}

type googleErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// upstreamErrorMessage prefers the upstream's own error.message when present
// (spec.md §4.2 "If all endpoints fail, propagate the last upstream error,
// with the upstream's own error.message preferred when present").
func upstreamErrorMessage(raw []byte, statusCode int) string {
	var body googleErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if len(raw) > 0 {
		return fmt.Sprintf("upstream status %d: %s", statusCode, string(raw))
	}
	return fmt.Sprintf("upstream status %d", statusCode)
}
