package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/pkg/geminicli"
	"github.com/antigravity-gateway/gateway/internal/pool"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

type fakeStore struct{ accounts []*model.Account }

func (f *fakeStore) ListSchedulable(ctx context.Context) ([]*model.Account, error) { return f.accounts, nil }
func (f *fakeStore) UpdateToken(ctx context.Context, accountID string, token model.Token) error {
	return nil
}
func (f *fakeStore) MarkStatus(ctx context.Context, accountID string, status model.Status, msg string) error {
	return nil
}

func newTestAccount(t *testing.T, id string) *model.Account {
	t.Helper()
	a := &model.Account{ID: id, Provider: model.ProviderGoogle, Email: id + "@x.com", IsActive: true, Schedulable: true, Priority: 50}
	require.NoError(t, a.EncodeToken(model.Token{
		AccessToken:     "tok-" + id,
		RefreshToken:    "refresh-" + id,
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
	}))
	return a
}

func newTestOrchestrator(accounts []*model.Account, client generator) *Orchestrator {
	p := pool.New(&fakeStore{accounts: accounts}, nil)
	return New(p, client, &config.Config{})
}

// fakeGenerator lets each test script exactly how Generate/StreamGenerate
// respond, call by call, so the retry loop's account-exclusion behavior is
// directly observable.
type fakeGenerator struct {
	generateCalls int
	generate      func(call int, accessToken string) (*gemini.Response, error)
	stream        func(call int, accessToken string) (io.ReadCloser, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, body gemini.InternalRequest, accessToken string, extra map[string]string) (*gemini.Response, error) {
	f.generateCalls++
	return f.generate(f.generateCalls, accessToken)
}

func (f *fakeGenerator) StreamGenerate(ctx context.Context, body gemini.InternalRequest, accessToken string, extra map[string]string) (io.ReadCloser, error) {
	f.generateCalls++
	return f.stream(f.generateCalls, accessToken)
}

func (f *fakeGenerator) PublicGenerate(ctx context.Context, endpoint string, body gemini.Request, accessToken string) (*gemini.Response, error) {
	f.generateCalls++
	return f.generate(f.generateCalls, accessToken)
}

func (f *fakeGenerator) LoadCodeAssist(ctx context.Context, accessToken string) (*geminicli.LoadCodeAssistResponse, error) {
	return &geminicli.LoadCodeAssistResponse{}, nil
}

// publicCapturingGenerator wraps a fakeGenerator, routing PublicGenerate to
// the same scripted generate func while recording that the public
// (non-internal) path was the one actually exercised.
type publicCapturingGenerator struct {
	*fakeGenerator
	onPublic func()
}

func (p *publicCapturingGenerator) PublicGenerate(ctx context.Context, endpoint string, body gemini.Request, accessToken string) (*gemini.Response, error) {
	p.onPublic()
	return textResponse("ok via vertex"), nil
}

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func textResponse(text string) *gemini.Response {
	return &gemini.Response{Candidates: []gemini.Candidate{{
		Content:      gemini.Content{Role: "model", Parts: []gemini.Part{{Text: text}}},
		FinishReason: "STOP",
	}}}
}

func TestHandleAnthropicMessages_NonStreamHappyPath(t *testing.T) {
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		return textResponse("hello"), nil
	}}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, gen)

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, stream, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hello", resp.Content[0].Text)
}

func TestUnaryWithRetry_RateLimitedRetriesOnDifferentAccount(t *testing.T) {
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		if token == "tok-A" {
			return nil, gatewayerr.New(gatewayerr.RateLimited, 429, "rate_limit exceeded")
		}
		return textResponse("ok from B"), nil
	}}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A"), newTestAccount(t, "B")}, gen)

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, _, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.Equal(t, "ok from B", resp.Content[0].Text)
}

func TestCallUnary_VertexAccountUsesPublicGenerate(t *testing.T) {
	var usedPublic bool
	gen := &fakeGenerator{
		generate: func(call int, token string) (*gemini.Response, error) {
			return nil, gatewayerr.New(gatewayerr.Fatal, 500, "internal path should not be called")
		},
	}
	account := newTestAccount(t, "vertex-A")
	account.VertexRegion = "us-central1"
	account.VertexProjectID = "proj-123"
	orch := newTestOrchestrator([]*model.Account{account}, &publicCapturingGenerator{fakeGenerator: gen, onPublic: func() { usedPublic = true }})

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, _, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.True(t, usedPublic)
	require.Len(t, resp.Content, 1)
}

// fakeLoadCodeAssistGenerator drives the project-context two-step elision
// (SPEC_FULL.md §3.3): the first two calls (initial + project="" retry) still
// report the project-context error, so the orchestrator must resolve a
// project via LoadCodeAssist and retry once more with it.
type fakeLoadCodeAssistGenerator struct {
	*fakeGenerator
	resolvedProject string
	sawProjects     []string
}

func (f *fakeLoadCodeAssistGenerator) LoadCodeAssist(ctx context.Context, accessToken string) (*geminicli.LoadCodeAssistResponse, error) {
	return &geminicli.LoadCodeAssistResponse{CloudAICompanionProject: f.resolvedProject}, nil
}

func TestUnaryWithRetry_ProjectContextResolvesViaLoadCodeAssist(t *testing.T) {
	const projectContextMsg = "requested entity was not found: resource projects/x could not be found"
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		if call <= 2 {
			return nil, gatewayerr.New(gatewayerr.Fatal, 404, projectContextMsg)
		}
		return textResponse("ok with resolved project"), nil
	}}
	lca := &fakeLoadCodeAssistGenerator{fakeGenerator: gen, resolvedProject: "resolved-project"}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, lca)

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, _, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.Equal(t, "ok with resolved project", resp.Content[0].Text)
}

func TestUnaryWithRetry_AllAccountsFailReturnsError(t *testing.T) {
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		return nil, gatewayerr.New(gatewayerr.Forbidden, 403, "forbidden")
	}}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, gen)

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	_, _, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.Error(t, err)
}

func TestEmptyResponseStreamFallback_CollectsStreamWhenUnaryEmpty(t *testing.T) {
	sseBody := "data: " + `{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"from stream"}]},"finishReason":"STOP"}]}}` + "\n\n"
	gen := &fakeGenerator{
		generate: func(call int, token string) (*gemini.Response, error) {
			return &gemini.Response{Candidates: []gemini.Candidate{{}}}, nil // empty parts
		},
		stream: func(call int, token string) (io.ReadCloser, error) {
			return nopCloser{strings.NewReader(sseBody)}, nil
		},
	}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, gen)

	req := anthropic.ChatRequest{Model: "claude-sonnet-4-5", Messages: []anthropic.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, _, err := orch.HandleAnthropicMessages(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.Equal(t, "from stream", resp.Content[0].Text)
}

func TestHandleChatCompletions_NonStreamHappyPath(t *testing.T) {
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		return textResponse("from openai path"), nil
	}}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, gen)

	req := openai.ChatRequest{Model: "gpt-4o", Messages: []openai.ChatMessage{{Role: "user", Content: json.RawMessage(`"hi"`)}}}
	resp, stream, err := orch.HandleChatCompletions(context.Background(), []byte(`{}`), req)
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Equal(t, "from openai path", resp.Choices[0].Message.Content)
}

func TestHandleGeminiGenerateContent_HappyPath(t *testing.T) {
	gen := &fakeGenerator{generate: func(call int, token string) (*gemini.Response, error) {
		return textResponse("native gemini"), nil
	}}
	orch := newTestOrchestrator([]*model.Account{newTestAccount(t, "A")}, gen)

	resp, err := orch.HandleGeminiGenerateContent(context.Background(), "gemini-2.5-pro", gemini.Request{
		Contents: []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, "native gemini", resp.Candidates[0].Content.Parts[0].Text)
}
