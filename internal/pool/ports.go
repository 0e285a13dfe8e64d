// Package pool implements the TokenPool (C3): the in-memory index of
// accounts the orchestrator draws from on every request, grounded on the
// teacher's AccountRepository/GeminiOAuthClient port shapes
// (internal/service/ports/account.go, internal/service/ports/gemini_oauth.go)
// but narrowed to exactly the operations spec.md §4.1 names.
package pool

import (
	"context"

	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// AccountStore is C1 — persistent CRUD for account records, supplied by the
// host application. The pool only ever reads the active set and writes back
// refreshed tokens.
type AccountStore interface {
	ListSchedulable(ctx context.Context) ([]*model.Account, error)
	UpdateToken(ctx context.Context, accountID string, token model.Token) error
	MarkStatus(ctx context.Context, accountID string, status model.Status, errorMessage string) error
}

// TokenRefresher is C2 — exchanges a refresh_token for a fresh access_token.
// gemini.Refresher implements this against Google's OAuth2 endpoint; tests
// substitute a fake.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*gemini.TokenResponse, error)
}
