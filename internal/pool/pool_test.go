package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

type fakeStore struct {
	accounts []*model.Account
}

func (f *fakeStore) ListSchedulable(ctx context.Context) ([]*model.Account, error) {
	return f.accounts, nil
}
func (f *fakeStore) UpdateToken(ctx context.Context, accountID string, token model.Token) error {
	return nil
}
func (f *fakeStore) MarkStatus(ctx context.Context, accountID string, status model.Status, msg string) error {
	return nil
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*gemini.TokenResponse, error) {
	f.calls++
	return &gemini.TokenResponse{AccessToken: "refreshed", TokenType: "Bearer", ExpiresIn: 3600}, nil
}

func newAccount(t *testing.T, id, email string) *model.Account {
	a := &model.Account{ID: id, Provider: model.ProviderGoogle, Email: email, IsActive: true, Schedulable: true, Priority: 50}
	require.NoError(t, a.EncodeToken(model.Token{
		AccessToken:     "tok-" + id,
		RefreshToken:    "refresh-" + id,
		TokenType:       "Bearer",
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
	}))
	return a
}

func TestSelectNext_RoundRobinWithoutSessionKey(t *testing.T) {
	store := &fakeStore{accounts: []*model.Account{newAccount(t, "A", "a@x.com"), newAccount(t, "B", "b@x.com")}}
	p := New(store, nil)

	var order []string
	for i := 0; i < 3; i++ {
		acc, err := p.SelectNext(context.Background(), SelectOptions{})
		require.NoError(t, err)
		require.NotNil(t, acc)
		order = append(order, acc.ID)
	}
	require.Equal(t, []string{"A", "B", "A"}, order)
}

func TestSelectNext_StickySession(t *testing.T) {
	store := &fakeStore{accounts: []*model.Account{newAccount(t, "A", "a@x.com"), newAccount(t, "B", "b@x.com")}}
	p := New(store, nil)

	first, err := p.SelectNext(context.Background(), SelectOptions{SessionKey: "s1"})
	require.NoError(t, err)
	second, err := p.SelectNext(context.Background(), SelectOptions{SessionKey: "s1"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestSelectNext_MarkRateLimitedExcludesAccount(t *testing.T) {
	store := &fakeStore{accounts: []*model.Account{newAccount(t, "A", "a@x.com"), newAccount(t, "B", "b@x.com")}}
	p := New(store, nil)
	_, err := p.SelectNext(context.Background(), SelectOptions{}) // warms the pool
	require.NoError(t, err)

	p.MarkRateLimited("A")

	for i := 0; i < 4; i++ {
		acc, err := p.SelectNext(context.Background(), SelectOptions{})
		require.NoError(t, err)
		require.Equal(t, "B", acc.ID)
	}
}

func TestSelectNext_ExclusionFallsBackToFullPoolWhenEmptied(t *testing.T) {
	store := &fakeStore{accounts: []*model.Account{newAccount(t, "A", "a@x.com")}}
	p := New(store, nil)

	acc, err := p.SelectNext(context.Background(), SelectOptions{ExcludeAccountIDs: []string{"A"}})
	require.NoError(t, err)
	require.NotNil(t, acc)
	require.Equal(t, "A", acc.ID)
}

func TestSelectNext_EmptyPoolReturnsNil(t *testing.T) {
	store := &fakeStore{}
	p := New(store, nil)
	acc, err := p.SelectNext(context.Background(), SelectOptions{})
	require.NoError(t, err)
	require.Nil(t, acc)
}

func TestSelectNext_ProjectIDSanitized(t *testing.T) {
	a := newAccount(t, "A", "a@x.com")
	tok, err := a.DecodeToken()
	require.NoError(t, err)
	tok.ProjectID = "cloud-code-12345"
	require.NoError(t, a.EncodeToken(tok))

	store := &fakeStore{accounts: []*model.Account{a}}
	p := New(store, nil)

	acc, err := p.SelectNext(context.Background(), SelectOptions{})
	require.NoError(t, err)
	out, err := acc.DecodeToken()
	require.NoError(t, err)
	require.Empty(t, out.ProjectID)
}

func TestSelectNext_RefreshesNearExpiryToken(t *testing.T) {
	a := newAccount(t, "A", "a@x.com")
	tok, err := a.DecodeToken()
	require.NoError(t, err)
	tok.ExpiryTimestamp = time.Now().Add(10 * time.Second).Unix()
	require.NoError(t, a.EncodeToken(tok))

	refresher := &fakeRefresher{}
	store := &fakeStore{accounts: []*model.Account{a}}
	p := New(store, refresher)

	acc, err := p.SelectNext(context.Background(), SelectOptions{})
	require.NoError(t, err)
	out, err := acc.DecodeToken()
	require.NoError(t, err)
	require.Equal(t, "refreshed", out.AccessToken)
	require.Equal(t, 1, refresher.calls)
}
