//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gateway_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

func TestAccountRepository_ListSchedulableExcludesInactiveAndUnschedulable(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	active := &model.Account{ID: "acc-active", Provider: model.ProviderGoogle, Email: "a@example.com", Status: model.StatusActive, IsActive: true, Schedulable: true, Priority: 10}
	inactive := &model.Account{ID: "acc-inactive", Provider: model.ProviderGoogle, Email: "b@example.com", Status: model.StatusActive, IsActive: false, Schedulable: true, Priority: 10}
	unschedulable := &model.Account{ID: "acc-unsched", Provider: model.ProviderGoogle, Email: "c@example.com", Status: model.StatusActive, IsActive: true, Schedulable: false, Priority: 10}

	require.NoError(t, repo.Create(ctx, active))
	require.NoError(t, repo.Create(ctx, inactive))
	require.NoError(t, repo.Create(ctx, unschedulable))

	accounts, err := repo.ListSchedulable(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "acc-active", accounts[0].ID)
}

func TestAccountRepository_UpdateTokenPersistsJSONB(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	acc := &model.Account{ID: "acc-1", Provider: model.ProviderGoogle, Email: "a@example.com", Status: model.StatusActive, IsActive: true, Schedulable: true}
	require.NoError(t, repo.Create(ctx, acc))

	require.NoError(t, repo.UpdateToken(ctx, "acc-1", model.Token{AccessToken: "fresh-token", ExpiryTimestamp: time.Now().Add(time.Hour).Unix()}))

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	tok, err := got.DecodeToken()
	require.NoError(t, err)
	require.Equal(t, "fresh-token", tok.AccessToken)
}

func TestAccountRepository_MarkStatusSetsErrorMessage(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewAccountRepository(db)
	ctx := context.Background()

	acc := &model.Account{ID: "acc-1", Provider: model.ProviderGoogle, Email: "a@example.com", Status: model.StatusActive, IsActive: true, Schedulable: true}
	require.NoError(t, repo.Create(ctx, acc))

	require.NoError(t, repo.MarkStatus(ctx, "acc-1", model.StatusRateLimited, "429 from upstream"))

	got, err := repo.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusRateLimited, got.Status)
	require.Equal(t, "429 from upstream", got.ErrorMessage)
}
