// Package repository implements the gateway's Postgres- and Redis-backed
// ports, grounded on the teacher's internal/repository package.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/antigravity-gateway/gateway/internal/model"
)

// AccountRepository is C1 (CloudAccountStore), a gorm+postgres adapter over
// the pooled accounts table, narrowed to the pool.AccountStore port plus the
// CRUD an operator bootstrap/admin surface needs.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.WithContext(ctx).Order("priority ASC").Find(&accounts).Error
	return accounts, err
}

func (r *AccountRepository) Update(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Account{}, "id = ?", id).Error
}

// ListSchedulable implements pool.AccountStore: every active, schedulable
// Google-provider account ordered so the pool's round-robin sees a stable
// priority order.
func (r *AccountRepository) ListSchedulable(ctx context.Context) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("status = ? AND schedulable = ? AND is_active = ? AND provider = ?", model.StatusActive, true, true, model.ProviderGoogle).
		Order("priority ASC").
		Find(&accounts).Error
	return accounts, err
}

// UpdateToken implements pool.AccountStore, persisting a refreshed token
// back to the jsonb column the pool read it from.
func (r *AccountRepository) UpdateToken(ctx context.Context, accountID string, token model.Token) error {
	var account model.Account
	account.ID = accountID
	if err := account.EncodeToken(token); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", accountID).
		Update("token", account.Token).Error
}

// MarkStatus implements pool.AccountStore, persisting a status transition
// and error message on the account row. The TokenPool keeps its cooldowns in
// memory and does not call it.
func (r *AccountRepository) MarkStatus(ctx context.Context, accountID string, status model.Status, errorMessage string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", accountID).
		Updates(map[string]any{
			"status":        status,
			"error_message": errorMessage,
			"last_used":     now,
		}).Error
}
