package services

import (
	"context"
	"fmt"

	apperrors "bytechat_go_backend/internal/errors"
	"bytechat_go_backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserStore is the durable account ledger. GetOrCreateUser and
// ReconcileUsage are the only two ways token counters change.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, email, name, picture string) (*models.User, error)
	ReconcileUsage(ctx context.Context, email string, consumed int64) (int64, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// DefaultTokenAllotment is granted once, when an identity is first seen.
const DefaultTokenAllotment int64 = 1_000_000

// UserService implements UserStore on gorm/postgres.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// GetOrCreateUser inserts a new account with the default allotment for an
// unseen email, or refreshes the mutable profile fields for a known one.
// Counters are never touched on the refresh path.
func (s *UserService) GetOrCreateUser(ctx context.Context, email, name, picture string) (*models.User, error) {
	user := models.User{
		Email:       email,
		Name:        name,
		Picture:     picture,
		TotalTokens: DefaultTokenAllotment,
		TokensUsed:  0,
		TokensLeft:  DefaultTokenAllotment,
	}
	result := s.db.WithContext(ctx).
		Where(models.User{Email: email}).
		Assign(map[string]interface{}{"name": name, "picture": picture}).
		FirstOrCreate(&user)
	if result.Error != nil {
		return nil, fmt.Errorf("get or create user %s: %v: %w", email, result.Error, apperrors.ErrStorage)
	}
	return &user, nil
}

// ReconcileUsage applies one stream's consumed total as a single atomic
// read-modify-write and returns the new tokens_left. The row-level UPDATE is
// the serialization point for concurrent streams of the same user, and the
// GREATEST clause clamps tokens_left at zero. consumed == 0 is a legal no-op
// that still reports the current balance.
func (s *UserService) ReconcileUsage(ctx context.Context, email string, consumed int64) (int64, error) {
	if consumed < 0 {
		return 0, fmt.Errorf("negative consumed tokens %d: %w", consumed, apperrors.ErrStorage)
	}

	var user models.User
	result := s.db.WithContext(ctx).
		Model(&user).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "tokens_used"}, {Name: "tokens_left"}}}).
		Where("email = ?", email).
		Updates(map[string]interface{}{
			"tokens_used": gorm.Expr("tokens_used + ?", consumed),
			"tokens_left": gorm.Expr("GREATEST(tokens_left - ?, 0)", consumed),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reconcile usage for %s: %v: %w", email, result.Error, apperrors.ErrStorage)
	}
	if result.RowsAffected == 0 {
		return 0, fmt.Errorf("reconcile usage for %s: no such account: %w", email, apperrors.ErrStorage)
	}
	return user.TokensLeft, nil
}

// ListUsers enumerates every account. Diagnostic only.
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	result := s.db.WithContext(ctx).Order("id asc").Find(&users)
	if result.Error != nil {
		return nil, fmt.Errorf("list users: %v: %w", result.Error, apperrors.ErrStorage)
	}
	return users, nil
}
