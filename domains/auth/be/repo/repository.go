// Package repo reads login accounts from the central user table.
package repo

import (
	"context"
	"errors"

	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
)

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("account not found")

// Account is the subset of a user row needed to authenticate.
type Account struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	TenantID     int64
	Active       bool
}

// Repository defines the persistence operations required by the auth service.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
}

type postgresRepository struct {
	store *persistence.UserStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.UserStore) Repository {
	if store == nil {
		panic("user store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	user, err := r.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrUserNotFound) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}

	return Account{
		ID:           user.ID,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Role:         user.Role,
		TenantID:     user.TenantID,
		Active:       user.IsActive,
	}, nil
}
