package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// User represents a row in the users table.
type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	TenantID     int64     `db:"tenant_id"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var (
	// ErrUserNotFound indicates a missing user record.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserConflict indicates a uniqueness violation (e.g., duplicated email).
	ErrUserConflict = errors.New("user conflict")
)

const userColumns = `id, email, password_hash, role, tenant_id, is_active, created_at, updated_at`

// UserStore exposes persistence helpers for the users table.
type UserStore struct {
	db *RegistryDB
}

// NewUserStore returns a store instance; assumes BootstrapRegistry already created the table.
func NewUserStore(db *RegistryDB) (*UserStore, error) {
	if db == nil {
		return nil, errors.New("registry db is required")
	}

	return &UserStore{db: db}, nil
}

// CreateUserParams captures the fields required to insert a new user record.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	Role         string
	TenantID     int64
}

// CreateUser inserts a new user and returns the persisted record.
func (s *UserStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if params.PasswordHash == "" {
		return User{}, errors.New("password hash is required")
	}

	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (email, password_hash, role, tenant_id)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, s.db.Table("users"), userColumns),
		NormalizeEmail(params.Email),
		params.PasswordHash,
		params.Role,
		params.TenantID,
	)

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserConflict
		}
		return User{}, err
	}

	return user, nil
}

// GetByEmail returns the user with email regardless of its active flag.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (User, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1`, userColumns, s.db.Table("users"))
	return scanUser(s.db.Pool().QueryRow(ctx, query, NormalizeEmail(email)))
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.TenantID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
