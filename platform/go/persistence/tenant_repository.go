package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// TenantRecord represents a row of the tenant registry.
type TenantRecord struct {
	ID        int64     `db:"id"`
	Slug      string    `db:"slug"`
	DBHost    string    `db:"db_host"`
	DBPort    int       `db:"db_port"`
	DBName    string    `db:"db_name"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ErrNotFound is returned when a tenant record is not found.
var ErrNotFound = errors.New("tenant not found")

const tenantColumns = `id, slug, db_host, db_port, db_name, is_active, created_at, updated_at`

// TenantStore provides access to the tenants table.
type TenantStore struct {
	db *RegistryDB
}

// NewTenantStore creates a store; assumes BootstrapRegistry already created the table.
func NewTenantStore(db *RegistryDB) (*TenantStore, error) {
	if db == nil {
		return nil, errors.New("registry db is required")
	}
	return &TenantStore{db: db}, nil
}

// CreateTenantParams captures the fields required to register a tenant.
type CreateTenantParams struct {
	Slug   string
	DBHost string
	DBPort int
	DBName string
}

// Create registers an active tenant.
func (s *TenantStore) Create(ctx context.Context, params CreateTenantParams) (TenantRecord, error) {
	if strings.TrimSpace(params.Slug) == "" {
		return TenantRecord{}, errors.New("tenant slug is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (slug, db_host, db_port, db_name)
        VALUES ($1, $2, $3, $4)
        RETURNING %s
    `, s.db.Table("tenants"), tenantColumns)

	return scanTenantRecord(s.db.Pool().QueryRow(ctx, query, params.Slug, params.DBHost, params.DBPort, params.DBName))
}

// GetActive fetches an active tenant by id.
func (s *TenantStore) GetActive(ctx context.Context, id int64) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND is_active = TRUE`, tenantColumns, s.db.Table("tenants"))
	return scanTenantRecord(s.db.Pool().QueryRow(ctx, query, id))
}

// GetBySlug returns the active tenant by slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (TenantRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1 AND is_active = TRUE`, tenantColumns, s.db.Table("tenants"))
	return scanTenantRecord(s.db.Pool().QueryRow(ctx, query, slug))
}

// SetActive flips the active flag.
func (s *TenantStore) SetActive(ctx context.Context, id int64, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET is_active = $2, updated_at = now() WHERE id = $1`, s.db.Table("tenants"))
	tag, err := s.db.Pool().Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDatabase points an active tenant at another database on its host and
// returns the record before and after the change.
func (s *TenantStore) UpdateDatabase(ctx context.Context, id int64, dbName string) (before, after TenantRecord, err error) {
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		lock := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1 AND is_active = TRUE FOR UPDATE`, tenantColumns, s.db.Table("tenants"))
		if before, err = scanTenantRecord(tx.QueryRow(ctx, lock, id)); err != nil {
			return err
		}

		update := fmt.Sprintf(`UPDATE %s SET db_name = $2, updated_at = now() WHERE id = $1 RETURNING %s`, s.db.Table("tenants"), tenantColumns)
		after, err = scanTenantRecord(tx.QueryRow(ctx, update, id, dbName))
		return err
	})
	return before, after, err
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(&rec.ID, &rec.Slug, &rec.DBHost, &rec.DBPort, &rec.DBName, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantRecord{}, ErrNotFound
		}
		return TenantRecord{}, err
	}
	return rec, nil
}
