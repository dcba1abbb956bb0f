package repo

import (
	"context"
	"errors"

	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// PostgresRepository implements Repository on the shared registry tables.
type PostgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by TenantStore.
func NewPostgresRepository(store *persistence.TenantStore) *PostgresRepository {
	if store == nil {
		panic("tenant store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) FindActive(ctx context.Context, id int64) (tenant.Record, error) {
	rec, err := r.store.GetActive(ctx, id)
	if err != nil {
		return tenant.Record{}, mapStoreError(err)
	}
	return toRecord(rec), nil
}

func (r *PostgresRepository) UpdateDatabase(ctx context.Context, id int64, dbName string) (tenant.Record, tenant.Record, error) {
	before, after, err := r.store.UpdateDatabase(ctx, id, dbName)
	if err != nil {
		return tenant.Record{}, tenant.Record{}, mapStoreError(err)
	}
	return toRecord(before), toRecord(after), nil
}

func toRecord(rec persistence.TenantRecord) tenant.Record {
	return tenant.Record{
		ID:       rec.ID,
		Slug:     rec.Slug,
		Host:     rec.DBHost,
		Port:     rec.DBPort,
		Database: rec.DBName,
		Active:   rec.IsActive,
	}
}

func mapStoreError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return tenant.ErrNotFound
	}
	return err
}
