package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RegistryDB wraps the registry pool so every statement runs against the registry schema.
type RegistryDB struct {
	pool   *pgxpool.Pool
	tx     txBeginner
	schema string
}

// RegistryDBConfig configures NewRegistryDB.
type RegistryDBConfig struct {
	Pool   *pgxpool.Pool
	Schema string
}

// NewRegistryDB validates cfg; Schema defaults to DefaultRegistrySchema.
func NewRegistryDB(cfg RegistryDBConfig) *RegistryDB {
	if cfg.Pool == nil {
		panic("RegistryDB requires pool")
	}

	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = DefaultRegistrySchema
	}
	return &RegistryDB{pool: cfg.Pool, tx: cfg.Pool, schema: schema}
}

// Table returns the schema-qualified, quoted table name.
func (db *RegistryDB) Table(name string) string {
	return pgx.Identifier{db.schema, name}.Sanitize()
}

// Pool exposes the underlying pool for single-statement reads.
func (db *RegistryDB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithTx executes fn inside a transaction and commits when fn succeeds.
func (db *RegistryDB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.tx.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
