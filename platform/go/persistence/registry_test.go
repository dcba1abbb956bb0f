package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRegistry(t *testing.T) *RegistryDB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("palmyra"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	require.NoError(t, BootstrapRegistry(ctx, pool, DefaultRegistrySchema))
	// Idempotent.
	require.NoError(t, BootstrapRegistry(ctx, pool, DefaultRegistrySchema))

	return NewRegistryDB(RegistryDBConfig{Pool: pool})
}

func TestRegistryStores(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping registry integration test in short mode")
	}

	db := startRegistry(t)
	ctx := context.Background()

	tenants, err := NewTenantStore(db)
	require.NoError(t, err)
	users, err := NewUserStore(db)
	require.NoError(t, err)

	acme, err := tenants.Create(ctx, CreateTenantParams{Slug: "acme", DBHost: "db.acme.internal", DBPort: 5432, DBName: "acme_reports"})
	require.NoError(t, err)
	require.True(t, acme.IsActive)

	got, err := tenants.GetActive(ctx, acme.ID)
	require.NoError(t, err)
	require.Equal(t, "acme_reports", got.DBName)

	bySlug, err := tenants.GetBySlug(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, acme.ID, bySlug.ID)

	before, after, err := tenants.UpdateDatabase(ctx, acme.ID, "acme_reports_2026")
	require.NoError(t, err)
	require.Equal(t, "acme_reports", before.DBName)
	require.Equal(t, "acme_reports_2026", after.DBName)

	user, err := users.CreateUser(ctx, CreateUserParams{Email: " Ops@Acme.test ", PasswordHash: "$2a$10$hash", Role: "privileged", TenantID: acme.ID})
	require.NoError(t, err)
	require.Equal(t, "ops@acme.test", user.Email)

	found, err := users.GetByEmail(ctx, "OPS@acme.test")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)
	require.Equal(t, acme.ID, found.TenantID)

	_, err = users.CreateUser(ctx, CreateUserParams{Email: "ops@acme.test", PasswordHash: "x", Role: "standard", TenantID: acme.ID})
	require.ErrorIs(t, err, ErrUserConflict)

	_, err = users.GetByEmail(ctx, "nobody@acme.test")
	require.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, tenants.SetActive(ctx, acme.ID, false))
	_, err = tenants.GetActive(ctx, acme.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, _, err = tenants.UpdateDatabase(ctx, acme.ID, "other")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, tenants.SetActive(ctx, 9999, true), ErrNotFound)
}

func TestSplitStatements(t *testing.T) {
	require.Equal(t, []string{"CREATE TABLE a (id int)", "CREATE INDEX i ON a (id)"},
		splitStatements("CREATE TABLE a (id int);\n\n CREATE INDEX i ON a (id);\n"))
}
