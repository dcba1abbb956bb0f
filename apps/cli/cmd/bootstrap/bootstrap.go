package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	"github.com/zenGate-Global/palmyra-reports/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// Notes/constraints:
// - `registry` is idempotent and safe to run on every deploy.
// - `tenant` assumes the registry tables exist; it never creates the tenant database itself.
// - Existing tenants and users are reported, not modified.

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap registry resources (schema, tenants, initial users)",
	}

	cmd.AddCommand(registryCommand())
	cmd.AddCommand(tenantCommand())
	return cmd
}

func registryCommand() *cobra.Command {
	var (
		databaseURL string
		schema      string
	)

	c := &cobra.Command{
		Use:   "registry",
		Short: "Create the registry schema and its tenants/users tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapRegistry(ctx, pool, schema); err != nil {
				return fmt.Errorf("bootstrap registry: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registry schema %q is ready.\n", schema)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "registry PostgreSQL connection string")
	c.Flags().StringVar(&schema, "schema", persistence.DefaultRegistrySchema, "registry schema name")
	_ = c.MarkFlagRequired("database-url")

	return c
}

func tenantCommand() *cobra.Command {
	var (
		databaseURL string
		schema      string
		in          tenantInput
	)

	c := &cobra.Command{
		Use:   "tenant",
		Short: "Register a tenant database and its initial privileged user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			db := persistence.NewRegistryDB(persistence.RegistryDBConfig{Pool: pool, Schema: schema})
			tenants, err := persistence.NewTenantStore(db)
			if err != nil {
				return fmt.Errorf("init tenant store: %w", err)
			}
			users, err := persistence.NewUserStore(db)
			if err != nil {
				return fmt.Errorf("init user store: %w", err)
			}

			res, err := ensureTenant(ctx, tenants, users, in)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Bootstrap complete. Tenant: %s (%d, created=%t) | User: %s (%d, created=%t)\n",
				res.Tenant.Slug, res.Tenant.ID, res.TenantCreated, res.User.Email, res.User.ID, res.UserCreated)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "registry PostgreSQL connection string")
	c.Flags().StringVar(&schema, "schema", persistence.DefaultRegistrySchema, "registry schema name")
	c.Flags().StringVar(&in.Slug, "slug", "", "tenant slug")
	c.Flags().StringVar(&in.DBHost, "db-host", "localhost", "tenant database host")
	c.Flags().IntVar(&in.DBPort, "db-port", 5432, "tenant database port")
	c.Flags().StringVar(&in.DBName, "db-name", "", "tenant database name")
	c.Flags().StringVar(&in.Email, "admin-email", "", "initial privileged user email")
	c.Flags().StringVar(&in.Password, "admin-password", "", "initial privileged user password")
	c.Flags().IntVar(&in.Cost, "bcrypt-cost", bcrypt.DefaultCost, "bcrypt cost for the password hash")

	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("slug")
	_ = c.MarkFlagRequired("db-name")
	_ = c.MarkFlagRequired("admin-email")
	_ = c.MarkFlagRequired("admin-password")

	return c
}

type tenantStore interface {
	GetBySlug(ctx context.Context, slug string) (persistence.TenantRecord, error)
	Create(ctx context.Context, params persistence.CreateTenantParams) (persistence.TenantRecord, error)
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (persistence.User, error)
	CreateUser(ctx context.Context, params persistence.CreateUserParams) (persistence.User, error)
}

type tenantInput struct {
	Slug     string
	DBHost   string
	DBPort   int
	DBName   string
	Email    string
	Password string
	Cost     int
}

type tenantResult struct {
	Tenant        persistence.TenantRecord
	TenantCreated bool
	User          persistence.User
	UserCreated   bool
}

// ensureTenant performs a check-or-create for the tenant and then for its privileged user.
func ensureTenant(ctx context.Context, tenants tenantStore, users userStore, in tenantInput) (tenantResult, error) {
	slug := tenant.NormalizeSlug(in.Slug)
	if !tenant.ValidSlug(slug) {
		return tenantResult{}, fmt.Errorf("invalid tenant slug %q", in.Slug)
	}
	if strings.TrimSpace(in.DBName) == "" {
		return tenantResult{}, errors.New("tenant database name is required")
	}

	var res tenantResult

	rec, err := tenants.GetBySlug(ctx, slug)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrNotFound):
		rec, err = tenants.Create(ctx, persistence.CreateTenantParams{
			Slug:   slug,
			DBHost: strings.TrimSpace(in.DBHost),
			DBPort: in.DBPort,
			DBName: strings.TrimSpace(in.DBName),
		})
		if err != nil {
			return tenantResult{}, fmt.Errorf("create tenant: %w", err)
		}
		res.TenantCreated = true
	default:
		return tenantResult{}, fmt.Errorf("get tenant by slug: %w", err)
	}
	res.Tenant = rec

	user, created, err := ensureAdminUser(ctx, users, rec.ID, in.Email, in.Password, in.Cost)
	if err != nil {
		return tenantResult{}, err
	}
	res.User = user
	res.UserCreated = created

	return res, nil
}

// ensureAdminUser performs a check-or-create for the tenant's privileged user.
func ensureAdminUser(ctx context.Context, users userStore, tenantID int64, email, password string, cost int) (persistence.User, bool, error) {
	email = persistence.NormalizeEmail(email)
	if email == "" || password == "" {
		return persistence.User{}, false, errors.New("admin email and password are required")
	}

	existing, err := users.GetByEmail(ctx, email)
	if err == nil {
		if existing.TenantID != tenantID {
			return persistence.User{}, false, fmt.Errorf("user %s already belongs to tenant %d", email, existing.TenantID)
		}
		return existing, false, nil
	}
	if !errors.Is(err, persistence.ErrUserNotFound) {
		return persistence.User{}, false, fmt.Errorf("lookup admin user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return persistence.User{}, false, fmt.Errorf("hash password: %w", err)
	}

	user, err := users.CreateUser(ctx, persistence.CreateUserParams{
		Email:        email,
		PasswordHash: string(hash),
		Role:         auth.RolePrivileged.String(),
		TenantID:     tenantID,
	})
	if err != nil {
		return persistence.User{}, false, fmt.Errorf("create admin user: %w", err)
	}
	return user, true, nil
}
