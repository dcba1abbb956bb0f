// Package service implements tenant connection introspection and the database switch.
package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenantpool"
)

const (
	// DefaultCheckTimeout bounds pings and one-off connection tests.
	DefaultCheckTimeout = 5 * time.Second

	listDatabasesSQL  = `SELECT datname FROM pg_database WHERE NOT datistemplate AND datallowconn ORDER BY 1`
	databaseExistsSQL = `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1 AND NOT datistemplate AND datallowconn)`
	serverVersionSQL  = `SHOW server_version`
)

var databaseName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$-]{0,62}$`)

// Broker is the subset of tenantpool.Broker used here.
type Broker interface {
	Get(ctx context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (tenantpool.Pool, error)
	Supersede(old tenant.ConnectionInfo) int
	Len() int
}

// Registry repoints a tenant at another database. Implemented by the tenants repository.
type Registry interface {
	UpdateDatabase(ctx context.Context, id int64, dbName string) (before, after tenant.Record, err error)
}

// Invalidator drops cached tenant routing. Implemented by tenant.Directory.
type Invalidator interface {
	Invalidate(tenantID int64)
}

// statter is satisfied by *pgxpool.Pool.
type statter interface {
	Stat() *pgxpool.Stat
}

// PoolStats mirrors the pgxpool counters of the caller's tenant pool.
type PoolStats struct {
	TotalConns    int32
	IdleConns     int32
	AcquiredConns int32
	MaxConns      int32
}

// Status describes the caller's tenant connection.
type Status struct {
	Tenant      tenant.ConnectionInfo
	Connected   bool
	Latency     time.Duration
	Error       string
	Pool        *PoolStats
	BrokerPools int
}

// DatabaseList enumerates connectable databases on the tenant host.
type DatabaseList struct {
	Current   string
	Databases []string
}

// TestResult is the outcome of a one-off connection attempt.
type TestResult struct {
	Database      string
	Success       bool
	Latency       time.Duration
	ServerVersion string
	Error         string
}

// SwitchResult reports a completed database switch.
type SwitchResult struct {
	Previous        string
	Current         string
	SupersededPools int
}

// Service defines the business operations for the connections domain.
type Service interface {
	Status(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo) (Status, error)
	Databases(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo) (DatabaseList, error)
	Test(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, database string) (TestResult, error)
	Switch(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, database string) (SwitchResult, error)
}

// Options wires the connections service.
type Options struct {
	Broker       Broker
	Registry     Registry
	Directory    Invalidator
	Credentials  platformauth.CredentialSet
	Dial         tenantpool.Dialer // opens uncached pools for connection tests
	CheckTimeout time.Duration
	Logger       *zap.Logger
}

type service struct {
	broker       Broker
	registry     Registry
	directory    Invalidator
	credentials  platformauth.CredentialSet
	dial         tenantpool.Dialer
	checkTimeout time.Duration
	logger       *zap.Logger
}

// New constructs a connections Service.
func New(opts Options) Service {
	if opts.Broker == nil {
		panic("connection broker is required")
	}
	if opts.Registry == nil {
		panic("tenant registry is required")
	}
	if opts.Directory == nil {
		panic("tenant directory is required")
	}
	if opts.Dial == nil {
		panic("dialer is required")
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &service{
		broker:       opts.Broker,
		registry:     opts.Registry,
		directory:    opts.Directory,
		credentials:  opts.Credentials,
		dial:         opts.Dial,
		checkTimeout: opts.CheckTimeout,
		logger:       opts.Logger,
	}
}

func (s *service) Status(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo) (Status, error) {
	out := Status{Tenant: info}

	pool, err := s.broker.Get(ctx, info, s.credentials.For(caller.Role))
	if err != nil {
		if ctx.Err() != nil {
			return Status{}, ctx.Err()
		}
		platformlogging.Ctx(ctx, s.logger).Warn("tenant pool unavailable", zap.Error(err))
		out.Error = "tenant database unavailable"
		out.BrokerPools = s.broker.Len()
		return out, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	start := time.Now()
	if err := pool.Ping(pingCtx); err != nil {
		platformlogging.Ctx(ctx, s.logger).Warn("tenant ping failed", zap.Error(err))
		out.Error = "tenant database did not answer ping"
	} else {
		out.Connected = true
		out.Latency = time.Since(start)
	}

	if st, ok := pool.(statter); ok {
		stat := st.Stat()
		out.Pool = &PoolStats{
			TotalConns:    stat.TotalConns(),
			IdleConns:     stat.IdleConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
		}
	}
	out.BrokerPools = s.broker.Len()

	return out, nil
}

func (s *service) Databases(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo) (DatabaseList, error) {
	pool, err := s.pool(ctx, caller, info)
	if err != nil {
		return DatabaseList{}, err
	}

	rows, err := pool.Query(ctx, listDatabasesSQL)
	if err != nil {
		return DatabaseList{}, apperrors.Upstream("list databases failed", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return DatabaseList{}, apperrors.Upstream("list databases failed", err)
	}

	return DatabaseList{Current: info.Database, Databases: names}, nil
}

func (s *service) Test(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, database string) (TestResult, error) {
	if database == "" {
		database = info.Database
	}
	if !databaseName.MatchString(database) {
		return TestResult{}, apperrors.Validation("invalid database name", "use a plain PostgreSQL identifier of at most 63 characters")
	}

	target := info
	target.Database = database
	out := TestResult{Database: database}
	logger := platformlogging.Ctx(ctx, s.logger).With(zap.String("database", database))

	checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	start := time.Now()
	pool, err := s.dial(checkCtx, tenantpool.Target{Info: target, Credential: s.credentials.For(caller.Role)})
	if err != nil {
		logger.Info("connection test failed", zap.Error(err))
		out.Error = "connection failed"
		return out, nil
	}
	defer pool.Close()

	if err := pool.QueryRow(checkCtx, serverVersionSQL).Scan(&out.ServerVersion); err != nil {
		logger.Info("connection test query failed", zap.Error(err))
		out.Error = "server did not answer"
		return out, nil
	}

	out.Success = true
	out.Latency = time.Since(start)
	return out, nil
}

func (s *service) Switch(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo, database string) (SwitchResult, error) {
	if caller.Role != platformauth.RolePrivileged {
		return SwitchResult{}, apperrors.Forbidden("only privileged callers may switch databases")
	}
	if !databaseName.MatchString(database) {
		return SwitchResult{}, apperrors.Validation("invalid database name", "use a plain PostgreSQL identifier of at most 63 characters")
	}
	if database == info.Database {
		return SwitchResult{Previous: info.Database, Current: database}, nil
	}

	pool, err := s.pool(ctx, caller, info)
	if err != nil {
		return SwitchResult{}, err
	}

	var exists bool
	if err := pool.QueryRow(ctx, databaseExistsSQL, database).Scan(&exists); err != nil {
		return SwitchResult{}, apperrors.Upstream("database lookup failed", err)
	}
	if !exists {
		return SwitchResult{}, apperrors.NotFound("database " + database + " does not exist on the tenant host")
	}

	before, after, err := s.registry.UpdateDatabase(ctx, info.TenantID, database)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return SwitchResult{}, apperrors.NotFound("tenant not found")
		}
		return SwitchResult{}, apperrors.Upstream("tenant registry unavailable", err)
	}

	s.directory.Invalidate(info.TenantID)
	superseded := s.broker.Supersede(before.ConnectionInfo())

	platformlogging.Ctx(ctx, s.logger).Info("tenant database switched",
		zap.Int64("tenant_id", info.TenantID),
		zap.Int64("user_id", caller.UserID),
		zap.String("previous", before.Database),
		zap.String("current", after.Database),
		zap.Int("superseded_pools", superseded),
	)

	return SwitchResult{Previous: before.Database, Current: after.Database, SupersededPools: superseded}, nil
}

func (s *service) pool(ctx context.Context, caller platformauth.CallerIdentity, info tenant.ConnectionInfo) (tenantpool.Pool, error) {
	pool, err := s.broker.Get(ctx, info, s.credentials.For(caller.Role))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Upstream("tenant database unavailable", err)
	}
	return pool, nil
}
