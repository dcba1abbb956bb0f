// Package tenantpool owns the long-lived connection pools to tenant databases.
package tenantpool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
	"github.com/zenGate-Global/palmyra-reports/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

var (
	// ErrClosed is returned by Get after Close.
	ErrClosed = errors.New("connection broker closed")
	// ErrSuperseded is returned when the target was superseded while its pool was being dialled.
	ErrSuperseded = errors.New("tenant database superseded during dial")
)

// Pool is the subset of *pgxpool.Pool the gateway relies on.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Key identifies one pool: a physical database reached with one login.
type Key struct {
	Host     string
	Port     int
	Database string
	User     string
}

func (k Key) String() string {
	return k.User + "@" + k.Host + ":" + strconv.Itoa(k.Port) + "/" + k.Database
}

// database is a physical database regardless of login.
type database struct {
	Host     string
	Port     int
	Database string
}

func (k Key) database() database {
	return database{Host: k.Host, Port: k.Port, Database: k.Database}
}

// Target is what a Dialer connects to.
type Target struct {
	Info       tenant.ConnectionInfo
	Credential platformauth.Credential
}

// Key returns the cache key for t.
func (t Target) Key() Key {
	return Key{Host: t.Info.Host, Port: t.Info.Port, Database: t.Info.Database, User: t.Credential.User}
}

// Dialer opens a new pool for a target.
type Dialer func(ctx context.Context, target Target) (Pool, error)

// SupersededPolicy decides what happens to pools of a database a tenant switched away from.
type SupersededPolicy string

const (
	// SupersededClose evicts the old pools and closes them once in-flight queries drain.
	SupersededClose SupersededPolicy = "close"
	// SupersededRetain keeps the old pools alive until process shutdown.
	SupersededRetain SupersededPolicy = "retain"
)

// ParseSupersededPolicy validates a configured policy name.
func ParseSupersededPolicy(s string) (SupersededPolicy, error) {
	switch SupersededPolicy(s) {
	case SupersededClose, SupersededRetain:
		return SupersededPolicy(s), nil
	case "":
		return SupersededClose, nil
	default:
		return "", fmt.Errorf("unknown superseded pool policy %q", s)
	}
}

// Config controls pool creation.
type Config struct {
	// DialTimeout bounds one pool creation, independent of the first caller's context.
	DialTimeout time.Duration
	Superseded  SupersededPolicy
}

// Broker hands out one shared pool per Key. Concurrent first requests for a key
// collapse into a single dial.
type Broker struct {
	dial   Dialer
	cfg    Config
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[Key]Pool
	// generations is bumped by Supersede so dials that started earlier are discarded.
	generations map[database]uint64
	closed      bool

	flight  singleflight.Group
	created atomic.Int64
	drains  sync.WaitGroup
}

// NewBroker returns a Broker that opens pools with dial.
func NewBroker(dial Dialer, cfg Config, logger *zap.Logger) *Broker {
	if dial == nil {
		panic("tenantpool: dialer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Superseded == "" {
		cfg.Superseded = SupersededClose
	}

	return &Broker{
		dial:   dial,
		cfg:    cfg,
		logger: logger,
		pools:  make(map[Key]Pool),

		generations: make(map[database]uint64),
	}
}

// Get returns the pool for (info, credential), creating it on first use.
func (b *Broker) Get(ctx context.Context, info tenant.ConnectionInfo, credential platformauth.Credential) (Pool, error) {
	target := Target{Info: info, Credential: credential}
	key := target.Key()

	if pool, ok, _, err := b.lookup(key); err != nil || ok {
		return pool, err
	}

	ch := b.flight.DoChan(key.String(), func() (interface{}, error) {
		pool, ok, generation, err := b.lookup(key)
		if err != nil || ok {
			return pool, err
		}

		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.DialTimeout)
		defer cancel()

		pool, err = b.dial(dialCtx, target)
		if err != nil {
			metrics.TenantPoolCreations.WithLabelValues("error").Inc()
			return nil, err
		}
		b.created.Add(1)
		metrics.TenantPoolCreations.WithLabelValues("created").Inc()

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			pool.Close()
			return nil, ErrClosed
		}
		if b.generations[key.database()] != generation {
			b.mu.Unlock()
			pool.Close()
			return nil, ErrSuperseded
		}
		b.pools[key] = pool
		metrics.TenantPools.Set(float64(len(b.pools)))
		b.mu.Unlock()

		platformlogging.Ctx(ctx, b.logger).Info("tenant pool created",
			zap.Int64("tenant_id", info.TenantID),
			zap.String("pool_key", key.String()),
		)
		return pool, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrClosed) {
				return nil, res.Err
			}
			if errors.Is(res.Err, ErrSuperseded) {
				return nil, apperrors.Upstream("tenant database was switched; retry the request", res.Err)
			}
			return nil, apperrors.Upstream("tenant database unavailable", res.Err)
		}
		return res.Val.(Pool), nil
	}
}

// lookup returns the cached pool for key and the generation of its database.
func (b *Broker) lookup(key Key) (Pool, bool, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, 0, ErrClosed
	}
	pool, ok := b.pools[key]
	return pool, ok, b.generations[key.database()], nil
}

// Supersede applies the configured policy to every pool pointing at the old
// (host, port, database) target. It returns the number of pools evicted.
func (b *Broker) Supersede(old tenant.ConnectionInfo) int {
	logger := b.logger.With(zap.Int64("tenant_id", old.TenantID), zap.String("database", old.Database))

	if b.cfg.Superseded == SupersededRetain {
		logger.Info("superseded tenant pools retained")
		return 0
	}

	var evicted []Pool
	b.mu.Lock()
	b.generations[database{Host: old.Host, Port: old.Port, Database: old.Database}]++
	for key, pool := range b.pools {
		if key.Host == old.Host && key.Port == old.Port && key.Database == old.Database {
			delete(b.pools, key)
			evicted = append(evicted, pool)
		}
	}
	metrics.TenantPools.Set(float64(len(b.pools)))
	b.mu.Unlock()

	for _, pool := range evicted {
		b.drains.Add(1)
		go func(p Pool) {
			defer b.drains.Done()
			// Close blocks until acquired connections are released.
			p.Close()
		}(pool)
	}

	logger.Info("superseded tenant pools evicted", zap.Int("pools", len(evicted)))
	return len(evicted)
}

// Created reports how many pools have been dialled over the broker's lifetime.
func (b *Broker) Created() int64 {
	return b.created.Load()
}

// Len reports the number of live pools.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pools)
}

// Close closes every pool and rejects further Get calls.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pools := b.pools
	b.pools = make(map[Key]Pool)
	b.mu.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
	b.drains.Wait()
	metrics.TenantPools.Set(0)
}
