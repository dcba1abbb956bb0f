package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
)

const (
	DefaultCacheTTL  = 60 * time.Second
	DefaultCacheSize = 4096
)

// DirectoryConfig controls the tenant metadata cache.
type DirectoryConfig struct {
	TTL  time.Duration
	Size int
}

// Directory resolves tenant ids to connection metadata through a short-TTL cache
// in front of the registry. Concurrent misses for one tenant may both read the
// registry; the last write wins.
type Directory struct {
	registry Registry
	cache    *expirable.LRU[int64, ConnectionInfo]
	logger   *zap.Logger
}

// NewDirectory builds a Directory over registry.
func NewDirectory(registry Registry, cfg DirectoryConfig, logger *zap.Logger) *Directory {
	if registry == nil {
		panic("tenant directory: registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheSize
	}

	return &Directory{
		registry: registry,
		cache:    expirable.NewLRU[int64, ConnectionInfo](cfg.Size, nil, cfg.TTL),
		logger:   logger,
	}
}

// Resolve returns connection metadata for tenantID. Tenants that are missing or
// inactive in the registry fail with ErrUnauthorizedTenant.
func (d *Directory) Resolve(ctx context.Context, tenantID int64) (ConnectionInfo, error) {
	if info, ok := d.cache.Get(tenantID); ok {
		return info, nil
	}

	rec, err := d.registry.FindActive(ctx, tenantID)
	switch {
	case errors.Is(err, ErrNotFound):
		return ConnectionInfo{}, &apperrors.Error{
			Category: apperrors.CategoryAuthentication,
			Message:  "tenant is inactive or unknown",
			Cause:    ErrUnauthorizedTenant,
		}
	case err != nil:
		return ConnectionInfo{}, apperrors.Upstream("tenant registry unavailable", err)
	case !rec.Active:
		return ConnectionInfo{}, &apperrors.Error{
			Category: apperrors.CategoryAuthentication,
			Message:  "tenant is inactive or unknown",
			Cause:    ErrUnauthorizedTenant,
		}
	}

	info := rec.ConnectionInfo()
	d.cache.Add(tenantID, info)

	platformlogging.Ctx(ctx, d.logger).Debug("tenant resolved from registry",
		zap.Int64("tenant_id", tenantID),
		zap.String("tenant_slug", info.Slug),
	)

	return info, nil
}

// Invalidate drops the cached entry for tenantID so the next Resolve reads the registry.
func (d *Directory) Invalidate(tenantID int64) {
	d.cache.Remove(tenantID)
}

// Len reports the number of live cache entries.
func (d *Directory) Len() int {
	return d.cache.Len()
}
