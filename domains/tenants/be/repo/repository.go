// Package repo implements the tenant registry behind tenant.Registry.
package repo

import (
	"context"

	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// Repository is the registry read side plus the database switch used by connection management.
type Repository interface {
	tenant.Registry
	// UpdateDatabase repoints an active tenant at dbName on the same host and
	// returns the records before and after. Unknown or inactive tenants yield tenant.ErrNotFound.
	UpdateDatabase(ctx context.Context, id int64, dbName string) (before, after tenant.Record, err error)
}
