// Package tenant resolves authenticated callers to their tenant database.
package tenant

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrNotFound is returned by a Registry when no active tenant matches.
	ErrNotFound = errors.New("tenant not found")
	// ErrUnauthorizedTenant marks a caller whose tenant is deleted or deactivated.
	ErrUnauthorizedTenant = errors.New("unauthorized tenant")
)

// Record is a row of the central tenant registry.
type Record struct {
	ID       int64
	Slug     string
	Host     string
	Port     int
	Database string
	Active   bool
}

// ConnectionInfo is the routing metadata needed to reach a tenant database.
type ConnectionInfo struct {
	TenantID int64
	Slug     string
	Host     string
	Port     int
	Database string
}

// Address returns host:port.
func (c ConnectionInfo) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ConnectionInfo projects the routing fields of r.
func (r Record) ConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		TenantID: r.ID,
		Slug:     r.Slug,
		Host:     r.Host,
		Port:     r.Port,
		Database: r.Database,
	}
}

// Registry is the read side of the central tenant registry.
type Registry interface {
	// FindActive returns the active tenant with id or ErrNotFound.
	FindActive(ctx context.Context, id int64) (Record, error)
}
