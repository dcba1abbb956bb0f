// Package storage archives rendered artifacts under a tenant-owned prefix.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/zenGate-Global/palmyra-reports/platform/go/tenant"
)

// ContentTypePDF is the media type of rendered reports.
const ContentTypePDF = "application/pdf"

// ArtifactStore persists artifact bytes and returns a URI pointing at them.
type ArtifactStore interface {
	Put(ctx context.Context, loc ObjectLocation, contentType string, data []byte) (string, error)
}

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ReportKey is the tenant-relative key of a rendered report.
func ReportKey(jobID string) string {
	return "reports/" + jobID + ".pdf"
}

// ResolveObjectLocation combines the tenant prefix and a logical key into a bucket/path pair.
//   - bucket comes from deployment configuration and may be empty for local stores.
//   - envKey optionally scopes all tenants under an environment (e.g. "dev").
//   - logicalKey is tenant-relative, such as "reports/<job-id>.pdf".
func ResolveObjectLocation(bucket, envKey, tenantSlug, logicalKey string) (ObjectLocation, error) {
	slug := tenant.NormalizeSlug(tenantSlug)
	if !tenant.ValidSlug(slug) {
		return ObjectLocation{}, fmt.Errorf("tenant slug %q is invalid", tenantSlug)
	}

	key := strings.TrimSpace(logicalKey)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key %q escapes the tenant prefix", logicalKey)
	}

	prefix := tenant.BuildBasePrefix(envKey, slug)
	return ObjectLocation{Bucket: strings.TrimSpace(bucket), FullPath: prefix + key}, nil
}
