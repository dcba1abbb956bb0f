package tenant

import (
	"regexp"
	"strings"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NormalizeSlug lower-cases and trims slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// ValidSlug reports whether slug is kebab-case.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// BuildBasePrefix returns `<envKey>/<tenantSlug>/`, the object-store prefix owned by a tenant.
func BuildBasePrefix(envKey, slug string) string {
	envKey = strings.Trim(envKey, "/")
	if envKey == "" {
		return slug + "/"
	}
	return envKey + "/" + slug + "/"
}
