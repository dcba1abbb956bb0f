package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of caller privilege levels.
type Role uint8

const (
	RoleUnknown Role = iota
	RolePrivileged
	RoleStandard
	RoleReadOnly
)

// ParseRole maps the stored/claimed role name onto Role. Unknown names are rejected.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "privileged":
		return RolePrivileged, nil
	case "standard":
		return RoleStandard, nil
	case "read-only", "read_only", "readonly":
		return RoleReadOnly, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RolePrivileged:
		return "privileged"
	case RoleStandard:
		return "standard"
	case RoleReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}
