package auth

import "fmt"

// Credential is a database login authorised for a fixed privilege level.
type Credential struct {
	User     string
	Password string
	// ReadOnly marks sessions that must open with default_transaction_read_only.
	ReadOnly bool
}

// CredentialSet holds the two tenant database logins shared by all tenants.
type CredentialSet struct {
	Read  Credential
	Write Credential
}

// NewCredentialSet builds a set, flagging the read login as read-only.
func NewCredentialSet(readUser, readPassword, writeUser, writePassword string) (CredentialSet, error) {
	if readUser == "" || writeUser == "" {
		return CredentialSet{}, fmt.Errorf("read and write database users are required")
	}
	return CredentialSet{
		Read:  Credential{User: readUser, Password: readPassword, ReadOnly: true},
		Write: Credential{User: writeUser, Password: writePassword},
	}, nil
}

// For selects the credential a caller with role may use. Adding a Role without
// extending this switch is a programming error and panics.
func (s CredentialSet) For(role Role) Credential {
	switch role {
	case RolePrivileged:
		return s.Write
	case RoleStandard, RoleReadOnly:
		return s.Read
	default:
		panic(fmt.Sprintf("auth: no credential mapping for role %d", role))
	}
}
