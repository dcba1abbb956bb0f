package sqlassets

import _ "embed"

//go:embed schema/registry/tenants.sql
var TenantsSQL string

//go:embed schema/registry/users.sql
var UsersSQL string
