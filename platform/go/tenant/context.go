package tenant

import "context"

type ctxKey string

const connectionKey ctxKey = "PALMYRA_TENANT_CONNECTION"

// WithConnection returns a derived context carrying the resolved tenant connection.
func WithConnection(ctx context.Context, info ConnectionInfo) context.Context {
	return context.WithValue(ctx, connectionKey, info)
}

// FromContext extracts the tenant connection and a boolean indicating presence.
func FromContext(ctx context.Context) (ConnectionInfo, bool) {
	v := ctx.Value(connectionKey)
	if v == nil {
		return ConnectionInfo{}, false
	}

	info, ok := v.(ConnectionInfo)
	return info, ok
}
