package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}

type contextKey struct {
	name string
}

// WithIdentity sets the request identity in the given context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the authenticated identity in the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok
}

// GetRouterIdentity extracts the Identity from the router context
func GetRouterIdentity(ctx router.Context, key string) (*Identity, bool) {
	if key == "" {
		key = "user" // Default key used by the auth middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	identity, ok := raw.(*Identity)
	return identity, ok
}

// Can is a convenience function to check a permission directly from the
// standard context. Use CanFromRouter for router-based contexts.
func Can(ctx context.Context, required string) bool {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return false
	}
	return identity.HasPermission(required)
}

// CanFromRouter is a convenience function to check a permission directly
// from the router context
func CanFromRouter(ctx router.Context, required string) bool {
	identity, ok := GetRouterIdentity(ctx, "")
	if !ok {
		return false
	}
	return identity.HasPermission(required)
}

// ScopeFromContext extracts the list-query scope hint for a required
// permission held by the identity in the context.
func ScopeFromContext(ctx context.Context, required string) (Scope, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return identity.ListScope(required)
}
