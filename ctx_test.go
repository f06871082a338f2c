package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talentkit/go-auth"
)

func TestWithIdentityRoundTrip(t *testing.T) {
	identity := &auth.Identity{
		UserID:      "user-1",
		Permissions: []string{"job", "candidate:read"},
	}

	ctx := auth.WithIdentity(context.Background(), identity)

	found, ok := auth.IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, identity, found)
}

func TestIdentityFromContextMissing(t *testing.T) {
	_, ok := auth.IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func TestCan(t *testing.T) {
	identity := &auth.Identity{
		Permissions: []string{"job", "candidate:read"},
	}
	ctx := auth.WithIdentity(context.Background(), identity)

	assert.True(t, auth.Can(ctx, "job:create"))
	assert.True(t, auth.Can(ctx, "candidate:read"))
	assert.False(t, auth.Can(ctx, "role:update"))

	// no identity, no access
	assert.False(t, auth.Can(context.Background(), "job:create"))
}

func TestScopeFromContext(t *testing.T) {
	identity := &auth.Identity{
		Permissions: []string{"user:list:team", "job"},
	}
	ctx := auth.WithIdentity(context.Background(), identity)

	scope, ok := auth.ScopeFromContext(ctx, "user:list")
	require.True(t, ok)
	assert.Equal(t, auth.ScopeTeam, scope)

	// resource root grants carry no scope hint
	_, ok = auth.ScopeFromContext(ctx, "job:list")
	assert.False(t, ok)

	_, ok = auth.ScopeFromContext(context.Background(), "user:list")
	assert.False(t, ok)
}
