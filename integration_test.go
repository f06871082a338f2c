package auth_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talentkit/go-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupDatabase(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	migration, err := auth.GetMigrationsFS().ReadFile(
		"data/sql/migrations/20250101000000_create_auth_tables.up.sql")
	require.NoError(t, err)

	for _, stmt := range strings.Split(string(migration), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		_, err = bunDB.Exec(stmt)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	return bunDB
}

func TestSessionLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	db := setupDatabase(t)

	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	sink := &capturingSink{}
	auther := auth.NewAuthenticator(repo, testConfig()).WithActivitySink(sink)

	registered, err := auther.Register(ctx, auth.RegisterInput{
		Email:     "Owner@Example.com",
		Password:  "original-password",
		FirstName: "Olive",
		LastName:  "Owner",
	})
	require.NoError(t, err)
	require.NotNil(t, registered.User)
	require.NotNil(t, registered.Organization)
	assert.Equal(t, "owner@example.com", registered.User.Email)
	assert.Equal(t, "Olive's Organization", registered.Organization.Name)

	// registering the same email again, in any casing, is rejected
	_, err = auther.Register(ctx, auth.RegisterInput{
		Email:     "OWNER@example.com",
		Password:  "another-password",
		FirstName: "Other",
	})
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)

	// registration never hands out tokens; a login does
	login, err := auther.Login(ctx, "owner@example.com", "original-password")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)

	claims, err := auther.TokenService().ValidateAccess(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID.String(), claims.UserID())
	assert.Equal(t, registered.Organization.ID.String(), claims.OrganizationID())
	// the owner holds the full Admin permission set out of the box
	assert.ElementsMatch(t, auth.FullPermissionSet(), claims.PermissionSet())

	_, err = auther.Login(ctx, "owner@example.com", "not-the-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// refresh rotates: the new pair works, the presented token is dead
	pair, err := auther.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)

	_, err = auther.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)

	// logout tears down the stored session, the rotated token dies with it
	err = auther.Logout(ctx, registered.User.ID.String(), registered.Organization.ID.String(), pair.RefreshToken)
	require.NoError(t, err)

	_, err = auther.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)
}

func TestPasswordResetIntegration(t *testing.T) {
	ctx := context.Background()
	db := setupDatabase(t)

	repo := auth.NewRepositoryManager(db)
	auther := auth.NewAuthenticator(repo, testConfig())

	_, err := auther.Register(ctx, auth.RegisterInput{
		Email:     "reset.me@example.com",
		Password:  "before-reset-pass",
		FirstName: "Rhea",
	})
	require.NoError(t, err)

	login, err := auther.Login(ctx, "reset.me@example.com", "before-reset-pass")
	require.NoError(t, err)

	tokenCh := make(chan string, 1)
	initHandler := auth.NewInitializePasswordResetHandler(repo).
		WithNotifier(func(ctx context.Context, email, token string) {
			tokenCh <- token
		})

	err = initHandler.Execute(ctx, auth.InitializePasswordResetMessage{
		Email: "reset.me@example.com",
	})
	require.NoError(t, err)

	var resetToken string
	select {
	case resetToken = <-tokenCh:
	case <-time.After(time.Second):
		t.Fatal("reset token never delivered")
	}

	err = auth.NewFinalizePasswordResetHandler(repo).Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:    resetToken,
		Password: "after-reset-pass",
	})
	require.NoError(t, err)

	// a consumed token cannot be replayed
	err = auth.NewFinalizePasswordResetHandler(repo).Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:    resetToken,
		Password: "sneaky-second-use",
	})
	assert.ErrorIs(t, err, auth.ErrResetTokenInvalid)

	_, err = auther.Login(ctx, "reset.me@example.com", "before-reset-pass")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = auther.Login(ctx, "reset.me@example.com", "after-reset-pass")
	require.NoError(t, err)

	// the reset also ended the live refresh session
	_, err = auther.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)
}

func TestInviteFlowIntegration(t *testing.T) {
	ctx := context.Background()
	db := setupDatabase(t)

	repo := auth.NewRepositoryManager(db)
	auther := auth.NewAuthenticator(repo, testConfig())

	registered, err := auther.Register(ctx, auth.RegisterInput{
		Email:     "admin@example.com",
		Password:  "admin-password-1",
		FirstName: "Ada",
	})
	require.NoError(t, err)

	tokenCh := make(chan string, 1)
	inviteHandler := auth.NewInviteUserHandler(repo).
		WithNotifier(func(ctx context.Context, email, token string) {
			tokenCh <- token
		})

	err = inviteHandler.Execute(ctx, auth.InviteUserMessage{
		Email:          "member@example.com",
		FirstName:      "Manny",
		OrganizationID: registered.Organization.ID.String(),
		ActorID:        registered.User.ID.String(),
	})
	require.NoError(t, err)

	var inviteToken string
	select {
	case inviteToken = <-tokenCh:
	case <-time.After(time.Second):
		t.Fatal("invite token never delivered")
	}

	// invited members cannot log in before accepting
	_, err = auther.Login(ctx, "member@example.com", "member-password-1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	err = auth.NewAcceptInviteHandler(repo).Execute(ctx, auth.AcceptInviteMessage{
		Token:    inviteToken,
		Password: "member-password-1",
	})
	require.NoError(t, err)

	login, err := auther.Login(ctx, "member@example.com", "member-password-1")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)

	// no role was assigned at invite time, so the member holds no permissions
	claims, err := auther.TokenService().ValidateAccess(login.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, claims.PermissionSet())
}

func TestBlockUnblockIntegration(t *testing.T) {
	ctx := context.Background()
	db := setupDatabase(t)

	repo := auth.NewRepositoryManager(db)
	auther := auth.NewAuthenticator(repo, testConfig())

	registered, err := auther.Register(ctx, auth.RegisterInput{
		Email:     "blockee@example.com",
		Password:  "blockee-password",
		FirstName: "Blake",
	})
	require.NoError(t, err)

	login, err := auther.Login(ctx, "blockee@example.com", "blockee-password")
	require.NoError(t, err)

	actor := auth.ActorRef{ID: "system", Type: "system"}
	orgID := registered.Organization.ID.String()
	userID := registered.User.ID.String()

	blocked, err := auther.Block(ctx, actor, orgID, userID)
	require.NoError(t, err)
	assert.False(t, blocked.IsActive)

	_, err = auther.Login(ctx, "blockee@example.com", "blockee-password")
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	// blocking killed the refresh session too
	_, err = auther.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)

	unblocked, err := auther.Unblock(ctx, actor, orgID, userID)
	require.NoError(t, err)
	assert.True(t, unblocked.IsActive)

	_, err = auther.Login(ctx, "blockee@example.com", "blockee-password")
	require.NoError(t, err)
}
