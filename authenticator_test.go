package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/talentkit/go-auth"
)

func newTestAuther(repo *MockRepoManager, sink auth.ActivitySink) *auth.Auther {
	return auth.NewAuthenticator(repo, testConfig()).WithActivitySink(sink)
}

func activeUser(t *testing.T, password string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	roleID := uuid.New()
	return &auth.User{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		RoleID:         &roleID,
		FirstName:      "Pepe",
		LastName:       "Rone",
		Email:          "pepe.rone@example.com",
		PasswordHash:   hash,
		IsActive:       true,
	}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepoManager()
	sink := &capturingSink{}

	user := activeUser(t, "password1234")
	perms := []string{"job", "candidate:read", "user:list:own"}

	repo.users.On("GetByEmail", mock.Anything, "pepe.rone@example.com").Return(user, nil)
	repo.users.On("TrackSucccessfulLogin", mock.Anything, user).Return(nil)
	repo.users.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything, mock.Anything).Return(nil)
	repo.roles.On("PermissionsFor", mock.Anything, *user.RoleID).Return(perms, nil)

	auther := newTestAuther(repo, sink)

	result, err := auther.Login(ctx, "Pepe.Rone@Example.com", "password1234")
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)

	claims, err := auther.TokenService().ValidateAccess(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, user.OrganizationID.String(), claims.OrganizationID())
	assert.Equal(t, perms, claims.PermissionSet())
	assert.False(t, claims.IsImpersonated())

	refreshClaims, err := auther.TokenService().ValidateRefresh(result.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), refreshClaims.UserID())

	assert.Len(t, sink.byType(auth.ActivityEventLoginSuccess), 1)
	repo.users.AssertExpectations(t)
}

func TestLoginUnknownEmail(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}

	repo.users.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.NewRecordNotFound())

	auther := newTestAuther(repo, sink)

	_, err := auther.Login(context.Background(), "nobody@example.com", "whatever-pass")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Len(t, sink.byType(auth.ActivityEventLoginFailure), 1)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}

	user := activeUser(t, "the-right-password")
	repo.users.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.users.On("TrackAttemptedLogin", mock.Anything, user).Return(nil)

	auther := newTestAuther(repo, sink)

	_, err := auther.Login(context.Background(), user.Email, "the-wrong-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// unknown email and wrong password are indistinguishable to the caller
	repoUnknown := newMockRepoManager()
	repoUnknown.users.On("GetByEmail", mock.Anything, "nobody@example.com").
		Return(nil, repository.NewRecordNotFound())
	_, errUnknown := newTestAuther(repoUnknown, sink).Login(context.Background(), "nobody@example.com", "x")
	assert.Equal(t, err, errUnknown)

	repo.users.AssertCalled(t, "TrackAttemptedLogin", mock.Anything, user)
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}

	user := activeUser(t, "password1234")
	user.IsActive = false
	repo.users.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)

	auther := newTestAuther(repo, sink)

	_, err := auther.Login(context.Background(), user.Email, "password1234")
	assert.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestLoginTooManyAttempts(t *testing.T) {
	repo := newMockRepoManager()

	user := activeUser(t, "password1234")
	user.LoginAttempts = auth.MaxLoginAttempts + 1
	now := time.Now()
	user.LoginAttemptAt = &now

	repo.users.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)

	auther := newTestAuther(repo, &capturingSink{})

	_, err := auther.Login(context.Background(), user.Email, "password1234")
	assert.ErrorIs(t, err, auth.ErrTooManyLoginAttempts)
}

func TestLoginAttemptsResetAfterCooldown(t *testing.T) {
	repo := newMockRepoManager()

	user := activeUser(t, "password1234")
	user.LoginAttempts = auth.MaxLoginAttempts + 1
	staleAttempt := time.Now().Add(-48 * time.Hour)
	user.LoginAttemptAt = &staleAttempt

	perms := []string{"job"}
	repo.users.On("GetByEmail", mock.Anything, user.Email).Return(user, nil)
	repo.users.On("TrackSucccessfulLogin", mock.Anything, user).Return(nil)
	repo.users.On("StoreRefreshToken", mock.Anything, user.ID, mock.Anything, mock.Anything).Return(nil)
	repo.roles.On("PermissionsFor", mock.Anything, *user.RoleID).Return(perms, nil)

	auther := newTestAuther(repo, &capturingSink{})

	result, err := auther.Login(context.Background(), user.Email, "password1234")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	user := activeUser(t, "password1234")

	presented, expiresAt, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)

	user.RefreshToken = presented
	user.RefreshTokenExpiresAt = &expiresAt

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)
	repo.roles.On("PermissionsFor", mock.Anything, *user.RoleID).Return([]string{"job"}, nil)
	repo.users.On("RotateRefreshToken", mock.Anything, user.ID, presented, mock.Anything, mock.Anything).
		Return(true, nil)

	pair, err := auther.Refresh(context.Background(), presented)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, presented, pair.RefreshToken)

	assert.Len(t, sink.byType(auth.ActivityEventTokenRefreshed), 1)
	repo.users.AssertExpectations(t)
}

func TestRefreshRejectsRotatedOutToken(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	user := activeUser(t, "password1234")

	stale, _, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)

	// store holds a different, newer token: the presented one was consumed
	current, expiresAt, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)
	user.RefreshToken = current
	user.RefreshTokenExpiresAt = &expiresAt

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)

	_, err = auther.Refresh(context.Background(), stale)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)
}

func TestRefreshStoredExpiry(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	user := activeUser(t, "password1234")

	presented, _, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	user.RefreshToken = presented
	user.RefreshTokenExpiresAt = &past

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)

	_, err = auther.Refresh(context.Background(), presented)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenExpired)
}

func TestRefreshLosingRaceIsRejected(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	user := activeUser(t, "password1234")

	presented, expiresAt, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)
	user.RefreshToken = presented
	user.RefreshTokenExpiresAt = &expiresAt

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)
	repo.roles.On("PermissionsFor", mock.Anything, *user.RoleID).Return([]string{"job"}, nil)
	// the compare-and-swap lost: another request rotated first
	repo.users.On("RotateRefreshToken", mock.Anything, user.ID, presented, mock.Anything, mock.Anything).
		Return(false, nil)

	_, err = auther.Refresh(context.Background(), presented)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)
}

func TestRefreshInactiveAccount(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	user := activeUser(t, "password1234")
	user.IsActive = false

	presented, expiresAt, err := auther.TokenService().SignRefresh(
		user.ID.String(), user.OrganizationID.String())
	require.NoError(t, err)
	user.RefreshToken = presented
	user.RefreshTokenExpiresAt = &expiresAt

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)

	_, err = auther.Refresh(context.Background(), presented)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestRefreshUnknownUser(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	userID := uuid.New()
	orgID := uuid.New()

	presented, _, err := auther.TokenService().SignRefresh(userID.String(), orgID.String())
	require.NoError(t, err)

	repo.users.On("GetByIDInOrg", mock.Anything, orgID, userID).
		Return(nil, repository.NewRecordNotFound())

	_, err = auther.Refresh(context.Background(), presented)
	assert.ErrorIs(t, err, auth.ErrAccountInactive)
}

func TestRefreshGarbageToken(t *testing.T) {
	auther := newTestAuther(newMockRepoManager(), &capturingSink{})

	_, err := auther.Refresh(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, auth.ErrRefreshTokenInvalid)
}

func TestRefreshExpiredSignature(t *testing.T) {
	repo := newMockRepoManager()
	auther := auth.NewAuthenticator(repo, testConfig(),
		auth.WithRefreshTokenTTL(time.Nanosecond)).
		WithActivitySink(&capturingSink{})

	presented, _, err := auther.TokenService().SignRefresh(uuid.NewString(), uuid.NewString())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = auther.Refresh(context.Background(), presented)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenExpired)
}

func TestLogout(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	user := activeUser(t, "password1234")

	repo.users.On("ClearRefreshToken", mock.Anything, user.ID, "stored-token").Return(nil)

	err := auther.Logout(context.Background(), user.ID.String(), user.OrganizationID.String(), "stored-token")
	assert.NoError(t, err)
	assert.Len(t, sink.byType(auth.ActivityEventLogout), 1)
	repo.users.AssertExpectations(t)
}

func TestLogoutIsIdempotent(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	user := activeUser(t, "password1234")
	repo.users.On("ClearRefreshToken", mock.Anything, user.ID, "").Return(nil)

	// twice in a row, still no error
	assert.NoError(t, auther.Logout(context.Background(), user.ID.String(), "", ""))
	assert.NoError(t, auther.Logout(context.Background(), user.ID.String(), "", ""))

	// empty user id is a no-op
	assert.NoError(t, auther.Logout(context.Background(), "", "", ""))
}

func TestImpersonateSelf(t *testing.T) {
	auther := newTestAuther(newMockRepoManager(), &capturingSink{})

	id := uuid.NewString()
	_, err := auther.Impersonate(context.Background(), id, uuid.NewString(), id)
	assert.ErrorIs(t, err, auth.ErrSelfImpersonation)
}

func TestImpersonateUnknownTarget(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	orgID := uuid.New()
	targetID := uuid.New()

	repo.users.On("GetByIDInOrg", mock.Anything, orgID, targetID).
		Return(nil, repository.NewRecordNotFound())

	_, err := auther.Impersonate(context.Background(), uuid.NewString(), orgID.String(), targetID.String())
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
	assert.Len(t, sink.byType(auth.ActivityEventImpersonationFailure), 1)
}

func TestImpersonateInactiveTarget(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	target := activeUser(t, "password1234")
	target.IsActive = false

	repo.users.On("GetByIDInOrg", mock.Anything, target.OrganizationID, target.ID).Return(target, nil)

	_, err := auther.Impersonate(context.Background(),
		uuid.NewString(), target.OrganizationID.String(), target.ID.String())
	assert.ErrorIs(t, err, auth.ErrTargetInactive)
}

func TestImpersonateSuccess(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	actorID := uuid.NewString()
	target := activeUser(t, "password1234")

	repo.users.On("GetByIDInOrg", mock.Anything, target.OrganizationID, target.ID).Return(target, nil)
	repo.roles.On("PermissionsFor", mock.Anything, *target.RoleID).Return([]string{"job"}, nil)
	// the target's existing refresh session gets overwritten
	repo.users.On("StoreRefreshToken", mock.Anything, target.ID, mock.Anything, mock.Anything).Return(nil)

	pair, err := auther.Impersonate(context.Background(),
		actorID, target.OrganizationID.String(), target.ID.String())
	require.NoError(t, err)

	claims, err := auther.TokenService().ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, target.ID.String(), claims.UserID())
	assert.True(t, claims.IsImpersonated())
	assert.Equal(t, actorID, claims.ImpersonatorID())

	assert.Len(t, sink.byType(auth.ActivityEventImpersonationSuccess), 1)
	repo.users.AssertExpectations(t)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newMockRepoManager()
	auther := newTestAuther(repo, &capturingSink{})

	existing := activeUser(t, "password1234")
	repo.users.On("GetByEmail", mock.Anything, existing.Email).Return(existing, nil)

	_, err := auther.Register(context.Background(), auth.RegisterInput{
		Email:     "Pepe.Rone@Example.com",
		Password:  "password1234",
		FirstName: "Pepe",
	})
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)
}

func TestRegisterBootstrapsTenant(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	repo.users.On("GetByEmail", mock.Anything, "pepe.rone@example.com").
		Return(nil, repository.NewRecordNotFound())

	var createdRole *auth.Role
	repo.orgs.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&auth.Organization{ID: uuid.New(), Name: "Pepe's Organization"}, nil)
	repo.roles.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			createdRole = args.Get(2).(*auth.Role)
		}).
		Return(&auth.Role{ID: uuid.New(), Name: auth.AdminRoleName}, nil)
	repo.users.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).
		Return(&auth.User{ID: uuid.New(), OrganizationID: uuid.New(), Email: "pepe.rone@example.com"}, nil)

	result, err := auther.Register(context.Background(), auth.RegisterInput{
		Email:     "Pepe.Rone@Example.com",
		Password:  "password1234",
		FirstName: "Pepe",
		LastName:  "Rone",
	})
	require.NoError(t, err)
	require.NotNil(t, result.User)
	require.NotNil(t, result.Organization)

	require.NotNil(t, createdRole)
	assert.Equal(t, auth.AdminRoleName, createdRole.Name)
	assert.Equal(t, auth.FullPermissionSet(), createdRole.Permissions)

	assert.Len(t, sink.byType(auth.ActivityEventUserRegistered), 1)
	repo.users.AssertExpectations(t)
	repo.roles.AssertExpectations(t)
	repo.orgs.AssertExpectations(t)
}

func TestBlockClearsRefreshSession(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	user := activeUser(t, "password1234")
	blocked := *user
	blocked.IsActive = false

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)
	repo.users.On("SetActive", mock.Anything, user.ID, false).Return(&blocked, nil)
	repo.users.On("ClearRefreshToken", mock.Anything, user.ID, "").Return(nil)

	actor := auth.ActorRef{ID: uuid.NewString(), Type: "user"}
	result, err := auther.Block(context.Background(), actor, user.OrganizationID.String(), user.ID.String())
	require.NoError(t, err)
	assert.False(t, result.IsActive)

	assert.Len(t, sink.byType(auth.ActivityEventUserBlocked), 1)
	repo.users.AssertExpectations(t)
}

func TestUnblock(t *testing.T) {
	repo := newMockRepoManager()
	sink := &capturingSink{}
	auther := newTestAuther(repo, sink)

	user := activeUser(t, "password1234")
	user.IsActive = false
	unblocked := *user
	unblocked.IsActive = true

	repo.users.On("GetByIDInOrg", mock.Anything, user.OrganizationID, user.ID).Return(user, nil)
	repo.users.On("SetActive", mock.Anything, user.ID, true).Return(&unblocked, nil)

	actor := auth.ActorRef{ID: uuid.NewString(), Type: "user"}
	result, err := auther.Unblock(context.Background(), actor, user.OrganizationID.String(), user.ID.String())
	require.NoError(t, err)
	assert.True(t, result.IsActive)

	assert.Len(t, sink.byType(auth.ActivityEventUserUnblocked), 1)
}
