package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximun number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// TokenPair is the result of any operation that issues a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterInput carries everything needed to bootstrap a new tenant.
type RegisterInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	OrganizationName string
}

// RegisterResult summarizes the created records. Registration does not issue
// tokens; callers log in separately.
type RegisterResult struct {
	User         *User         `json:"user"`
	Organization *Organization `json:"organization"`
}

// LoginResult is the token pair plus the authenticated user summary.
type LoginResult struct {
	TokenPair
	User         *User         `json:"user"`
	Organization *Organization `json:"organization,omitempty"`
}

// Auther orchestrates session issuance: login, registration, refresh
// rotation, logout, and impersonation.
type Auther struct {
	repo         RepositoryManager
	tokens       TokenService
	logger       Logger
	activitySink ActivitySink
}

// NewAuthenticator returns a new Auther wired to the given repositories.
func NewAuthenticator(repo RepositoryManager, cfg Config, opts ...TokenServiceOption) *Auther {
	tokenOpts := append([]TokenServiceOption{
		WithRefreshSigningKey([]byte(cfg.GetRefreshSigningKey())),
	}, opts...)

	tokens := NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		tokenOpts...,
	)

	return &Auther{
		repo:         repo,
		tokens:       tokens,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService replaces the token service, mostly for tests.
func (s *Auther) WithTokenService(tokens TokenService) *Auther {
	if tokens != nil {
		s.tokens = tokens
	}
	return s
}

// TokenService returns the TokenService instance used by this Auther.
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Register bootstraps a tenant: organization, Admin role holding the full
// permission set, and the owning user. It fails with ErrDuplicateUser when
// the email is taken (case-insensitive) and never issues tokens.
func (s *Auther) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	email := NormalizeEmail(input.Email)

	if _, err := s.repo.Users().GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateUser
	} else if !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing user")
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		var richErr *goerrors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	orgName := input.OrganizationName
	if orgName == "" {
		orgName = DefaultOrganizationName(input.FirstName)
	}

	result := &RegisterResult{}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		org := &Organization{
			ID:   uuid.New(),
			Name: orgName,
		}
		if result.Organization, err = s.repo.Organizations().CreateTx(ctx, tx, org); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create organization")
		}

		role := &Role{
			ID:             uuid.New(),
			OrganizationID: org.ID,
			Name:           AdminRoleName,
			Permissions:    FullPermissionSet(),
		}
		if role, err = s.repo.Roles().CreateTx(ctx, tx, role); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create admin role")
		}

		user := &User{
			OrganizationID: org.ID,
			RoleID:         &role.ID,
			Email:          email,
			FirstName:      input.FirstName,
			LastName:       input.LastName,
			PasswordHash:   hash,
			IsActive:       true,
		}
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}

		if result.User, err = s.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "registration transaction failed")
	}

	s.emitAuthEvent(ctx, ActivityEventUserRegistered, ActorRef{ID: result.User.ID.String(), Type: "user"}, result.User, nil)

	return result, nil
}

// Login verifies credentials and issues a fresh token pair. Unknown email and
// wrong password share ErrInvalidCredentials; an inactive account gets its
// own error once the password verified.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = NormalizeEmail(email)

	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, nil, map[string]any{
				"email": email,
				"error": ErrInvalidCredentials.Message,
			})
			return nil, ErrInvalidCredentials
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during login")
	}

	if user.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*user.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
		}
		if expired {
			user.LoginAttempts = 0
		}
	}

	if user.LoginAttempts > MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if err2 := s.repo.Users().TrackAttemptedLogin(ctx, user); err2 != nil {
			return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
		}

		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromUser(user), user, map[string]any{
			"email": email,
			"error": ErrInvalidCredentials.Message,
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromUser(user), user, map[string]any{
			"email": email,
			"error": ErrAccountInactive.Message,
		})
		return nil, ErrAccountInactive
	}

	if err := s.repo.Users().TrackSucccessfulLogin(ctx, user); err != nil {
		s.logger.Error("failed to track successful login", "error", err)
	}

	pair, err := s.issueTokenPair(ctx, user, "")
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromUser(user), user, map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromUser(user), user, map[string]any{
		"email": email,
	})

	return &LoginResult{
		TokenPair:    *pair,
		User:         user,
		Organization: user.Organization,
	}, nil
}

// Refresh exchanges a refresh token for a new token pair, rotating the
// stored token. The (user, organization) pair is re-derived from the
// presented token verified against the refresh secret; the old refresh token
// becomes permanently invalid even if unexpired.
func (s *Auther) Refresh(ctx context.Context, presentedToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefresh(presentedToken)
	if err != nil {
		if IsTokenExpiredError(err) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrRefreshTokenInvalid
	}

	userID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	orgID, err := uuid.Parse(claims.OrganizationID())
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}

	user, err := s.repo.Users().GetByIDInOrg(ctx, orgID, userID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountInactive
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during refresh")
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	if user.RefreshToken == "" || user.RefreshToken != presentedToken {
		return nil, ErrRefreshTokenInvalid
	}

	if !user.HasLiveRefreshSession(time.Now()) {
		return nil, ErrRefreshTokenExpired
	}

	permissions, err := s.resolvePermissions(ctx, user)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.SignAccess(s.newAccessClaims(user, permissions, ""))
	if err != nil {
		return nil, err
	}

	refresh, refreshExpiry, err := s.tokens.SignRefresh(user.ID.String(), user.OrganizationID.String())
	if err != nil {
		return nil, err
	}

	// Compare-and-swap against the presented value. Losing a rotation race
	// means this token was already consumed, reject rather than double-issue.
	rotated, err := s.repo.Users().RotateRefreshToken(ctx, user.ID, presentedToken, refresh, refreshExpiry)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rotate refresh token")
	}
	if !rotated {
		return nil, ErrRefreshTokenInvalid
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefreshed, s.actorFromUser(user), user, nil)

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout clears the stored refresh session. It is best-effort and idempotent:
// logging out twice is not an error, and when a refresh token is supplied it
// only clears a matching stored value so a stale request cannot invalidate a
// newer session.
func (s *Auther) Logout(ctx context.Context, userID, orgID, refreshToken string) error {
	if userID == "" {
		return nil
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return nil
	}

	if err := s.repo.Users().ClearRefreshToken(ctx, id, refreshToken); err != nil {
		s.logger.Warn("logout failed to clear refresh token", "error", err, "user_id", userID)
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: userID, Type: "user"}, &User{ID: id}, map[string]any{
		"organization_id": orgID,
	})

	return nil
}

// Impersonate issues a token pair for the target user carrying the actor's id
// as a traceable claim. The target's existing refresh session is overwritten:
// impersonation deliberately ends any session the target held.
func (s *Auther) Impersonate(ctx context.Context, actorUserID, orgID, targetUserID string) (*TokenPair, error) {
	if actorUserID == targetUserID {
		return nil, ErrSelfImpersonation
	}

	targetID, err := uuid.Parse(targetUserID)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	organizationID, err := uuid.Parse(orgID)
	if err != nil {
		return nil, ErrIdentityNotFound
	}

	target, err := s.repo.Users().GetByIDInOrg(ctx, organizationID, targetID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{ID: actorUserID, Type: "user"}, nil, map[string]any{
				"target": targetUserID,
				"error":  ErrIdentityNotFound.Message,
			})
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve impersonation target")
	}

	if !target.IsActive {
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{ID: actorUserID, Type: "user"}, target, map[string]any{
			"target": targetUserID,
			"error":  ErrTargetInactive.Message,
		})
		return nil, ErrTargetInactive
	}

	pair, err := s.issueTokenPair(ctx, target, actorUserID)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{ID: actorUserID, Type: "user"}, target, map[string]any{
			"target": targetUserID,
			"error":  err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventImpersonationSuccess, ActorRef{ID: actorUserID, Type: "user"}, target, map[string]any{
		"target": targetUserID,
	})

	return pair, nil
}

// Block deactivates a user and tears down their refresh session.
func (s *Auther) Block(ctx context.Context, actor ActorRef, orgID, userID string) (*User, error) {
	return s.setUserActive(ctx, actor, orgID, userID, false)
}

// Unblock reactivates a previously blocked user.
func (s *Auther) Unblock(ctx context.Context, actor ActorRef, orgID, userID string) (*User, error) {
	return s.setUserActive(ctx, actor, orgID, userID, true)
}

func (s *Auther) setUserActive(ctx context.Context, actor ActorRef, orgID, userID string, active bool) (*User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrIdentityNotFound
	}
	organizationID, err := uuid.Parse(orgID)
	if err != nil {
		return nil, ErrIdentityNotFound
	}

	if _, err := s.repo.Users().GetByIDInOrg(ctx, organizationID, id); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	user, err := s.repo.Users().SetActive(ctx, id, active)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user active flag")
	}

	event := ActivityEventUserUnblocked
	if !active {
		event = ActivityEventUserBlocked
		if err := s.repo.Users().ClearRefreshToken(ctx, id, ""); err != nil {
			s.logger.Warn("block failed to clear refresh token", "error", err, "user_id", userID)
		}
	}

	s.emitAuthEvent(ctx, event, actor, user, nil)

	return user, nil
}

// IdentityFromToken verifies an access token and builds the request identity.
func (s *Auther) IdentityFromToken(token string) (*Identity, error) {
	claims, err := s.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	return IdentityFromClaims(claims)
}

func (s *Auther) issueTokenPair(ctx context.Context, user *User, impersonatorID string) (*TokenPair, error) {
	permissions, err := s.resolvePermissions(ctx, user)
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.SignAccess(s.newAccessClaims(user, permissions, impersonatorID))
	if err != nil {
		return nil, err
	}

	refresh, refreshExpiry, err := s.tokens.SignRefresh(user.ID.String(), user.OrganizationID.String())
	if err != nil {
		return nil, err
	}

	if err := s.repo.Users().StoreRefreshToken(ctx, user.ID, refresh, refreshExpiry); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Auther) newAccessClaims(user *User, permissions []string, impersonatorID string) *AccessClaims {
	claims := &AccessClaims{
		UID:          user.ID.String(),
		UserEmail:    user.Email,
		OrgID:        user.OrganizationID.String(),
		Permissions:  permissions,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Impersonator: impersonatorID,
	}
	claims.RegisteredClaims.Subject = user.ID.String()
	if user.RoleID != nil {
		claims.UserRoleID = user.RoleID.String()
	}
	return claims
}

func (s *Auther) resolvePermissions(ctx context.Context, user *User) ([]string, error) {
	if user.Role != nil {
		return user.Role.Permissions, nil
	}

	if user.RoleID == nil {
		return nil, nil
	}

	permissions, err := s.repo.Roles().PermissionsFor(ctx, *user.RoleID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve role permissions")
	}

	return permissions, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, user *User, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)

	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}

	if user != nil {
		event.UserID = user.ID.String()
		event.OrganizationID = user.OrganizationID.String()
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   user.ID.String(),
		Type: "user",
	}
}
