package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/talentkit/go-auth"
	"github.com/uptrace/bun"
)

// capturingSink records activity events for assertions.
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) byType(t auth.ActivityEventType) []auth.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []auth.ActivityEvent
	for _, evt := range c.events {
		if evt.EventType == t {
			out = append(out, evt)
		}
	}
	return out
}

// MockUsers implements auth.Users. The embedded interface covers the generic
// repository surface; only the methods the session issuer touches are wired.
type MockUsers struct {
	auth.Users
	mock.Mock
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) GetByIDInOrg(ctx context.Context, orgID, id uuid.UUID) (*auth.User, error) {
	args := m.Called(ctx, orgID, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) GetByResetToken(ctx context.Context, token string) (*auth.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) GetByInviteToken(ctx context.Context, token string) (*auth.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockUsers) RotateRefreshToken(ctx context.Context, id uuid.UUID, presented, next string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, id, presented, next, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockUsers) ClearRefreshToken(ctx context.Context, id uuid.UUID, match string) error {
	args := m.Called(ctx, id, match)
	return args.Error(0)
}

func (m *MockUsers) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockUsers) SetInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockUsers) ClearInviteToken(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUsers) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUsers) SetActive(ctx context.Context, id uuid.UUID, active bool) (*auth.User, error) {
	args := m.Called(ctx, id, active)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) TrackAttemptedLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) TrackSucccessfulLogin(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUsers) Create(ctx context.Context, record *auth.User, criteria ...repository.InsertCriteria) (*auth.User, error) {
	args := m.Called(ctx, record)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *auth.User, criteria ...repository.InsertCriteria) (*auth.User, error) {
	args := m.Called(ctx, tx, record)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

// MockRoles implements auth.Roles.
type MockRoles struct {
	repository.Repository[*auth.Role]
	mock.Mock
}

func (m *MockRoles) PermissionsFor(ctx context.Context, id uuid.UUID) ([]string, error) {
	args := m.Called(ctx, id)
	perms, _ := args.Get(0).([]string)
	return perms, args.Error(1)
}

func (m *MockRoles) CreateTx(ctx context.Context, tx bun.IDB, record *auth.Role, criteria ...repository.InsertCriteria) (*auth.Role, error) {
	args := m.Called(ctx, tx, record)
	role, _ := args.Get(0).(*auth.Role)
	return role, args.Error(1)
}

// MockOrganizations implements the organizations repository.
type MockOrganizations struct {
	repository.Repository[*auth.Organization]
	mock.Mock
}

func (m *MockOrganizations) CreateTx(ctx context.Context, tx bun.IDB, record *auth.Organization, criteria ...repository.InsertCriteria) (*auth.Organization, error) {
	args := m.Called(ctx, tx, record)
	org, _ := args.Get(0).(*auth.Organization)
	return org, args.Error(1)
}

// MockRepoManager implements auth.RepositoryManager over the mocks above.
// RunInTx invokes the callback directly with a zero transaction; the mocked
// repositories ignore it.
type MockRepoManager struct {
	users *MockUsers
	roles *MockRoles
	orgs  *MockOrganizations
}

func newMockRepoManager() *MockRepoManager {
	return &MockRepoManager{
		users: new(MockUsers),
		roles: new(MockRoles),
		orgs:  new(MockOrganizations),
	}
}

func (m *MockRepoManager) Validate() error { return nil }
func (m *MockRepoManager) MustValidate()   {}

func (m *MockRepoManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *MockRepoManager) Users() auth.Users { return m.users }

func (m *MockRepoManager) Organizations() repository.Repository[*auth.Organization] {
	return m.orgs
}

func (m *MockRepoManager) Roles() auth.Roles { return m.roles }

func testConfig() auth.ConfigObject {
	return auth.ConfigObject{
		SigningKey:        "access-secret",
		RefreshSigningKey: "refresh-secret",
		Issuer:            "talentkit",
		Audience:          []string{"talentkit-api"},
	}
}
