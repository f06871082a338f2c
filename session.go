package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal for the duration of one request.
// It is constructed from a verified access token, never persisted, and
// discarded when the request ends.
type Identity struct {
	UserID         string     `json:"user_id,omitempty"`
	Email          string     `json:"email,omitempty"`
	OrganizationID string     `json:"organization_id,omitempty"`
	RoleID         string     `json:"role_id,omitempty"`
	Permissions    []string   `json:"permissions,omitempty"`
	ImpersonatorID string     `json:"impersonator_id,omitempty"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// GetUserUUID parses the user id.
func (s *Identity) GetUserUUID() (uuid.UUID, error) {
	return uuid.Parse(s.UserID)
}

// GetOrganizationUUID parses the organization id.
func (s *Identity) GetOrganizationUUID() (uuid.UUID, error) {
	return uuid.Parse(s.OrganizationID)
}

// IsImpersonated reports whether the session was issued on behalf of the
// subject by another user.
func (s *Identity) IsImpersonated() bool {
	return s.ImpersonatorID != ""
}

// HasPermission checks the identity's permission set against a required
// permission string.
func (s *Identity) HasPermission(required string) bool {
	return Satisfies(s.Permissions, required)
}

// HasAllPermissions checks every required permission (logical AND).
func (s *Identity) HasAllPermissions(required ...string) bool {
	return SatisfiesAll(s.Permissions, required)
}

// ListScope extracts the list-query scope hint for a required permission.
func (s *Identity) ListScope(required string) (Scope, bool) {
	return ScopeFor(s.Permissions, required)
}

func (s Identity) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s org=%s role=%s impersonator=%s iat=%s",
		s.UserID,
		s.OrganizationID,
		s.RoleID,
		s.ImpersonatorID,
		issuedAt,
	)
}

// IdentityFromClaims creates an Identity from verified access claims.
func IdentityFromClaims(claims *AccessClaims) (*Identity, error) {
	if claims == nil {
		return nil, ErrUnableToParseData
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	return &Identity{
		UserID:         claims.UserID(),
		Email:          claims.Email(),
		OrganizationID: claims.OrganizationID(),
		RoleID:         claims.RoleID(),
		Permissions:    claims.PermissionSet(),
		ImpersonatorID: claims.ImpersonatorID(),
		IssuedAt:       &issuedAt,
		ExpiresAt:      &expiresAt,
	}, nil
}
