package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims is the read side of a verified access token.
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	OrganizationID() string
	RoleID() string
	PermissionSet() []string
	ImpersonatorID() string
	HasPermission(required string) bool
	ListScope(required string) (Scope, bool)
	Expires() time.Time
	IssuedAt() time.Time
}

// AccessClaims is the signed payload of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UID          string   `json:"uid,omitempty"`
	UserEmail    string   `json:"email,omitempty"`
	OrgID        string   `json:"org,omitempty"`
	UserRoleID   string   `json:"rid,omitempty"`
	Permissions  []string `json:"perms,omitempty"`
	FirstName    string   `json:"given_name,omitempty"`
	LastName     string   `json:"family_name,omitempty"`
	Impersonator string   `json:"act,omitempty"` // actor behind an impersonated session
}

var _ AuthClaims = (*AccessClaims)(nil)

// Subject returns the subject claim
func (c *AccessClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID, falling back to the subject claim.
func (c *AccessClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Email returns the user's email.
func (c *AccessClaims) Email() string {
	return c.UserEmail
}

// OrganizationID returns the tenant the session belongs to.
func (c *AccessClaims) OrganizationID() string {
	return c.OrgID
}

// RoleID returns the user's role id, when one was resolved at issuance.
func (c *AccessClaims) RoleID() string {
	return c.UserRoleID
}

// PermissionSet returns the permission strings captured at issuance.
func (c *AccessClaims) PermissionSet() []string {
	return c.Permissions
}

// ImpersonatorID returns the acting user's id for impersonated sessions,
// empty otherwise.
func (c *AccessClaims) ImpersonatorID() string {
	return c.Impersonator
}

// IsImpersonated reports whether this session was issued on behalf of the
// subject by another user.
func (c *AccessClaims) IsImpersonated() bool {
	return c.Impersonator != ""
}

// HasPermission checks the permission set against a required permission.
func (c *AccessClaims) HasPermission(required string) bool {
	return Satisfies(c.Permissions, required)
}

// ListScope extracts the list-query scope for a required permission.
func (c *AccessClaims) ListScope(required string) (Scope, bool) {
	return ScopeFor(c.Permissions, required)
}

// Expires returns the expiration time
func (c *AccessClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *AccessClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// RefreshClaims is the signed payload of a refresh token. It carries just
// enough identity to re-derive the (user, organization) pair on refresh; the
// authoritative check is the exact match against the stored token value.
type RefreshClaims struct {
	jwt.RegisteredClaims
	UID   string `json:"uid,omitempty"`
	OrgID string `json:"org,omitempty"`
}

// UserID returns the user ID, falling back to the subject claim.
func (c *RefreshClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// OrganizationID returns the tenant the refresh session belongs to.
func (c *RefreshClaims) OrganizationID() string {
	return c.OrgID
}
