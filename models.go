package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model. Auth-owned fields (password hash, refresh/reset/
// invite tokens and their expiries, active flag) live directly on the record.
type User struct {
	bun.BaseModel         `bun:"table:users,alias:usr"`
	ID                    uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID        uuid.UUID     `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Organization          *Organization `bun:"rel:belongs-to,join:organization_id=id" json:"organization,omitempty"`
	RoleID                *uuid.UUID    `bun:"role_id,nullzero,type:uuid" json:"role_id,omitempty"`
	Role                  *Role         `bun:"rel:belongs-to,join:role_id=id" json:"role,omitempty"`
	FirstName             string        `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName              string        `bun:"last_name" json:"last_name,omitempty"`
	Email                 string        `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash          string        `bun:"password_hash" json:"-"`
	IsActive              bool          `bun:"is_active,notnull,default:true" json:"is_active"`
	RefreshToken          string        `bun:"refresh_token" json:"-"`
	RefreshTokenExpiresAt *time.Time    `bun:"refresh_token_expires_at,nullzero" json:"-"`
	ResetToken            string        `bun:"reset_token" json:"-"`
	ResetTokenExpiresAt   *time.Time    `bun:"reset_token_expires_at,nullzero" json:"-"`
	InviteToken           string        `bun:"invite_token" json:"-"`
	InviteTokenExpiresAt  *time.Time    `bun:"invite_token_expires_at,nullzero" json:"-"`
	LoginAttempts         int           `bun:"login_attempts" json:"-"`
	LoginAttemptAt        *time.Time    `bun:"login_attempt_at,nullzero" json:"-"`
	LoggedInAt            *time.Time    `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt             *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt             *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt             *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasLiveRefreshSession reports whether the user holds an unexpired refresh
// token at the given instant. An expiry equal to now counts as expired.
func (u *User) HasLiveRefreshSession(now time.Time) bool {
	if u.RefreshToken == "" || u.RefreshTokenExpiresAt == nil {
		return false
	}
	return now.Before(*u.RefreshTokenExpiresAt)
}

// Organization is the tenant model.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Role groups a named permission set inside one organization.
type Role struct {
	bun.BaseModel  `bun:"table:roles,alias:rol"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	Permissions    []string   `bun:"permissions,type:jsonb" json:"permissions,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// AdminRoleName is the role created for the registering user.
const AdminRoleName = "Admin"

// FullPermissionSet returns the resource-level grants held by the default
// Admin role. Resource roots cover every action and scope beneath them.
func FullPermissionSet() []string {
	return []string{
		"organization",
		"user",
		"role",
		"job",
		"candidate",
		"application",
		"comment",
		"attachment",
		"timeline",
		"audit",
		"integration",
	}
}

// DefaultOrganizationName builds the fallback organization name used at
// registration when none is given.
func DefaultOrganizationName(firstName string) string {
	return firstName + "'s Organization"
}

// NormalizeEmail lowercases and trims an email for case-insensitive lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
