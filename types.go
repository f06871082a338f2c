package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionIssuer holds methods to deal with session issuance and teardown.
type SessionIssuer interface {
	Register(ctx context.Context, input RegisterInput) (*RegisterResult, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	Refresh(ctx context.Context, presentedToken string) (*TokenPair, error)
	Logout(ctx context.Context, userID, orgID, refreshToken string) error
	Impersonate(ctx context.Context, actorUserID, orgID, targetUserID string) (*TokenPair, error)
	IdentityFromToken(token string) (*Identity, error)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetRefreshSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetEnvironment() string
}

// EnvDevelopment is the runtime environment value that enables the
// permission-check bypass in the authorization gate. Anything else is strict.
const EnvDevelopment = "development"

// ConfigObject is a plain-struct Config implementation.
type ConfigObject struct {
	SigningKey        string
	RefreshSigningKey string
	SigningMethod     string
	ContextKey        string
	TokenLookup       string
	AuthScheme        string
	Issuer            string
	Audience          []string
	Environment       string
}

func (c ConfigObject) GetSigningKey() string { return c.SigningKey }

// GetRefreshSigningKey falls back to the shared signing key when no dedicated
// refresh secret is configured.
func (c ConfigObject) GetRefreshSigningKey() string {
	if c.RefreshSigningKey != "" {
		return c.RefreshSigningKey
	}
	return c.SigningKey
}

func (c ConfigObject) GetSigningMethod() string {
	if c.SigningMethod == "" {
		return "HS256"
	}
	return c.SigningMethod
}

func (c ConfigObject) GetContextKey() string {
	if c.ContextKey == "" {
		return "user"
	}
	return c.ContextKey
}

func (c ConfigObject) GetTokenLookup() string {
	if c.TokenLookup == "" {
		return "header:Authorization"
	}
	return c.TokenLookup
}

func (c ConfigObject) GetAuthScheme() string {
	if c.AuthScheme == "" {
		return "Bearer"
	}
	return c.AuthScheme
}

func (c ConfigObject) GetIssuer() string     { return c.Issuer }
func (c ConfigObject) GetAudience() []string { return c.Audience }

func (c ConfigObject) GetEnvironment() string {
	if c.Environment == "" {
		return "production"
	}
	return c.Environment
}

var _ Config = ConfigObject{}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
