package auth

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// FiberIdentityKey is where the fiber middleware stores the request identity.
const FiberIdentityKey = "identity"

// FiberGate adapts the session issuer for applications that mount routes on
// fiber directly instead of going through the router abstraction.
type FiberGate struct {
	issuer    *Auther
	cfg       Config
	devBypass bool
}

// NewFiberGate creates the fiber middleware factory.
func NewFiberGate(issuer *Auther, cfg Config) *FiberGate {
	return &FiberGate{issuer: issuer, cfg: cfg}
}

// WithDevBypass disables RequirePermissions checks. RequireAuth still
// validates credentials, so unauthenticated requests are rejected as usual.
// Only honored when the environment is development; the bypass logs loudly
// on every check it skips.
func (g *FiberGate) WithDevBypass() *FiberGate {
	if g.cfg == nil || g.cfg.GetEnvironment() != EnvDevelopment {
		log.Printf("[WARNING] auth bypass requested outside development, ignoring")
		return g
	}
	log.Printf("[WARNING] AUTH GATE PERMISSION BYPASS ENABLED: permission checks are disabled for every request. Never run this outside local development.")
	g.devBypass = true
	return g
}

// RequireAuth validates the bearer token and stores the identity in locals
// and in the request's user context.
func (g *FiberGate) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, ErrAuthenticationRequired.Message)
		}

		token, err := ExtractTokenFromHeader(authHeader)
		if err != nil {
			return unauthorized(c, err.Error())
		}

		identity, err := g.issuer.IdentityFromToken(token)
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		g.store(c, identity)

		return c.Next()
	}
}

// RequirePermissions enforces that the authenticated identity satisfies every
// required permission. Mount after RequireAuth.
func (g *FiberGate) RequirePermissions(required ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := c.Locals(FiberIdentityKey).(*Identity)
		if !ok || identity == nil {
			return unauthorized(c, ErrAuthenticationRequired.Message)
		}

		if g.devBypass {
			log.Printf("[WARNING] permission check bypassed for %s %s", c.Method(), c.Path())
			return c.Next()
		}

		if !identity.HasAllPermissions(required...) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": ErrForbidden.Message,
			})
		}

		return c.Next()
	}
}

func (g *FiberGate) store(c *fiber.Ctx, identity *Identity) {
	c.Locals(FiberIdentityKey, identity)
	c.SetUserContext(WithIdentity(c.UserContext(), identity))
}

// IdentityFromFiber extracts the authenticated identity stored by RequireAuth.
func IdentityFromFiber(c *fiber.Ctx) (*Identity, bool) {
	identity, ok := c.Locals(FiberIdentityKey).(*Identity)
	return identity, ok && identity != nil
}

// ExtractTokenFromHeader pulls the raw token out of an Authorization header
// value using the Bearer scheme.
func ExtractTokenFromHeader(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return "", ErrAuthenticationRequired
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrAuthenticationRequired
	}

	return token, nil
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
	})
}
