package authgate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup         = "header:" + router.HeaderAuthorization
	ErrTokenMissingOrMalformed = errors.New("missing or malformed access token")
)

// TokenValidator verifies a raw access token and produces the request
// identity. Declared here to avoid an import cycle with the root package.
type TokenValidator interface {
	Validate(tokenString string) (Identity, error)
}

// Identity is the minimal authorization surface the gate needs.
type Identity interface {
	HasPermission(required string) bool
	HasAllPermissions(required ...string) bool
}

// ValidationListener is invoked after a token has been validated but before
// permission checks.
type ValidationListener func(ctx router.Context, identity Identity) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	ContextKey     string
	TokenLookup    string
	AuthScheme     string
	// TokenValidator is required for token validation
	TokenValidator TokenValidator

	// RequiredPermissions must all be satisfied by the identity's permission
	// set. Empty means any authenticated identity passes: routes deny by
	// default only in the sense that no identity means no access.
	RequiredPermissions []string
	// PermissionChecker overrides the default HasAllPermissions check.
	PermissionChecker func(Identity, []string) bool

	// ContextEnricher is an optional function to propagate the identity to the
	// standard Go context. If provided, it will be called after successful
	// token validation.
	ContextEnricher func(c context.Context, identity Identity) context.Context

	// ValidationListeners are invoked after token validation succeeds. Use
	// them to emit events or perform bookkeeping before the request proceeds.
	ValidationListeners []ValidationListener

	// DevBypass skips the required-permission check. Token extraction and
	// validation still run: a request without a valid credential is rejected
	// as usual, and the caller's own identity is what reaches the handler. It
	// must never be enabled outside local development; enabling it logs
	// loudly on construction and on every request it lets through.
	DevBypass bool
}

func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)

		if cfg.DevBypass {
			log.Printf("[WARNING] AUTH GATE PERMISSION BYPASS ENABLED: permission checks are disabled for every request. Never run this outside local development.")
		}

		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			identity, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, identity); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if cfg.DevBypass {
				if len(cfg.RequiredPermissions) > 0 {
					log.Printf("[WARNING] permission check bypassed for %s %s", ctx.Method(), ctx.Path())
				}
			} else if err := performPermissionChecks(identity, cfg); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, identity)

			// if a context enricher we use it to propagate the identity to the
			// standard context
			if cfg.ContextEnricher != nil {
				stdCtx := ctx.Context()
				ctx.SetContext(cfg.ContextEnricher(stdCtx, identity))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

// performPermissionChecks enforces the configured permission requirements
func performPermissionChecks(identity Identity, cfg Config) error {
	if len(cfg.RequiredPermissions) == 0 {
		return nil
	}

	if cfg.PermissionChecker != nil {
		if !cfg.PermissionChecker(identity, cfg.RequiredPermissions) {
			return fmt.Errorf("access denied: permission check failed for %v", cfg.RequiredPermissions)
		}
		return nil
	}

	if !identity.HasAllPermissions(cfg.RequiredPermissions...) {
		return fmt.Errorf("access denied: missing required permissions %v", cfg.RequiredPermissions)
	}

	return nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if err.Error() == ErrTokenMissingOrMalformed.Error() {
				return c.Status(router.StatusUnauthorized).SendString(ErrTokenMissingOrMalformed.Error())
			}
			if strings.HasPrefix(err.Error(), "access denied") {
				return c.Status(router.StatusForbidden).SendString(err.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired token")
		}
	}

	if cfg.TokenValidator == nil {
		panic("AUTH: gate middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// IdentityMapper builds an Identity from verified claims. Used by the JWKS
// validator where tokens are issued by an external identity provider.
type IdentityMapper func(claims jwt.MapClaims) (Identity, error)

type jwksValidator struct {
	keyFunc jwt.Keyfunc
	mapper  IdentityMapper
}

// NewJWKSValidator builds a TokenValidator that verifies signatures against
// one or more remote JWK Sets. Keys refresh in the background.
func NewJWKSValidator(jwkSetURLs []string, mapper IdentityMapper) (TokenValidator, error) {
	if len(jwkSetURLs) == 0 {
		return nil, errors.New("at least one JWK Set URL is required")
	}
	if mapper == nil {
		return nil, errors.New("an IdentityMapper is required")
	}

	opts := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWK Set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}

	m := make(map[string]keyfunc.Options, len(jwkSetURLs))
	for _, url := range jwkSetURLs {
		m[url] = opts
	}

	multi, err := keyfunc.GetMultiple(m, keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK Set URLs: %w", err)
	}

	return &jwksValidator{keyFunc: multi.Keyfunc, mapper: mapper}, nil
}

func (v *jwksValidator) Validate(tokenString string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrTokenMissingOrMalformed
	}
	return v.mapper(claims)
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, identity Identity) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, identity); err != nil {
			return err
		}
	}
	return nil
}

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		//header:Authorization
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts token from the request header.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if l == 0 {
			fmt.Println("[WARNING] Missing auth scheme in config definition")
			return "", ErrTokenMissingOrMalformed
		}
		authScheme = strings.TrimSpace(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissingOrMalformed
	}
}

// tokenFromQuery returns a function that extracts token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts token from the url param string.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts token from the named cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissingOrMalformed
		}
		return token, nil
	}
}
