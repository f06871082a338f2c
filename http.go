package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/talentkit/go-auth/middleware/authgate"
)

// RouteAuthenticator mounts the authorization gate on router-based apps and
// maps auth failures to JSON responses.
type RouteAuthenticator struct {
	issuer       *Auther
	cfg          Config
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
	devBypass    bool
}

func NewHTTPAuthenticator(issuer *Auther, cfg Config) (*RouteAuthenticator, error) {
	if issuer == nil {
		return nil, goerrors.New("HTTP authenticator requires a session issuer", goerrors.CategoryBadInput)
	}

	a := &RouteAuthenticator{
		cfg:    cfg,
		issuer: issuer,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler

	return a, nil
}

// WithDevBypass disables required-permission checks on protected routes.
// Tokens are still extracted and validated, a request without a valid
// credential is rejected as usual. Only honored when the environment is
// development; the gate logs loudly while it is active.
func (a *RouteAuthenticator) WithDevBypass() *RouteAuthenticator {
	if a.cfg.GetEnvironment() != EnvDevelopment {
		a.Logger.Warn("auth bypass requested outside development, ignoring")
		return a
	}
	a.devBypass = true
	return a
}

// ProtectedRoute guards a route group: requests must carry a valid access
// token whose permission set satisfies every required permission. Routes deny
// by default, a route mounted without the gate is the only way around it.
func (a *RouteAuthenticator) ProtectedRoute(required ...string) router.MiddlewareFunc {
	return authgate.New(authgate.Config{
		ErrorHandler:        a.gateErrorHandler(),
		TokenValidator:      &gateValidator{issuer: a.issuer},
		AuthScheme:          a.cfg.GetAuthScheme(),
		ContextKey:          a.cfg.GetContextKey(),
		TokenLookup:         a.cfg.GetTokenLookup(),
		RequiredPermissions: required,
		ContextEnricher:     enrichContext,
		DevBypass:           a.devBypass,
	})
}

func (a *RouteAuthenticator) gateErrorHandler() router.ErrorHandler {
	return func(ctx router.Context, err error) error {
		var richErr *goerrors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else if errors.Is(err, authgate.ErrTokenMissingOrMalformed) {
			richErr = ErrAuthenticationRequired
		} else if strings.HasPrefix(err.Error(), "access denied") {
			richErr = ErrForbidden
		} else if !errors.As(err, &richErr) {
			richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "Invalid authentication token").
				WithCode(goerrors.CodeUnauthorized)
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	a.Logger.Info(
		"auth error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	return c.JSON(statusFromError(richErr), map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

// statusFromError maps a structured error to an HTTP status code. Requests
// with no usable credential are 401, requests with a valid credential but an
// unsatisfied permission are 403.
func statusFromError(err *goerrors.Error) int {
	if err.Code >= http.StatusBadRequest {
		return err.Code
	}

	switch err.Category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type gateValidator struct {
	issuer *Auther
}

func (v *gateValidator) Validate(tokenString string) (authgate.Identity, error) {
	identity, err := v.issuer.IdentityFromToken(tokenString)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func enrichContext(c context.Context, identity authgate.Identity) context.Context {
	if id, ok := identity.(*Identity); ok {
		return WithIdentity(c, id)
	}
	return c
}
