package auth

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the JSON auth endpoints. Session endpoints are
// public; logout and impersonation require an authenticated identity and are
// guarded by the route authenticator's gate.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {
	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Register, controller.Register).
		SetName("auth.register")

	app.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login")

	app.Post(controller.Routes.Refresh, controller.Refresh).
		SetName("auth.refresh")

	app.Post(controller.Routes.Logout,
		controller.Gate.ProtectedRoute()(controller.Logout)).
		SetName("auth.logout")

	app.Post(controller.Routes.Impersonate,
		controller.Gate.ProtectedRoute("user:impersonate")(controller.Impersonate)).
		SetName("auth.impersonate")

	app.Post(controller.Routes.PasswordReset, controller.PasswordResetRequest).
		SetName("auth.pwd-reset.request")

	app.Post(fmt.Sprintf("%s/confirm", controller.Routes.PasswordReset), controller.PasswordResetConfirm).
		SetName("auth.pwd-reset.confirm")

	app.Post(controller.Routes.InviteAccept, controller.AcceptInvite).
		SetName("auth.invite.accept")
}

type AuthControllerRoutes struct {
	Login         string
	Logout        string
	Register      string
	Refresh       string
	Impersonate   string
	PasswordReset string
	InviteAccept  string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Auther       *Auther
	Gate         *RouteAuthenticator
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther *Auther) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerGate(gate *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Gate = gate
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Login:         "/auth/login",
			Logout:        "/auth/logout",
			Register:      "/auth/register",
			Refresh:       "/auth/refresh",
			Impersonate:   "/auth/impersonate",
			PasswordReset: "/auth/password-reset",
			InviteAccept:  "/auth/invite/accept",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if c.Gate == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.respondError
	}

	return c
}

// RegisterRequest payload
type RegisterRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	OrganizationName string `json:"organization_name"`
}

// Validate will run validation rules
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(&r.OrganizationName, validation.Length(0, 200)),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= AUTH REGISTER ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	result, err := a.Auther.Register(ctx.Context(), RegisterInput{
		Email:            payload.Email,
		Password:         payload.Password,
		FirstName:        payload.FirstName,
		LastName:         payload.LastName,
		OrganizationName: payload.OrganizationName,
	})
	if err != nil {
		a.Logger.Error("register error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, result)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	result, err := a.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		a.Logger.Error("login error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, result)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) Refresh(ctx router.Context) error {
	payload := new(RefreshRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	pair, err := a.Auther.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		a.Logger.Error("refresh error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, pair)
}

// LogoutRequest payload
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *AuthController) Logout(ctx router.Context) error {
	payload := new(LogoutRequest)
	// body is optional, a bare logout still clears the session
	_ = ctx.Bind(payload)

	identity, ok := GetRouterIdentity(ctx, "")
	if !ok {
		return a.ErrorHandler(ctx, ErrAuthenticationRequired)
	}

	if err := a.Auther.Logout(ctx.Context(), identity.UserID, identity.OrganizationID, payload.RefreshToken); err != nil {
		a.Logger.Error("logout error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusNoContent, nil)
}

// ImpersonateRequest payload
type ImpersonateRequest struct {
	TargetUserID string `json:"target_user_id"`
}

// Validate will run validation rules
func (r ImpersonateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TargetUserID, validation.Required, is.UUIDv4),
	)
}

func (a *AuthController) Impersonate(ctx router.Context) error {
	payload := new(ImpersonateRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	identity, ok := GetRouterIdentity(ctx, "")
	if !ok {
		return a.ErrorHandler(ctx, ErrAuthenticationRequired)
	}

	pair, err := a.Auther.Impersonate(ctx.Context(), identity.UserID, identity.OrganizationID, payload.TargetUserID)
	if err != nil {
		a.Logger.Error("impersonate error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, pair)
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) PasswordResetRequest(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	var res *InitializePasswordResetResponse

	req := InitializePasswordResetMessage{
		Email: payload.Email,
		OnResponse: func(resp *InitializePasswordResetResponse) {
			res = resp
		},
	}

	initPwdReset := NewInitializePasswordResetHandler(a.Repo).WithLogger(a.Logger)

	if err := initPwdReset.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("password reset request error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		fmt.Println("================")
		fmt.Println(print.MaybePrettyJSON(res))
		fmt.Println("================")
	}

	// Same response whether or not the email exists.
	return ctx.JSON(http.StatusAccepted, map[string]any{
		"success": true,
	})
}

// PasswordResetConfirmPayload holds values for password reset confirmation
type PasswordResetConfirmPayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (r PasswordResetConfirmPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
	)
}

func (a *AuthController) PasswordResetConfirm(ctx router.Context) error {
	payload := new(PasswordResetConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	finalizePwdReset := NewFinalizePasswordResetHandler(a.Repo).WithLogger(a.Logger)

	if err := finalizePwdReset.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Token:    payload.Token,
		Password: payload.Password,
	}); err != nil {
		a.Logger.Error("password reset confirm error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
	})
}

// AcceptInvitePayload holds values for invite acceptance
type AcceptInvitePayload struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate will validate the payload
func (r AcceptInvitePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
	)
}

func (a *AuthController) AcceptInvite(ctx router.Context) error {
	payload := new(AcceptInvitePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.respondBindError(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.respondValidationError(ctx, err)
	}

	acceptInvite := NewAcceptInviteHandler(a.Repo).WithLogger(a.Logger)

	if err := acceptInvite.Execute(ctx.Context(), AcceptInviteMessage{
		Token:    payload.Token,
		Password: payload.Password,
	}); err != nil {
		a.Logger.Error("invite accept error: %s", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) respondBindError(ctx router.Context, err error) error {
	a.Logger.Error("payload bind error: %s", err)
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error": "failed to parse request body",
	})
}

func (a *AuthController) respondValidationError(ctx router.Context, err error) error {
	return ctx.JSON(http.StatusBadRequest, map[string]any{
		"error":      "validation failed",
		"validation": FormatValidationErrorToMap(err),
	})
}

func (a *AuthController) respondError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !errors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	return ctx.JSON(statusFromError(richErr), map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field->message map for JSON responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	if err == nil {
		return out
	}

	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	out["error"] = err.Error()
	return out
}
