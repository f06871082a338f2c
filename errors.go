package auth

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes surfaced to API clients alongside structured errors.
const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeAccountInactive    = "ACCOUNT_INACTIVE"
	TextCodeTokenExpired       = "AUTH_TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "AUTH_TOKEN_MALFORMED"
	TextCodeRefreshInvalid     = "REFRESH_TOKEN_INVALID"
	TextCodeRefreshExpired     = "REFRESH_TOKEN_EXPIRED"
	TextCodeDuplicateUser      = "DUPLICATE_USER"
	TextCodeSelfImpersonation  = "SELF_IMPERSONATION"
	TextCodeTargetInactive     = "IMPERSONATION_TARGET_INACTIVE"
	TextCodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	TextCodeInviteTokenInvalid = "INVITE_TOKEN_INVALID"
	TextCodeAuthRequired       = "AUTHENTICATION_REQUIRED"
	TextCodeAuthFailed         = "AUTHENTICATION_FAILED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeEmptyPassword      = "NO_EMPTY_PASSWORD"
	TextCodeSessionNotFound    = "SESSION_NOT_FOUND"
	TextCodeSessionDecodeError = "SESSION_DECODE_ERROR"
	TextCodeClaimsMappingError = "CLAIMS_MAPPING_ERROR"
	TextCodeDataParseError     = "DATA_PARSE_ERROR"
)

// ErrIdentityNotFound is returned when a user lookup comes back empty.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidCredentials is returned on login when the email is unknown or the
// password does not verify. Both cases share one message so callers cannot
// enumerate accounts.
var ErrInvalidCredentials = goerrors.New("incorrect email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is the hasher-level mismatch error. Login maps
// it to ErrInvalidCredentials before it leaves the package.
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountInactive is returned when the account exists but is blocked or
// has not accepted its invite yet.
var ErrAccountInactive = goerrors.New("account inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a signed token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token fails signature or shape checks.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenInvalid is returned when the presented refresh token does not
// exactly match the value stored for the user. A previously rotated token hits
// this path even if its signature is still valid.
var ErrRefreshTokenInvalid = goerrors.New("refresh token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenExpired is returned when the stored refresh expiry has passed.
var ErrRefreshTokenExpired = goerrors.New("refresh token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateUser is returned when registering an email that already exists.
var ErrDuplicateUser = goerrors.New("a user with that email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateUser).
	WithCode(goerrors.CodeConflict)

// ErrSelfImpersonation is returned when an actor tries to impersonate themselves.
var ErrSelfImpersonation = goerrors.New("cannot impersonate yourself", goerrors.CategoryBadInput).
	WithTextCode(TextCodeSelfImpersonation).
	WithCode(goerrors.CodeBadRequest)

// ErrTargetInactive is returned when the impersonation target is inactive.
var ErrTargetInactive = goerrors.New("impersonation target is inactive", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTargetInactive).
	WithCode(goerrors.CodeBadRequest)

// ErrResetTokenInvalid covers unknown and expired password reset tokens.
var ErrResetTokenInvalid = goerrors.New("invalid or expired reset token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeResetTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrInviteTokenInvalid covers unknown and expired invite tokens.
var ErrInviteTokenInvalid = goerrors.New("invalid or expired invite token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInviteTokenInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrAuthenticationRequired is returned by the gate when no bearer token is
// presented on a protected operation.
var ErrAuthenticationRequired = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrAuthenticationFailed is returned by the gate when token verification
// fails for any reason. The request never proceeds with a partial identity.
var ErrAuthenticationFailed = goerrors.New("authentication failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned by the gate when the permission check fails.
var ErrForbidden = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrTooManyLoginAttempts is returned when a user exceeds the attempt budget
// inside the cooldown window.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts)

// ErrNoEmptyString rejects empty passwords before hashing.
var ErrNoEmptyString = goerrors.New("value must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToFindSession is returned when a request carries no session token.
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession is returned when the session token cannot be decoded.
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionDecodeError).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims is returned when claims cannot be read from a token.
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode(TextCodeClaimsMappingError).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToParseData is a generic payload parse error.
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithTextCode(TextCodeDataParseError).
	WithCode(goerrors.CodeBadRequest)

// IsTokenExpiredError will check for expired tokens, including legacy
// string-matched errors coming out of the JWT library.
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed token errors.
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
