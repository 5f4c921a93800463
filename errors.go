package session

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Text codes carried by session errors.
const (
	TextCodeCredential          = "CREDENTIAL_ERROR"
	TextCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	TextCodeNoActiveSession     = "NO_ACTIVE_SESSION"
	TextCodeMirrorConflict      = "MIRROR_CONFLICT"
	TextCodeMirrorFailure       = "MIRROR_FAILURE"
	TextCodeValidation          = "VALIDATION_ERROR"
)

// Provider error codes understood by ClassifyProviderError.
const (
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWrongPassword     = "auth/wrong-password"
	CodeUserNotFound      = "auth/user-not-found"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeTooManyRequests   = "auth/too-many-requests"
	CodePopupClosed       = "auth/popup-closed-by-user"
	CodeNetworkFailed     = "auth/network-request-failed"
	CodeNoCurrentUser     = "auth/no-current-user"
	CodeInternal          = "auth/internal-error"
	CodeOperationDisabled = "auth/operation-not-allowed"
	CodeInvalidActionCode = "auth/invalid-action-code"
	CodeExpiredActionCode = "auth/expired-action-code"

	CodeAccountExists = "auth/account-exists-with-different-credential"
)

// Operation names used in error metadata and activity events.
const (
	OpCreateAccount  = "create_account"
	OpLogin          = "login"
	OpFederatedLogin = "federated_login"
	OpSignOut        = "sign_out"
	OpResetPassword  = "reset_password"
	OpUpdateProfile  = "update_profile"
	OpMirrorAccount  = "mirror_account"

	OpConfirmPasswordReset = "confirm_password_reset"
)

var credentialCodes = map[string]struct{}{
	CodeEmailInUse:        {},
	CodeWeakPassword:      {},
	CodeInvalidEmail:      {},
	CodeWrongPassword:     {},
	CodeUserNotFound:      {},
	CodeInvalidCredential: {},
	CodeInvalidActionCode: {},
	CodeExpiredActionCode: {},
	CodeAccountExists:     {},
}

// ProviderError is returned by IdentityProvider implementations.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

// NewProviderError builds a provider error with the given code.
func NewProviderError(code, message string) *ProviderError {
	return &ProviderError{Code: code, Message: message}
}

// WithCause attaches the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider: %s", e.Code)
	}
	return fmt.Sprintf("identity provider: %s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ClassifyProviderError maps a provider failure onto the session taxonomy.
// Errors that already carry a session text code are returned unchanged.
func ClassifyProviderError(op string, err error) error {
	if err == nil {
		return nil
	}

	if isSessionError(err) {
		return err
	}

	metadata := map[string]any{"operation": op}

	var perr *ProviderError
	if goerrors.As(err, &perr) {
		metadata["provider_code"] = perr.Code
		switch {
		case perr.Code == CodeNoCurrentUser:
			return newNoActiveSession(err, metadata)
		case isCredentialCode(perr.Code):
			return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid credentials").
				WithTextCode(TextCodeCredential).
				WithCode(goerrors.CodeUnauthorized).
				WithMetadata(metadata)
		}
	}

	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		metadata["provider_code"] = CodePopupClosed
	}

	return goerrors.Wrap(err, goerrors.CategoryExternal, "identity provider unavailable").
		WithTextCode(TextCodeProviderUnavailable).
		WithCode(http.StatusServiceUnavailable).
		WithMetadata(metadata)
}

// NewNoActiveSessionError reports a command that needs a signed-in principal.
func NewNoActiveSessionError(op string) error {
	return newNoActiveSession(nil, map[string]any{"operation": op})
}

func newNoActiveSession(cause error, metadata map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryAuth, "no active session")
	} else {
		err = goerrors.New("no active session", goerrors.CategoryAuth)
	}
	return err.
		WithTextCode(TextCodeNoActiveSession).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(metadata)
}

// NewMirrorConflictError reports a duplicate account in the application database.
func NewMirrorConflictError(email string) error {
	return goerrors.New("User already exists", goerrors.CategoryConflict).
		WithTextCode(TextCodeMirrorConflict).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{"email": email})
}

// NewMirrorFailureError reports a failed write to the application database.
func NewMirrorFailureError(cause error, metadata map[string]any) error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryExternal, "failed to mirror account")
	} else {
		err = goerrors.New("failed to mirror account", goerrors.CategoryExternal)
	}
	return err.
		WithTextCode(TextCodeMirrorFailure).
		WithCode(http.StatusBadGateway).
		WithMetadata(metadata)
}

// NewValidationError converts ozzo validation errors into a rich error.
func NewValidationError(err error, message string) error {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if goerrors.As(err, &verrs) {
		keys := make([]string, 0, len(verrs))
		for k := range verrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]goerrors.FieldError, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, goerrors.FieldError{Field: k, Message: verrs[k].Error()})
		}
		return goerrors.NewValidation(message, fields...).
			WithCode(http.StatusBadRequest).
			WithTextCode(TextCodeValidation)
	}

	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeValidation)
}

// IsCredentialError reports whether err is a rejected credential.
func IsCredentialError(err error) bool { return hasTextCode(err, TextCodeCredential) }

// IsProviderUnavailable reports whether the provider could not be reached or
// the interactive flow was abandoned.
func IsProviderUnavailable(err error) bool { return hasTextCode(err, TextCodeProviderUnavailable) }

// IsNoActiveSession reports whether err was caused by a missing principal.
func IsNoActiveSession(err error) bool { return hasTextCode(err, TextCodeNoActiveSession) }

// IsMirrorConflict reports whether err is a duplicate account write.
func IsMirrorConflict(err error) bool { return hasTextCode(err, TextCodeMirrorConflict) }

// IsMirrorFailure reports whether err is a failed account write.
func IsMirrorFailure(err error) bool { return hasTextCode(err, TextCodeMirrorFailure) }

// IsValidationError reports whether err is a payload validation error.
func IsValidationError(err error) bool { return hasTextCode(err, TextCodeValidation) }

// ProviderCode returns the provider code recorded on err, if any.
func ProviderCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Metadata != nil {
		if code, ok := richErr.Metadata["provider_code"].(string); ok {
			return code
		}
	}
	var perr *ProviderError
	if goerrors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// Operation returns the command name recorded on err, if any.
func Operation(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Metadata != nil {
		if op, ok := richErr.Metadata["operation"].(string); ok {
			return op
		}
	}
	return ""
}

// UserMessage returns the copy shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	op := Operation(err)
	code := ProviderCode(err)

	switch {
	case IsValidationError(err):
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) && richErr.Message != "" {
			return richErr.Message
		}
		return "Invalid request"
	case IsNoActiveSession(err):
		return "You need to be signed in"
	case code == CodeAccountExists:
		return "An account already exists for this email. Sign in with your password."
	case op == OpFederatedLogin:
		return "Google login failed"
	case code == CodeWrongPassword || code == CodeUserNotFound || code == CodeInvalidCredential:
		if op == OpResetPassword {
			return "No account found for that email"
		}
		return "Invalid email or password"
	case code == CodeEmailInUse:
		return "Email already in use"
	case code == CodeWeakPassword:
		return "Password should be at least 6 characters"
	case code == CodeInvalidEmail:
		return "Invalid email address"
	case code == CodeInvalidActionCode || code == CodeExpiredActionCode:
		return "The reset link is invalid or has expired"
	}

	switch op {
	case OpCreateAccount:
		return "Registration failed. Try again."
	case OpResetPassword, OpConfirmPasswordReset:
		return "Password reset failed. Try again."
	case OpUpdateProfile:
		return "Profile update failed. Try again."
	case OpSignOut:
		return "Sign out failed. Try again."
	default:
		return "Login failed. Try again."
	}
}

func isCredentialCode(code string) bool {
	_, ok := credentialCodes[code]
	return ok
}

func isSessionError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch richErr.TextCode {
	case TextCodeCredential, TextCodeProviderUnavailable, TextCodeNoActiveSession,
		TextCodeMirrorConflict, TextCodeMirrorFailure, TextCodeValidation:
		return true
	}
	return false
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}
