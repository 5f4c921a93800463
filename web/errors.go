package web

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	fgguard "github.com/goliatone/go-featuregate/gate/guard"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
)

var (
	ErrSignupDisabled = goerrors.New("signup is disabled", goerrors.CategoryAuthz).
				WithTextCode("SIGNUP_DISABLED").
				WithCode(goerrors.CodeForbidden)
	ErrPasswordResetDisabled = goerrors.New("password reset is disabled", goerrors.CategoryAuthz).
					WithTextCode("PASSWORD_RESET_DISABLED").
					WithCode(goerrors.CodeForbidden)
	ErrPasswordResetConfirmUnsupported = goerrors.New("password reset confirmation is not supported", goerrors.CategoryOperation).
						WithTextCode("PASSWORD_RESET_CONFIRM_UNSUPPORTED").
						WithCode(http.StatusNotImplemented)
	ErrFederatedLoginUnavailable = goerrors.New("federated login is not configured", goerrors.CategoryOperation).
					WithTextCode("FEDERATED_LOGIN_UNAVAILABLE").
					WithCode(http.StatusNotImplemented)
)

// DefaultErrorHandler answers with {"error": message, "code": text_code}
// and the HTTP code carried by err.
func DefaultErrorHandler(ctx router.Context, err error) error {
	return ctx.JSON(StatusFor(err), ErrorBody(err))
}

// StatusFor returns the HTTP status carried by a rich error, 500 otherwise.
func StatusFor(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code >= 400 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// ErrorBody renders err with the user facing copy for session errors.
func ErrorBody(err error) map[string]any {
	body := map[string]any{"error": err.Error()}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return body
	}

	body["error"] = richErr.Message
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}

	switch {
	case session.IsValidationError(err):
		if verrs := richErr.AllValidationErrors(); len(verrs) > 0 {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field] = fe.Message
			}
			body["fields"] = fields
		}
	case session.IsCredentialError(err),
		session.IsProviderUnavailable(err),
		session.IsNoActiveSession(err):
		body["error"] = session.UserMessage(err)
		if code := session.ProviderCode(err); code != "" {
			body["provider_code"] = code
		}
	}

	return body
}

func normalizeFeatureGateError(err error) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}

	return goerrors.Wrap(err, goerrors.CategoryAuthz, "Feature gate check failed").
		WithCode(goerrors.CodeForbidden)
}

func requireFeatureGate(ctx context.Context, featureGate gate.FeatureGate, key string, disabledErr error) error {
	if featureGate == nil {
		return nil
	}
	return fgguard.Require(ctx, featureGate, key,
		fgguard.WithDisabledError(disabledErr),
		fgguard.WithErrorMapper(normalizeFeatureGateError),
	)
}

func requirePasswordResetGate(ctx context.Context, featureGate gate.FeatureGate, finalize bool) error {
	if featureGate == nil {
		return nil
	}
	opts := []fgguard.Option{
		fgguard.WithDisabledError(ErrPasswordResetDisabled),
		fgguard.WithErrorMapper(normalizeFeatureGateError),
	}
	if finalize {
		opts = append(opts, fgguard.WithOverrides(gate.FeatureUsersPasswordResetFinalize))
	}
	return fgguard.Require(ctx, featureGate, gate.FeatureUsersPasswordReset, opts...)
}
