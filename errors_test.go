package session_test

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name        string
		op          string
		err         error
		credential  bool
		unavailable bool
		noSession   bool
		message     string
	}{
		{
			name:       "wrong password",
			op:         session.OpLogin,
			err:        session.NewProviderError(session.CodeWrongPassword, ""),
			credential: true,
			message:    "Invalid email or password",
		},
		{
			name:       "user not found",
			op:         session.OpLogin,
			err:        session.NewProviderError(session.CodeUserNotFound, ""),
			credential: true,
			message:    "Invalid email or password",
		},
		{
			name:        "too many requests",
			op:          session.OpLogin,
			err:         session.NewProviderError(session.CodeTooManyRequests, ""),
			unavailable: true,
			message:     "Login failed. Try again.",
		},
		{
			name:        "popup closed",
			op:          session.OpFederatedLogin,
			err:         session.NewProviderError(session.CodePopupClosed, ""),
			unavailable: true,
			message:     "Google login failed",
		},
		{
			name:       "account exists with different credential",
			op:         session.OpFederatedLogin,
			err:        session.NewProviderError(session.CodeAccountExists, ""),
			credential: true,
			message:    "An account already exists for this email. Sign in with your password.",
		},
		{
			name:        "context cancelled",
			op:          session.OpFederatedLogin,
			err:         context.Canceled,
			unavailable: true,
			message:     "Google login failed",
		},
		{
			name:        "opaque failure",
			op:          session.OpCreateAccount,
			err:         errors.New("socket closed"),
			unavailable: true,
			message:     "Registration failed. Try again.",
		},
		{
			name:      "no current user",
			op:        session.OpUpdateProfile,
			err:       session.NewProviderError(session.CodeNoCurrentUser, ""),
			noSession: true,
			message:   "You need to be signed in",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := session.ClassifyProviderError(tt.op, tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.credential, session.IsCredentialError(err))
			assert.Equal(t, tt.unavailable, session.IsProviderUnavailable(err))
			assert.Equal(t, tt.noSession, session.IsNoActiveSession(err))
			assert.Equal(t, tt.op, session.Operation(err))
			assert.Equal(t, tt.message, session.UserMessage(err))
		})
	}
}

func TestClassifyProviderErrorKeepsSessionErrors(t *testing.T) {
	original := session.NewNoActiveSessionError(session.OpUpdateProfile)
	assert.Same(t, original, session.ClassifyProviderError(session.OpLogin, original))
	assert.NoError(t, session.ClassifyProviderError(session.OpLogin, nil))
}

func TestClassifiedErrorsCarryHTTPCodes(t *testing.T) {
	err := session.ClassifyProviderError(session.OpLogin, session.NewProviderError(session.CodeWrongPassword, ""))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CodeUnauthorized, richErr.Code)
	assert.Equal(t, session.TextCodeCredential, richErr.TextCode)
	assert.Equal(t, goerrors.CategoryAuth, richErr.Category)
}

func TestMirrorErrors(t *testing.T) {
	conflict := session.NewMirrorConflictError("a@b.com")
	assert.True(t, session.IsMirrorConflict(conflict))
	assert.False(t, session.IsMirrorFailure(conflict))

	failure := session.NewMirrorFailureError(errors.New("boom"), nil)
	assert.True(t, session.IsMirrorFailure(failure))
	assert.False(t, session.IsMirrorConflict(failure))
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp")
	err := session.NewProviderError(session.CodeNetworkFailed, "offline").WithCause(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), session.CodeNetworkFailed)
}
