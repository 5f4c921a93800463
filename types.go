package session

import (
	"context"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the session packages.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// ResolveLogger picks the logger for a component. A provider wins over a
// plain logger, and a no-op logger is used when neither is set.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	return glog.Resolve(name, provider, logger)
}

const (
	// DefaultAccountRole is the role written to the application database for
	// every self-registered account.
	DefaultAccountRole = "student"
	// FederatedNameFallback is used when a federated principal has no display name.
	FederatedNameFallback = "Google User"
)

// Identity is the provider's view of the signed-in principal.
type Identity struct {
	UID           string `json:"uid"`
	DisplayName   string `json:"display_name,omitempty"`
	Email         string `json:"email,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Clone returns a copy that can be handed out without sharing memory.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Equal reports whether both identities describe the same principal state.
// Two nil identities are equal.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == nil && other == nil
	}
	return *i == *other
}

// NameOrFallback returns the display name, or fallback when it is blank.
func (i *Identity) NameOrFallback(fallback string) string {
	if i == nil || strings.TrimSpace(i.DisplayName) == "" {
		return fallback
	}
	return i.DisplayName
}

// ProfileChanges are applied verbatim by UpdateProfile. Empty values clear
// the corresponding field.
type ProfileChanges struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
}

// Credential is returned by the sign-in style provider calls.
type Credential struct {
	Identity   Identity `json:"identity"`
	ProviderID string   `json:"provider_id,omitempty"`
	IsNewUser  bool     `json:"is_new_user"`
}

// ChangeHandler receives session change notifications. A nil identity
// means nobody is signed in.
type ChangeHandler func(identity *Identity)

// Unsubscribe releases a subscription registered with IdentityProvider.Subscribe.
type Unsubscribe func()

// IdentityProvider is the boundary to the external identity service.
//
// Implementations must deliver notifications for a single subscription in
// arrival order and never concurrently. The first notification after
// Subscribe reports the current principal, or nil.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, email, password string) (*Credential, error)
	Login(ctx context.Context, email, password string) (*Credential, error)
	FederatedLogin(ctx context.Context) (*Credential, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
	UpdateProfile(ctx context.Context, uid string, changes ProfileChanges) error
	CurrentIdentity() *Identity
	Subscribe(handler ChangeHandler) Unsubscribe
}

// AccountRecord is the application database view of a principal.
type AccountRecord struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	PhotoURL string `json:"photoURL"`
	Role     string `json:"role"`
}

// AccountMirror writes account records to the application database.
// A duplicate write must be reported as a mirror conflict.
type AccountMirror interface {
	Mirror(ctx context.Context, record AccountRecord) error
}

// AccountMirrorFunc adapts a function to AccountMirror.
type AccountMirrorFunc func(ctx context.Context, record AccountRecord) error

// Mirror implements AccountMirror.
func (f AccountMirrorFunc) Mirror(ctx context.Context, record AccountRecord) error {
	if f == nil {
		return nil
	}
	return f(ctx, record)
}
