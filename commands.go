package session

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Commands issues requests to the identity provider on behalf of the user.
//
// Each command wraps exactly one provider call and never retries. Except for
// UpdateProfile, a successful command does not touch the store: the new
// session arrives through the provider's notification stream.
type Commands struct {
	provider IdentityProvider
	store    *Store

	activity       ActivitySink
	now            func() time.Time
	logger         Logger
	loggerProvider LoggerProvider
}

// NewCommands binds commands to provider and the store they patch.
func NewCommands(provider IdentityProvider, store *Store, opts ...Option) (*Commands, error) {
	if provider == nil {
		return nil, goerrors.New("identity provider is required", goerrors.CategoryInternal).
			WithTextCode("MISSING_PROVIDER")
	}
	if store == nil {
		return nil, goerrors.New("session store is required", goerrors.CategoryInternal).
			WithTextCode("MISSING_STORE")
	}

	o := buildOptions(opts...)
	c := &Commands{
		provider: provider,
		store:    store,
		activity: o.activity,
		now:      o.now,
	}
	c.loggerProvider, c.logger = o.resolveLogger("session.commands")
	return c, nil
}

// CreateAccount registers a new password principal.
func (c *Commands) CreateAccount(ctx context.Context, email, password string) (*Credential, error) {
	cred, err := c.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, c.fail(ctx, OpCreateAccount, email, err)
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventAccountCreated,
		Operation: OpCreateAccount,
		UserID:    credentialUID(cred),
		Email:     email,
	})
	return cred, nil
}

// Login signs in with email and password.
func (c *Commands) Login(ctx context.Context, email, password string) (*Credential, error) {
	cred, err := c.provider.Login(ctx, email, password)
	if err != nil {
		err = c.fail(ctx, OpLogin, email, err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Operation: OpLogin,
			Email:     email,
			Metadata:  map[string]any{"provider_code": ProviderCode(err)},
		})
		return nil, err
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Operation: OpLogin,
		UserID:    credentialUID(cred),
		Email:     email,
	})
	return cred, nil
}

// FederatedLogin runs the provider's interactive sign-in flow.
func (c *Commands) FederatedLogin(ctx context.Context) (*Credential, error) {
	cred, err := c.provider.FederatedLogin(ctx)
	if err != nil {
		return nil, c.fail(ctx, OpFederatedLogin, "", err)
	}

	event := ActivityEvent{
		EventType: ActivityEventFederatedLogin,
		Operation: OpFederatedLogin,
		UserID:    credentialUID(cred),
	}
	if cred != nil {
		event.Email = cred.Identity.Email
		event.Metadata = map[string]any{
			"provider":    cred.ProviderID,
			"is_new_user": cred.IsNewUser,
		}
	}
	c.record(ctx, event)
	return cred, nil
}

// SignOut ends the provider session.
func (c *Commands) SignOut(ctx context.Context) error {
	uid := ""
	if current := c.provider.CurrentIdentity(); current != nil {
		uid = current.UID
	}

	if err := c.provider.SignOut(ctx); err != nil {
		return c.fail(ctx, OpSignOut, "", err)
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSignOut,
		Operation: OpSignOut,
		UserID:    uid,
	})
	return nil
}

// ResetPassword asks the provider to send a reset email.
func (c *Commands) ResetPassword(ctx context.Context, email string) error {
	if err := c.provider.ResetPassword(ctx, email); err != nil {
		return c.fail(ctx, OpResetPassword, email, err)
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Operation: OpResetPassword,
		Email:     email,
	})
	return nil
}

// UpdateProfile changes the current principal's display name and photo.
//
// After the provider confirms, the store identity is patched in place since
// the provider does not notify profile changes. If the principal signed out
// or changed while the call was in flight the patch is dropped.
func (c *Commands) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	current := c.provider.CurrentIdentity()
	if current == nil {
		err := NewNoActiveSessionError(OpUpdateProfile)
		c.logger.Debug("profile update without active session")
		return err
	}

	changes := ProfileChanges{DisplayName: displayName, PhotoURL: photoURL}
	if err := c.provider.UpdateProfile(ctx, current.UID, changes); err != nil {
		return c.fail(ctx, OpUpdateProfile, current.Email, err)
	}

	if !c.store.patchProfile(current, changes) {
		c.logger.WithContext(ctx).Debug("profile patch dropped, principal changed during update",
			"uid", current.UID,
		)
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Operation: OpUpdateProfile,
		UserID:    current.UID,
		Email:     current.Email,
	})
	return nil
}

func (c *Commands) fail(ctx context.Context, op, email string, err error) error {
	classified := ClassifyProviderError(op, err)
	c.logger.WithContext(ctx).Debug("session command failed",
		"operation", op,
		"email", email,
		"provider_code", ProviderCode(classified),
		"error", err,
	)
	if op != OpLogin {
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventCommandFailure,
			Operation: op,
			Email:     email,
			Metadata:  map[string]any{"provider_code": ProviderCode(classified)},
		})
	}
	return classified
}

func (c *Commands) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = c.now()
	}
	recordActivity(ctx, c.activity, c.logger, event)
}

func credentialUID(cred *Credential) string {
	if cred == nil {
		return ""
	}
	return cred.Identity.UID
}
