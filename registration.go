package session

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
)

var (
	_ gocmd.Commander[RegisterAccountMessage] = (*RegisterAccountHandler)(nil)
	_ gocmd.Commander[FederatedSignInMessage] = (*FederatedSignInHandler)(nil)
)

// RegisterAccountMessage is the registration form.
type RegisterAccountMessage struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
	PhotoURL        string `json:"photo_url" form:"photo_url"`
	Role            string `json:"-" form:"-"`
}

func (RegisterAccountMessage) Type() string { return "session.account.register" }

// Validate checks the registration form.
func (m RegisterAccountMessage) Validate() error {
	return NewValidationError(validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&m.Email, validation.Required, is.EmailFormat),
		validation.Field(&m.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&m.ConfirmPassword,
			validation.Required,
			validation.In(m.Password).Error("passwords do not match"),
		),
		validation.Field(&m.PhotoURL, is.URL),
	), "Invalid registration request payload")
}

// FederatedSignInMessage starts a federated sign-in.
type FederatedSignInMessage struct {
	Role string `json:"-"`
}

func (FederatedSignInMessage) Type() string { return "session.federated.sign_in" }

// RegistrationResult is stored in the command result collector.
type RegistrationResult struct {
	Credential *Credential
	Record     AccountRecord
	Mirrored   bool
	// MirrorErr is set when the account could not be mirrored. The
	// registration itself still succeeded.
	MirrorErr error
}

type flowDeps struct {
	commands AccountCommands
	mirror   AccountMirror
	activity ActivitySink
	now      func() time.Time
	logger   Logger
}

// RegisterAccountHandler creates a password account, sets the display name
// and mirrors the account into the application database.
type RegisterAccountHandler struct {
	flowDeps
	loggerProvider LoggerProvider
}

// NewRegisterAccountHandler builds the registration flow.
func NewRegisterAccountHandler(commands AccountCommands, mirror AccountMirror) *RegisterAccountHandler {
	h := &RegisterAccountHandler{
		flowDeps: flowDeps{
			commands: commands,
			mirror:   mirror,
			activity: noopActivitySink{},
			now:      time.Now,
		},
	}
	h.loggerProvider, h.logger = ResolveLogger("session.register", nil, nil)
	return h
}

func (h *RegisterAccountHandler) WithLogger(l Logger) *RegisterAccountHandler {
	h.loggerProvider, h.logger = ResolveLogger("session.register", h.loggerProvider, l)
	return h
}

// WithLoggerProvider overrides the logger provider used by the handler.
func (h *RegisterAccountHandler) WithLoggerProvider(provider LoggerProvider) *RegisterAccountHandler {
	h.loggerProvider, h.logger = ResolveLogger("session.register", provider, h.logger)
	return h
}

// WithActivitySink sets the sink that receives mirror outcomes.
func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, msg RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, msg RegisterAccountMessage) error {
	if h.commands == nil {
		return goerrors.New("registration commands are required", goerrors.CategoryInternal).
			WithTextCode("MISSING_COMMANDS")
	}

	msg.Email = normalizeEmail(msg.Email)
	if err := msg.Validate(); err != nil {
		return err
	}

	cred, err := h.commands.CreateAccount(ctx, msg.Email, msg.Password)
	if err != nil {
		return err
	}

	if err := h.commands.UpdateProfile(ctx, msg.Name, msg.PhotoURL); err != nil {
		return err
	}

	record := AccountRecord{
		Name:     msg.Name,
		Email:    msg.Email,
		PhotoURL: msg.PhotoURL,
		Role:     roleOrDefault(msg.Role),
	}

	result := RegistrationResult{Credential: cred, Record: record}
	result.Mirrored, result.MirrorErr = h.mirrorAccount(ctx, credentialUID(cred), record)
	storeResult(ctx, result)
	return nil
}

// FederatedSignInHandler signs in through the federated provider and mirrors
// first-time principals.
type FederatedSignInHandler struct {
	flowDeps
	loggerProvider LoggerProvider
}

// NewFederatedSignInHandler builds the federated sign-in flow.
func NewFederatedSignInHandler(commands AccountCommands, mirror AccountMirror) *FederatedSignInHandler {
	h := &FederatedSignInHandler{
		flowDeps: flowDeps{
			commands: commands,
			mirror:   mirror,
			activity: noopActivitySink{},
			now:      time.Now,
		},
	}
	h.loggerProvider, h.logger = ResolveLogger("session.federated", nil, nil)
	return h
}

func (h *FederatedSignInHandler) WithLogger(l Logger) *FederatedSignInHandler {
	h.loggerProvider, h.logger = ResolveLogger("session.federated", h.loggerProvider, l)
	return h
}

// WithLoggerProvider overrides the logger provider used by the handler.
func (h *FederatedSignInHandler) WithLoggerProvider(provider LoggerProvider) *FederatedSignInHandler {
	h.loggerProvider, h.logger = ResolveLogger("session.federated", provider, h.logger)
	return h
}

// WithActivitySink sets the sink that receives mirror outcomes.
func (h *FederatedSignInHandler) WithActivitySink(sink ActivitySink) *FederatedSignInHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *FederatedSignInHandler) Execute(ctx context.Context, msg FederatedSignInMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during federated sign-in",
		)
	default:
		return h.execute(ctx, msg)
	}
}

func (h *FederatedSignInHandler) execute(ctx context.Context, msg FederatedSignInMessage) error {
	if h.commands == nil {
		return goerrors.New("federated sign-in commands are required", goerrors.CategoryInternal).
			WithTextCode("MISSING_COMMANDS")
	}

	cred, err := h.commands.FederatedLogin(ctx)
	if err != nil {
		return err
	}

	result := RegistrationResult{Credential: cred}
	if cred != nil {
		result.Record = AccountRecord{
			Name:     cred.Identity.NameOrFallback(FederatedNameFallback),
			Email:    cred.Identity.Email,
			PhotoURL: cred.Identity.PhotoURL,
			Role:     roleOrDefault(msg.Role),
		}
		if cred.IsNewUser {
			result.Mirrored, result.MirrorErr = h.mirrorAccount(ctx, cred.Identity.UID, result.Record)
		}
	}

	storeResult(ctx, result)
	return nil
}

// mirrorAccount writes record once. A conflict counts as mirrored, any other
// failure is reported and returned without failing the flow.
func (d flowDeps) mirrorAccount(ctx context.Context, uid string, record AccountRecord) (bool, error) {
	if d.mirror == nil {
		return false, nil
	}

	err := d.mirror.Mirror(ctx, record)
	switch {
	case err == nil:
		d.logger.Debug("account mirrored", "email", record.Email)
	case IsMirrorConflict(err):
		d.logger.Debug("account already mirrored", "email", record.Email)
	default:
		if !IsMirrorFailure(err) {
			err = NewMirrorFailureError(err, map[string]any{"email": record.Email})
		}
		d.logger.Error("failed to mirror account", "email", record.Email, "error", err)
		recordActivity(ctx, d.activity, d.logger, ActivityEvent{
			EventType:  ActivityEventMirrorFailure,
			Operation:  OpMirrorAccount,
			UserID:     uid,
			Email:      record.Email,
			Metadata:   map[string]any{"error": err.Error()},
			OccurredAt: d.now(),
		})
		return false, err
	}

	recordActivity(ctx, d.activity, d.logger, ActivityEvent{
		EventType:  ActivityEventAccountMirrored,
		Operation:  OpMirrorAccount,
		UserID:     uid,
		Email:      record.Email,
		OccurredAt: d.now(),
	})
	return true, nil
}

func roleOrDefault(role string) string {
	if role == "" {
		return DefaultAccountRole
	}
	return role
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
