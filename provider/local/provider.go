package local

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var _ session.IdentityProvider = (*Provider)(nil)

// Provider is a database backed identity provider for a single local
// principal. It keeps the signed-in account in memory, persists the sign-in
// token through a TokenStore and delivers change notifications from one
// dispatcher goroutine.
type Provider struct {
	repos  RepositoryManager
	tokens TokenStore
	signer *TokenSigner

	federator Federator
	linking   LinkingPolicy
	mailer    Mailer

	now         func() time.Time
	hashCost    int
	maxAttempts int
	coolDown    time.Duration
	resetTTL    time.Duration

	mu      sync.RWMutex
	current *Account
	subs    map[uint64]*subscription
	nextID  uint64
	closed  bool

	// authMu serializes the calls that change the signed-in principal.
	authMu sync.Mutex

	dispatch *dispatcher

	logger         session.Logger
	loggerProvider session.LoggerProvider
}

// New builds a provider on db and restores the principal recorded in the
// token store, if any.
func New(ctx context.Context, db *bun.DB, opts ...Option) (*Provider, error) {
	if db == nil {
		return nil, goerrors.New("database is required", goerrors.CategoryInternal).
			WithTextCode("MISSING_DATABASE")
	}
	return NewWithRepositories(ctx, NewRepositoryManager(db), opts...)
}

// NewWithRepositories builds a provider on an existing repository manager.
func NewWithRepositories(ctx context.Context, repos RepositoryManager, opts ...Option) (*Provider, error) {
	if repos == nil {
		return nil, goerrors.New("repository manager is required", goerrors.CategoryInternal).
			WithTextCode("MISSING_REPOSITORIES")
	}
	if err := repos.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository manager")
	}

	o := buildOptions(opts...)

	key := o.signingKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate signing key")
		}
	}

	p := &Provider{
		repos:       repos,
		tokens:      o.tokens,
		signer:      NewTokenSigner(key, o.tokenIssuer, o.tokenTTL),
		federator:   o.federator,
		linking:     o.linking,
		mailer:      o.mailer,
		now:         o.now,
		hashCost:    o.hashCost,
		maxAttempts: o.maxAttempts,
		coolDown:    o.coolDown,
		resetTTL:    o.resetTTL,
		subs:        make(map[uint64]*subscription),
	}
	p.signer.now = o.now
	p.loggerProvider, p.logger = session.ResolveLogger("provider.local", o.loggerProvider, o.logger)

	if p.tokens == nil {
		p.tokens = NewMemoryTokenStore()
	}
	if p.mailer == nil {
		p.mailer = LogMailer{Logger: p.logger}
	}
	if p.linking == nil {
		p.linking = PolicyAutoCreate()
	}

	p.dispatch = newDispatcher(func(r any) {
		p.logger.Error("session change handler panicked", "panic", r)
	})

	p.restore(ctx)
	return p, nil
}

func (p *Provider) restore(ctx context.Context) {
	token, err := p.tokens.Load(ctx)
	if err != nil {
		p.logger.Warn("failed to load sign-in token", "error", err)
		return
	}
	if token == "" {
		return
	}

	claims, err := p.signer.Validate(token)
	if err != nil {
		p.logger.Info("discarding stored sign-in token", "error", err)
		_ = p.tokens.Clear(ctx)
		return
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		_ = p.tokens.Clear(ctx)
		return
	}

	account, err := p.repos.Accounts().GetByUID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			_ = p.tokens.Clear(ctx)
		}
		p.logger.Warn("failed to restore signed-in account", "uid", claims.Subject, "error", err)
		return
	}

	p.mu.Lock()
	p.current = account
	p.mu.Unlock()
	p.logger.Debug("restored signed-in account", "uid", claims.Subject)
}

// Subscribe registers handler. It is called first with the current
// principal, then on every sign-in and sign-out.
func (p *Provider) Subscribe(handler session.ChangeHandler) session.Unsubscribe {
	if handler == nil {
		return func() {}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	p.nextID++
	sub := &subscription{id: p.nextID, handler: handler}
	sub.active.Store(true)
	p.subs[sub.id] = sub
	p.dispatch.push(delivery{sub: sub, identity: p.current.Identity()})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			p.mu.Lock()
			delete(p.subs, sub.id)
			p.mu.Unlock()
		})
	}
}

// CurrentIdentity returns the signed-in principal or nil.
func (p *Provider) CurrentIdentity() *session.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Identity()
}

// CreateAccount registers a password account and signs it in.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*session.Credential, error) {
	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return nil, session.NewProviderError(session.CodeInvalidEmail, "The email address is badly formatted").WithCause(err)
	}
	if len(password) < session.MinPasswordLength {
		return nil, session.NewProviderError(session.CodeWeakPassword, "Password should be at least 6 characters")
	}

	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return nil, internalError("failed to hash password", err)
	}

	p.authMu.Lock()
	defer p.authMu.Unlock()

	now := p.now()
	var created *Account
	err = p.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := p.repos.Accounts().GetByEmailTx(ctx, tx, email); err == nil {
			return session.NewProviderError(session.CodeEmailInUse, "The email address is already in use by another account")
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		account := &Account{
			ID:           accountID(email, ""),
			Email:        email,
			PasswordHash: hash,
			ProviderID:   ProviderIDPassword,
			CreatedAt:    &now,
			UpdatedAt:    &now,
		}
		created, err = p.repos.Accounts().CreateTx(ctx, tx, account)
		return err
	})
	if err != nil {
		var perr *session.ProviderError
		if goerrors.As(err, &perr) {
			return nil, perr
		}
		return nil, internalError("failed to create account", err)
	}

	p.logger.Info("account created", "uid", created.ID.String(), "email", email)

	if err := p.signIn(ctx, created); err != nil {
		return nil, err
	}

	return &session.Credential{
		Identity:   *created.Identity(),
		ProviderID: ProviderIDPassword,
		IsNewUser:  true,
	}, nil
}

// Login verifies the password and signs the account in. Failed attempts
// are counted and the account is locked out for the cooldown window after
// too many of them.
func (p *Provider) Login(ctx context.Context, email, password string) (*session.Credential, error) {
	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return nil, session.NewProviderError(session.CodeInvalidEmail, "The email address is badly formatted").WithCause(err)
	}

	p.authMu.Lock()
	defer p.authMu.Unlock()

	account, err := p.repos.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, session.NewProviderError(session.CodeUserNotFound, "There is no user record for this email")
		}
		return nil, internalError("failed to retrieve account during login", err)
	}

	if !account.HasPassword() {
		return nil, session.NewProviderError(session.CodeInvalidCredential, "This account signs in with a federated provider")
	}

	now := p.now()
	if account.LoginAttemptAt != nil && IsOutsideThresholdPeriod(*account.LoginAttemptAt, now, p.coolDown) {
		account.LoginAttempts = 0
	}

	if account.LoginAttempts >= p.maxAttempts {
		return nil, session.NewProviderError(session.CodeTooManyRequests, "Too many failed login attempts, try again later")
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if err2 := p.repos.Accounts().TrackAttemptedLogin(ctx, account, now); err2 != nil {
			return nil, internalError("failed to track login attempt", err2)
		}
		return nil, session.NewProviderError(session.CodeWrongPassword, "The password is invalid").WithCause(err)
	}

	if err := p.repos.Accounts().TrackSuccessfulLogin(ctx, account, now); err != nil {
		p.logger.Error("failed to track successful login", "error", err)
	}
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LoggedInAt = &now

	if err := p.signIn(ctx, account); err != nil {
		return nil, err
	}

	return &session.Credential{
		Identity:   *account.Identity(),
		ProviderID: ProviderIDPassword,
	}, nil
}

// FederatedLogin runs the configured federator and signs in the linked
// account, creating it on first use.
func (p *Provider) FederatedLogin(ctx context.Context) (*session.Credential, error) {
	if p.federator == nil {
		return nil, session.NewProviderError(session.CodeOperationDisabled, "Federated sign-in is not configured")
	}

	profile, err := p.federator.Authenticate(ctx)
	if err != nil {
		var perr *session.ProviderError
		if goerrors.As(err, &perr) {
			return nil, perr
		}
		if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
			return nil, session.NewProviderError(session.CodePopupClosed, "The sign-in flow was closed before completing").WithCause(err)
		}
		return nil, session.NewProviderError(session.CodeNetworkFailed, "Federated sign-in failed").WithCause(err)
	}
	if profile != nil && profile.Provider == "" {
		profile.Provider = p.federator.Name()
	}

	p.authMu.Lock()
	defer p.authMu.Unlock()

	decision, err := p.linking(ctx, profile)
	if err != nil {
		return nil, providerOrInternal("failed to evaluate linking policy", err)
	}

	result, err := resolveFederated(ctx, p.repos, profile, decision, p.now())
	if err != nil {
		if profile != nil {
			p.logger.Info("federated sign-in refused", "provider", profile.Provider, "error", err)
		}
		return nil, providerOrInternal("failed to resolve federated account", err)
	}

	if result.IsNewUser {
		p.logger.Info("federated account created", "uid", result.Account.ID.String(), "provider", profile.Provider)
	} else if result.Linked {
		p.logger.Info("federated identity linked", "uid", result.Account.ID.String(), "provider", profile.Provider)
	}

	if err := p.signIn(ctx, result.Account); err != nil {
		return nil, err
	}

	return &session.Credential{
		Identity:   *result.Account.Identity(),
		ProviderID: profile.Provider,
		IsNewUser:  result.IsNewUser,
	}, nil
}

// SignOut forgets the signed-in principal and its stored token.
func (p *Provider) SignOut(ctx context.Context) error {
	p.authMu.Lock()
	defer p.authMu.Unlock()

	if err := p.tokens.Clear(ctx); err != nil {
		return internalError("failed to clear sign-in token", err)
	}

	p.setCurrent(nil)
	return nil
}

// ResetPassword records a reset request and hands it to the mailer.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return session.NewProviderError(session.CodeInvalidEmail, "The email address is badly formatted").WithCause(err)
	}

	account, err := p.repos.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return session.NewProviderError(session.CodeUserNotFound, "There is no user record for this email")
		}
		return internalError("failed to retrieve account for password reset", err)
	}

	now := p.now()
	expires := now.Add(p.resetTTL)
	reset := &PasswordReset{
		ID:        newID(),
		AccountID: account.ID,
		Email:     email,
		Status:    ResetRequestedStatus,
		ExpiresAt: &expires,
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	created, err := p.repos.PasswordResets().Create(ctx, reset)
	if err != nil {
		return internalError("failed to create password reset record", err)
	}

	notice := PasswordResetNotice{
		ResetID:   created.ID.String(),
		Email:     email,
		ExpiresAt: expires,
	}
	if err := p.mailer.SendPasswordReset(ctx, notice); err != nil {
		return session.NewProviderError(session.CodeNetworkFailed, "Failed to send the password reset email").WithCause(err)
	}

	p.logger.Info("password reset requested", "email", email, "reset_id", notice.ResetID)
	return nil
}

// ConfirmPasswordReset stores a new password for the account behind resetID.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, resetID, password string) error {
	if len(password) < session.MinPasswordLength {
		return session.NewProviderError(session.CodeWeakPassword, "Password should be at least 6 characters")
	}

	id, err := uuid.Parse(strings.TrimSpace(resetID))
	if err != nil {
		return session.NewProviderError(session.CodeInvalidActionCode, "The reset code is invalid").WithCause(err)
	}

	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return internalError("failed to hash password", err)
	}

	now := p.now()
	err = p.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		reset := &PasswordReset{}
		if err := tx.NewSelect().Model(reset).Where("?TableAlias.id = ?", id).Limit(1).Scan(ctx); err != nil {
			if repository.IsRecordNotFound(err) {
				return session.NewProviderError(session.CodeInvalidActionCode, "The reset code is invalid")
			}
			return err
		}

		if reset.Status != ResetRequestedStatus {
			return session.NewProviderError(session.CodeInvalidActionCode, "The reset code was already used")
		}

		if reset.Expired(now) {
			return errResetExpired
		}

		if err := p.repos.Accounts().SetPasswordHashTx(ctx, tx, reset.AccountID, hash, now); err != nil {
			return err
		}

		_, err := tx.NewUpdate().Model((*PasswordReset)(nil)).
			Set("status = ?", ResetChangedStatus).
			Set("reset_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", reset.ID).
			Exec(ctx)
		return err
	})

	if goerrors.Is(err, errResetExpired) {
		if _, uerr := p.repos.PasswordResets().Update(ctx, &PasswordReset{
			ID:        id,
			Status:    ResetExpiredStatus,
			UpdatedAt: &now,
		}, repository.UpdateByID(id.String()), repository.UpdateSkipZeroValues()); uerr != nil {
			p.logger.Warn("failed to expire password reset", "reset_id", id.String(), "error", uerr)
		}
		return session.NewProviderError(session.CodeExpiredActionCode, "The reset code has expired")
	}
	if err != nil {
		var perr *session.ProviderError
		if goerrors.As(err, &perr) {
			return perr
		}
		return internalError("failed to reset password", err)
	}

	p.logger.Info("password reset completed", "reset_id", id.String())
	return nil
}

// UpdateProfile changes the display name and photo of uid. Like the
// upstream services it mirrors, no change notification is sent.
func (p *Provider) UpdateProfile(ctx context.Context, uid string, changes session.ProfileChanges) error {
	p.mu.RLock()
	current := p.current
	p.mu.RUnlock()

	if current == nil || current.ID.String() != uid {
		return session.NewProviderError(session.CodeNoCurrentUser, "No user is signed in")
	}

	if err := p.repos.Accounts().UpdateProfile(ctx, current.ID, changes, p.now()); err != nil {
		return internalError("failed to update profile", err)
	}

	p.mu.Lock()
	if p.current != nil && p.current.ID == current.ID {
		updated := *p.current
		updated.DisplayName = changes.DisplayName
		updated.PhotoURL = changes.PhotoURL
		p.current = &updated
	}
	p.mu.Unlock()
	return nil
}

// Close stops change delivery. Pending notifications are dropped.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for id, sub := range p.subs {
		sub.active.Store(false)
		delete(p.subs, id)
	}
	p.mu.Unlock()

	p.dispatch.stop()
	return nil
}

func (p *Provider) signIn(ctx context.Context, account *Account) error {
	token, err := p.signer.Sign(account)
	if err != nil {
		return internalError("failed to issue sign-in token", err)
	}
	if err := p.tokens.Save(ctx, token); err != nil {
		return internalError("failed to store sign-in token", err)
	}
	p.setCurrent(account)
	return nil
}

// setCurrent replaces the principal and queues a notification for every
// subscription. Queuing happens under the lock so the delivery order
// matches the order of changes.
func (p *Provider) setCurrent(account *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = account
	identity := account.Identity()

	items := make([]delivery, 0, len(p.subs))
	for _, sub := range p.subs {
		items = append(items, delivery{sub: sub, identity: identity})
	}
	p.dispatch.push(items...)
}

var errResetExpired = goerrors.New("password reset expired", goerrors.CategoryBadInput).
	WithTextCode("RESET_EXPIRED")

func internalError(message string, err error) *session.ProviderError {
	return session.NewProviderError(session.CodeInternal, message).WithCause(err)
}

// providerOrInternal keeps a provider error from err and wraps anything else
// as internal.
func providerOrInternal(message string, err error) *session.ProviderError {
	var perr *session.ProviderError
	if goerrors.As(err, &perr) {
		return perr
	}
	return internalError(message, err)
}

// accountID derives a stable id from the email, falling back to key and
// finally to a random id.
func accountID(email, key string) uuid.UUID {
	for _, seed := range []string{email, key} {
		if seed == "" {
			continue
		}
		if id, err := hashid.NewUUID(seed); err == nil {
			return id
		}
	}
	return newID()
}

func newID() uuid.UUID {
	return uuid.New()
}
