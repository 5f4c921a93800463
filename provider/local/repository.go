package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts persists local principals.
type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	GetByUID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)

	TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error

	UpdateProfile(ctx context.Context, id uuid.UUID, changes session.ProfileChanges, at time.Time) error
	SetPasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, at time.Time) error
}

// FederatedLinks persists links between external and local principals.
type FederatedLinks interface {
	repository.Repository[*FederatedLink]

	FindBySubjectTx(ctx context.Context, tx bun.IDB, provider, subject string) (*FederatedLink, error)
}

// RepositoryManager exposes all repositories used by the provider.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	PasswordResets() repository.Repository[*PasswordReset]
	FederatedLinks() FederatedLinks
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accounts)(nil)

// NewAccountsRepository returns the bun backed accounts repository.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
		GetIdentifierValue: func(a *Account) string {
			if a == nil {
				return ""
			}
			return normalizeEmail(a.Email)
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accounts) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByUID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.GetByUIDTx(ctx, a.db, id)
}

func (a *accounts) GetByUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("login_attempts = ?", account.LoginAttempts+1).
		Set("login_attempt_at = ?", at).
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

// TrackSuccessfulLogin resets the attempt counter. Zero values are written
// explicitly so the cooldown window is cleared.
func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Set("login_attempt_at = NULL").
		Set("login_attempts = 0").
		Where("id = ?", account.ID).
		Exec(ctx)
	return err
}

func (a *accounts) UpdateProfile(ctx context.Context, id uuid.UUID, changes session.ProfileChanges, at time.Time) error {
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("display_name = ?", changes.DisplayName).
		Set("photo_url = ?", changes.PhotoURL).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, id)
}

func (a *accounts) SetPasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, at time.Time) error {
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", hash).
		Set("email_verified = ?", true).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id uuid.UUID) error {
	if res == nil {
		return nil
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}
	return nil
}

// NewPasswordResetsRepository returns the password reset repository.
func NewPasswordResetsRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}

type federatedLinks struct {
	repository.Repository[*FederatedLink]
}

// NewFederatedLinksRepository returns the federated links repository.
func NewFederatedLinksRepository(db *bun.DB) FederatedLinks {
	repo := repository.NewRepository[*FederatedLink](db, repository.ModelHandlers[*FederatedLink]{
		NewRecord: func() *FederatedLink { return &FederatedLink{} },
		GetID: func(l *FederatedLink) uuid.UUID {
			if l == nil {
				return uuid.Nil
			}
			return l.ID
		},
		SetID: func(l *FederatedLink, id uuid.UUID) {
			if l != nil {
				l.ID = id
			}
		},
		GetIdentifier: func() string {
			return "subject"
		},
	})
	return &federatedLinks{Repository: repo}
}

func (f *federatedLinks) FindBySubjectTx(ctx context.Context, tx bun.IDB, provider, subject string) (*FederatedLink, error) {
	record := &FederatedLink{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.subject = ?", subject).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider": provider,
					"subject":  subject,
				})
		}
		return nil, err
	}
	return record, nil
}

type mngr struct {
	db             *bun.DB
	accounts       Accounts
	passwordResets repository.Repository[*PasswordReset]
	federatedLinks FederatedLinks
}

// NewRepositoryManager builds every repository on db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		accounts:       NewAccountsRepository(db),
		passwordResets: NewPasswordResetsRepository(db),
		federatedLinks: NewFederatedLinksRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	if m.federatedLinks == nil {
		return errors.New("repository federatedLinks should be initialized")
	}

	return nil
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) PasswordResets() repository.Repository[*PasswordReset] {
	return m.passwordResets
}

func (m mngr) FederatedLinks() FederatedLinks {
	return m.federatedLinks
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
