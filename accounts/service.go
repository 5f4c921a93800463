package accounts

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// ConflictMessage is the body message for duplicate accounts.
	ConflictMessage = "User already exists"

	TextCodeUserExists = "USER_ALREADY_EXISTS"
)

// Service creates application users.
type Service struct {
	db     *bun.DB
	users  Users
	logger session.Logger
}

// NewService wires the users repository.
func NewService(db *bun.DB, users Users, opts ...Option) *Service {
	o := buildOptions(opts...)
	_, logger := session.ResolveLogger("accounts", o.loggerProvider, o.logger)

	if users == nil {
		users = NewUsersRepository(db)
	}

	return &Service{
		db:     db,
		users:  users,
		logger: logger,
	}
}

// CreatePayload is the body accepted by POST /users.
type CreatePayload struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	PhotoURL string `json:"photoURL" form:"photoURL"`
	Role     string `json:"role" form:"role"`
}

// Validate runs the payload rules.
func (p CreatePayload) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.PhotoURL, is.URL),
		validation.Field(&p.Role, validation.Length(0, 50)),
	)
	if err != nil {
		return session.NewValidationError(err, "invalid account payload")
	}
	return nil
}

// Record converts the payload, applying the default role.
func (p CreatePayload) Record() session.AccountRecord {
	role := strings.TrimSpace(p.Role)
	if role == "" {
		role = session.DefaultAccountRole
	}
	return session.AccountRecord{
		Name:     strings.TrimSpace(p.Name),
		Email:    normalizeEmail(p.Email),
		PhotoURL: strings.TrimSpace(p.PhotoURL),
		Role:     role,
	}
}

// NewConflictError reports a duplicate account.
func NewConflictError(email string) *goerrors.Error {
	return goerrors.New(ConflictMessage, goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithTextCode(TextCodeUserExists).
		WithMetadata(map[string]any{"email": email})
}

// IsConflict reports whether err is a duplicate account error.
func IsConflict(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeUserExists
}

// Create inserts a user once per email. A second create for the same
// email fails with a conflict and leaves the stored record untouched.
func (s *Service) Create(ctx context.Context, record session.AccountRecord) (*User, error) {
	email := normalizeEmail(record.Email)

	var created *User
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := s.users.GetByEmailTx(ctx, tx, email)
		if err == nil && existing != nil {
			return NewConflictError(email)
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
		}

		user := FromRecord(record)
		user.Email = email
		user.ID = uuid.New()

		created, err = s.users.CreateTx(ctx, tx, user)
		if err != nil {
			if isUniqueViolation(err) {
				return NewConflictError(email)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
		}
		return nil
	})

	if err != nil {
		if IsConflict(err) {
			s.logger.Debug("user already exists", "email", email)
		} else {
			s.logger.Error("create user failed", "email", email, "error", err)
		}
		return nil, err
	}

	s.logger.Info("user created", "email", email, "role", created.Role)
	return created, nil
}

// Get returns the user registered under email.
func (s *Service) Get(ctx context.Context, email string) (*User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, goerrors.New("user not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithTextCode("USER_NOT_FOUND").
				WithMetadata(map[string]any{"email": email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
