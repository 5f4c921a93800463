package local

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	session "github.com/goliatone/go-session"
	"github.com/uptrace/bun"
)

// FederatedProfile is the principal returned by an external identity service.
type FederatedProfile struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	PictureURL    string
}

// Federator runs an interactive sign-in against an external identity service.
type Federator interface {
	Name() string
	Authenticate(ctx context.Context) (*FederatedProfile, error)
}

// FederatorFunc adapts a function to Federator.
type FederatorFunc struct {
	Provider string
	Fn       func(ctx context.Context) (*FederatedProfile, error)
}

func (f FederatorFunc) Name() string { return f.Provider }

func (f FederatorFunc) Authenticate(ctx context.Context) (*FederatedProfile, error) {
	return f.Fn(ctx)
}

// LinkDecision controls how a federated profile with no known link is
// resolved against local accounts.
type LinkDecision struct {
	// AllowSignup creates an account when no account has the profile email.
	AllowSignup bool
	// AllowEmailLinking links the profile into an existing account with the
	// same email.
	AllowEmailLinking bool
	// RequireEmailVerified refuses email linking unless the issuer verified
	// the email.
	RequireEmailVerified bool
}

// LinkingPolicy decides how a federated profile is resolved.
type LinkingPolicy func(ctx context.Context, profile *FederatedProfile) (LinkDecision, error)

// PolicyAutoCreate signs up unknown principals and links verified emails.
func PolicyAutoCreate() LinkingPolicy {
	return func(context.Context, *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			AllowSignup:          true,
			AllowEmailLinking:    true,
			RequireEmailVerified: true,
		}, nil
	}
}

// PolicyEmailMatch only links verified emails to existing accounts.
func PolicyEmailMatch() LinkingPolicy {
	return func(context.Context, *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			AllowEmailLinking:    true,
			RequireEmailVerified: true,
		}, nil
	}
}

// PolicySignupOnly creates accounts for new principals and never links an
// existing account by email.
func PolicySignupOnly() LinkingPolicy {
	return func(context.Context, *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			AllowSignup:          true,
			RequireEmailVerified: true,
		}, nil
	}
}

// linkResult is the account resolved for a federated profile.
type linkResult struct {
	Account   *Account
	IsNewUser bool
	Linked    bool
}

// resolveFederated finds the account for profile. A known link wins, then an
// existing account with the same email is linked when decision allows it,
// otherwise a new account is created and linked.
func resolveFederated(ctx context.Context, repos RepositoryManager, profile *FederatedProfile, decision LinkDecision, now time.Time) (*linkResult, error) {
	if profile == nil || strings.TrimSpace(profile.Subject) == "" {
		return nil, goerrors.New("federated profile is missing a subject", goerrors.CategoryBadInput).
			WithTextCode("FEDERATED_PROFILE_INVALID")
	}

	var result *linkResult
	err := repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		link, err := repos.FederatedLinks().FindBySubjectTx(ctx, tx, profile.Provider, profile.Subject)
		if err == nil && link != nil {
			account, err := repos.Accounts().GetByUIDTx(ctx, tx, link.AccountID)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find linked account")
			}
			result = &linkResult{Account: account}
			return nil
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find federated link")
		}

		email := normalizeEmail(profile.Email)
		if email != "" {
			account, err := repos.Accounts().GetByEmailTx(ctx, tx, email)
			if err == nil && account != nil {
				if !decision.AllowEmailLinking || (decision.RequireEmailVerified && !profile.EmailVerified) {
					return session.NewProviderError(session.CodeAccountExists, "An account already exists with the same email address")
				}
				if err := createLink(ctx, tx, repos, account, profile, now); err != nil {
					return err
				}
				result = &linkResult{Account: account, Linked: true}
				return nil
			}
			if err != nil && !repository.IsRecordNotFound(err) {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find account by email")
			}
		}

		if !decision.AllowSignup {
			return session.NewProviderError(session.CodeOperationDisabled, "Federated sign-up is not allowed")
		}

		account := &Account{
			ID:            accountID(email, profile.Provider+":"+profile.Subject),
			Email:         email,
			DisplayName:   profile.Name,
			PhotoURL:      profile.PictureURL,
			ProviderID:    profile.Provider,
			EmailVerified: profile.EmailVerified,
			CreatedAt:     &now,
			UpdatedAt:     &now,
		}
		created, err := repos.Accounts().CreateTx(ctx, tx, account)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create federated account")
		}
		if err := createLink(ctx, tx, repos, created, profile, now); err != nil {
			return err
		}
		result = &linkResult{Account: created, IsNewUser: true, Linked: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func createLink(ctx context.Context, tx bun.IDB, repos RepositoryManager, account *Account, profile *FederatedProfile, now time.Time) error {
	link := &FederatedLink{
		ID:         newID(),
		AccountID:  account.ID,
		Provider:   profile.Provider,
		Subject:    profile.Subject,
		Email:      normalizeEmail(profile.Email),
		Name:       profile.Name,
		PictureURL: profile.PictureURL,
		CreatedAt:  &now,
		UpdatedAt:  &now,
	}
	if _, err := repos.FederatedLinks().CreateTx(ctx, tx, link); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to link federated account").
			WithMetadata(map[string]any{
				"provider": profile.Provider,
				"subject":  profile.Subject,
			})
	}
	return nil
}
