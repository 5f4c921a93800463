package local

import (
	"time"

	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProviderIDPassword identifies accounts created with email and password.
const ProviderIDPassword = "password"

// Account is a principal known to the local provider.
type Account struct {
	bun.BaseModel  `bun:"table:auth_accounts,alias:acc"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName    string     `bun:"display_name" json:"display_name,omitempty"`
	PhotoURL       string     `bun:"photo_url" json:"photo_url,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	ProviderID     string     `bun:"provider_id,notnull" json:"provider_id,omitempty"`
	EmailVerified  bool       `bun:"email_verified" json:"email_verified"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Identity converts the account to the session view.
func (a *Account) Identity() *session.Identity {
	if a == nil {
		return nil
	}
	return &session.Identity{
		UID:           a.ID.String(),
		DisplayName:   a.DisplayName,
		Email:         a.Email,
		PhotoURL:      a.PhotoURL,
		ProviderID:    a.ProviderID,
		EmailVerified: a.EmailVerified,
	}
}

// HasPassword reports whether the account can sign in with a password.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != ""
}

const (
	// ResetRequestedStatus is set when the reset mail is dispatched.
	ResetRequestedStatus = "requested"
	// ResetExpiredStatus is set when a confirmation arrives too late.
	ResetExpiredStatus = "expired"
	// ResetChangedStatus is set once the new password is stored.
	ResetChangedStatus = "changed"
)

// PasswordReset tracks a reset request sent by mail.
type PasswordReset struct {
	bun.BaseModel `bun:"table:auth_password_resets,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	ExpiresAt     *time.Time `bun:"expires_at" json:"expires_at,omitempty"`
	ResetAt       *time.Time `bun:"reset_at,nullzero" json:"reset_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Expired reports whether the reset can no longer be confirmed at now.
func (r *PasswordReset) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// FederatedLink ties an external principal to a local account.
type FederatedLink struct {
	bun.BaseModel `bun:"table:auth_federated_links,alias:fl"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Provider      string     `bun:"provider,notnull" json:"provider,omitempty"`
	Subject       string     `bun:"subject,notnull" json:"subject,omitempty"`
	Email         string     `bun:"email" json:"email,omitempty"`
	Name          string     `bun:"name" json:"name,omitempty"`
	PictureURL    string     `bun:"picture_url" json:"picture_url,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}
