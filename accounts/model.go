package accounts

import (
	"time"

	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the application database record of a principal.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name"`
	Email         string     `bun:"email,notnull,unique" json:"email"`
	PhotoURL      string     `bun:"photo_url" json:"photoURL"`
	Role          string     `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// FromRecord builds a user from the mirrored account record.
func FromRecord(record session.AccountRecord) *User {
	return &User{
		Name:     record.Name,
		Email:    record.Email,
		PhotoURL: record.PhotoURL,
		Role:     record.Role,
	}
}

// Record returns the mirrored view of the user.
func (u *User) Record() session.AccountRecord {
	if u == nil {
		return session.AccountRecord{}
	}
	return session.AccountRecord{
		Name:     u.Name,
		Email:    u.Email,
		PhotoURL: u.PhotoURL,
		Role:     u.Role,
	}
}
