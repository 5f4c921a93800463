package session

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// MinPasswordLength is the shortest password accepted by the forms.
const MinPasswordLength = 6

// LoginPayload is the password login form.
type LoginPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate checks the login form.
func (p LoginPayload) Validate() error {
	return NewValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
		validation.Field(&p.Password, validation.Required),
	), "Invalid login request payload")
}

// PasswordResetPayload is the password reset form.
type PasswordResetPayload struct {
	Email string `json:"email" form:"email"`
}

// Validate checks the password reset form.
func (p PasswordResetPayload) Validate() error {
	return NewValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
	), "Invalid password reset request payload")
}

// ProfilePayload is the profile form.
type ProfilePayload struct {
	DisplayName string `json:"display_name" form:"display_name"`
	PhotoURL    string `json:"photo_url" form:"photo_url"`
}

// Validate checks the profile form.
func (p ProfilePayload) Validate() error {
	return NewValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.DisplayName, validation.Required, validation.Length(1, 120)),
		validation.Field(&p.PhotoURL, is.URL),
	), "Invalid profile request payload")
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
