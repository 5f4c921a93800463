package web

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	session "github.com/goliatone/go-session"
)

// PasswordResetConfirmPayload completes a password reset.
type PasswordResetConfirmPayload struct {
	ResetID         string `json:"reset_id" form:"reset_id"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirm_password" form:"confirm_password"`
}

func (p PasswordResetConfirmPayload) Validate() error {
	return session.NewValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.ResetID, validation.Required),
		validation.Field(&p.Password, validation.Required, validation.Length(session.MinPasswordLength, 0)),
		validation.Field(&p.ConfirmPassword,
			validation.Required,
			validation.In(p.Password).Error("passwords do not match"),
		),
	), "Invalid password reset payload")
}
