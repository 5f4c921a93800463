package local

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	errEmptyPassword      = errors.New("password must not be empty")
	errMismatchedPassword = errors.New("password does not match")
)

// DefaultHashCost is the bcrypt cost used for stored passwords.
const DefaultHashCost = 14

// HashPassword will generate a password hash
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultHashCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errMismatchedPassword
		}
		return err
	}
	return nil
}

// IsWithinThresholdPeriod checks if t happened less than window before now.
func IsWithinThresholdPeriod(t, now time.Time, window time.Duration) bool {
	return t.After(now.Add(-window))
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(t, now time.Time, window time.Duration) bool {
	return !IsWithinThresholdPeriod(t, now, window)
}
