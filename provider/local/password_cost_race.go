//go:build race

package local

import "golang.org/x/crypto/bcrypt"

func defaultHashCost() int {
	// Race builds run the provider suites under tight timeouts.
	return bcrypt.DefaultCost
}
