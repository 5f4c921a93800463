package web

import (
	"context"

	"github.com/goliatone/go-featuregate/gate"
)

var _ gate.FeatureGate = StaticGate(nil)

// StaticGate resolves features from a fixed map. Keys that are not listed
// are enabled.
type StaticGate map[string]bool

func (g StaticGate) Enabled(_ context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	enabled, ok := g[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

// FeatureFlags builds a StaticGate for the features the controller checks.
func FeatureFlags(signup, passwordReset, passwordResetFinalize bool) StaticGate {
	return StaticGate{
		gate.FeatureUsersSignup:                signup,
		gate.FeatureUsersPasswordReset:         passwordReset,
		gate.FeatureUsersPasswordResetFinalize: passwordResetFinalize,
	}
}
