// Package session keeps a process wide authentication session in sync with
// an external identity provider.
//
// Store:
//   - NewStore subscribes once to the provider. The first notification moves
//     the store from loading to ready, every notification replaces the
//     identity. Close releases the subscription.
//   - Observers registered with Watch see changes in order, one at a time.
//     Await and WaitReady let callers block until the session reflects a
//     command instead of assuming the command already updated it.
//
// Commands:
//   - Commands wrap a single provider call each and classify failures into
//     credential, provider unavailable and no active session errors.
//   - UpdateProfile is the only command that patches the store directly.
//
// Registration flows:
//   - RegisterAccountHandler and FederatedSignInHandler are go-command
//     commanders that create or sign in a principal and mirror the account
//     into the application database. Mirror conflicts count as success, other
//     mirror failures are reported to the ActivitySink and logged.
package session
