package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/sessiontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activityRecorder struct {
	mu     sync.Mutex
	events []session.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event session.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) types() []session.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func newManager(t *testing.T, provider *sessiontest.FakeProvider, opts ...session.Option) *session.Manager {
	t.Helper()
	manager, err := session.NewManager(provider, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestManagerLoginPropagatesThroughNotifications(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "Ada")
	sink := &activityRecorder{}
	manager := newManager(t, provider, session.WithActivitySink(sink))

	require.True(t, manager.State().Ready())
	require.Nil(t, manager.State().Identity)

	cred, err := manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", cred.Identity.Email)

	state := manager.State()
	require.True(t, state.Authenticated())
	assert.Equal(t, cred.Identity.UID, state.Identity.UID)
	assert.Equal(t, []session.ActivityEventType{session.ActivityEventLoginSuccess}, sink.types())
}

func TestManagerLoginWithWrongPasswordLeavesSessionUnchanged(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "Ada")
	sink := &activityRecorder{}
	manager := newManager(t, provider, session.WithActivitySink(sink))

	before := manager.State()

	_, err := manager.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, session.CodeWrongPassword, session.ProviderCode(err))
	assert.Equal(t, "Invalid email or password", session.UserMessage(err))

	assert.Equal(t, before, manager.State())
	assert.Equal(t, []session.ActivityEventType{session.ActivityEventLoginFailure}, sink.types())
}

func TestManagerLoginUnknownUser(t *testing.T) {
	manager := newManager(t, sessiontest.NewFakeProvider())

	_, err := manager.Login(context.Background(), "nobody@b.com", "secret1")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, "Invalid email or password", session.UserMessage(err))
}

func TestManagerCreateAccountErrors(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("taken@b.com", "secret1", "")
	manager := newManager(t, provider)

	_, err := manager.CreateAccount(context.Background(), "taken@b.com", "secret1")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, "Email already in use", session.UserMessage(err))

	_, err = manager.CreateAccount(context.Background(), "new@b.com", "123")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, session.CodeWeakPassword, session.ProviderCode(err))
}

func TestManagerFederatedLoginPopupClosed(t *testing.T) {
	manager := newManager(t, sessiontest.NewFakeProvider())

	_, err := manager.FederatedLogin(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsProviderUnavailable(err))
	assert.Equal(t, "Google login failed", session.UserMessage(err))
	assert.False(t, manager.State().Authenticated())
}

func TestManagerSignOutClearsIdentity(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "Ada")
	manager := newManager(t, provider)

	_, err := manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.True(t, manager.State().Authenticated())

	require.NoError(t, manager.SignOut(context.Background()))
	assert.Nil(t, manager.State().Identity)
	assert.True(t, manager.State().Ready())
}

func TestManagerSignOutProviderFailure(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.Err[session.OpSignOut] = errors.New("network down")
	manager := newManager(t, provider)

	err := manager.SignOut(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsProviderUnavailable(err))
	assert.Equal(t, "Sign out failed. Try again.", session.UserMessage(err))
}

func TestManagerResetPassword(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "")
	manager := newManager(t, provider)

	require.NoError(t, manager.ResetPassword(context.Background(), "a@b.com"))
	assert.Equal(t, []string{"a@b.com"}, provider.ResetRequests())

	err := manager.ResetPassword(context.Background(), "nobody@b.com")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, "No account found for that email", session.UserMessage(err))
}

func TestManagerUpdateProfileWithoutSession(t *testing.T) {
	manager := newManager(t, sessiontest.NewFakeProvider())
	before := manager.State()

	err := manager.UpdateProfile(context.Background(), "Ada", "")
	require.Error(t, err)
	assert.True(t, session.IsNoActiveSession(err))
	assert.Equal(t, before, manager.State())
}

func TestManagerUpdateProfilePatchesStore(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "")
	manager := newManager(t, provider)

	_, err := manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)

	var observed []string
	manager.Watch(func(st session.State) {
		observed = append(observed, st.Identity.DisplayName)
	})

	require.NoError(t, manager.UpdateProfile(context.Background(), "Ada Lovelace", "https://img.example/ada.png"))

	state := manager.State()
	assert.Equal(t, "Ada Lovelace", state.Identity.DisplayName)
	assert.Equal(t, "https://img.example/ada.png", state.Identity.PhotoURL)
	assert.Equal(t, "a@b.com", state.Identity.Email)
	assert.Equal(t, []string{"Ada Lovelace"}, observed)
}

func TestManagerUpdateProfileProviderFailureLeavesStore(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	provider.AddAccount("a@b.com", "secret1", "Ada")
	manager := newManager(t, provider)

	_, err := manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)

	provider.Err[session.OpUpdateProfile] = errors.New("boom")
	err = manager.UpdateProfile(context.Background(), "Grace", "")
	require.Error(t, err)
	assert.True(t, session.IsProviderUnavailable(err))
	assert.Equal(t, "Ada", manager.State().Identity.DisplayName)
}

// interleavingProvider runs during after the profile write is accepted and
// before UpdateProfile returns, the way a provider notification can land
// while the command is still in flight.
type interleavingProvider struct {
	*sessiontest.FakeProvider
	during func()
}

func (p *interleavingProvider) UpdateProfile(ctx context.Context, uid string, changes session.ProfileChanges) error {
	if err := p.FakeProvider.UpdateProfile(ctx, uid, changes); err != nil {
		return err
	}
	if p.during != nil {
		p.during()
	}
	return nil
}

func TestManagerUpdateProfileDropsPatchAfterSignOut(t *testing.T) {
	fake := sessiontest.NewFakeProvider()
	fake.AddAccount("a@b.com", "secret1", "Ada")
	provider := &interleavingProvider{FakeProvider: fake}

	manager, err := session.NewManager(provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	_, err = manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	require.True(t, manager.State().Authenticated())

	provider.during = func() {
		fake.SetCurrent(nil)
		fake.Emit(nil)
	}

	require.NoError(t, manager.UpdateProfile(context.Background(), "New", ""))

	state := manager.State()
	assert.Nil(t, state.Identity)
	assert.False(t, state.Authenticated())
}

func TestManagerUpdateProfileDropsPatchForOtherPrincipal(t *testing.T) {
	fake := sessiontest.NewFakeProvider()
	fake.AddAccount("a@b.com", "secret1", "Ada")
	grace := fake.AddAccount("g@b.com", "secret2", "Grace")
	provider := &interleavingProvider{FakeProvider: fake}

	manager, err := session.NewManager(provider)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	_, err = manager.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)

	provider.during = func() {
		fake.Emit(&grace)
	}

	require.NoError(t, manager.UpdateProfile(context.Background(), "New", ""))

	state := manager.State()
	require.NotNil(t, state.Identity)
	assert.Equal(t, grace.UID, state.Identity.UID)
	assert.Equal(t, "Grace", state.Identity.DisplayName)
}

func TestManagerCloseReleasesSubscription(t *testing.T) {
	provider := sessiontest.NewFakeProvider()
	manager, err := session.NewManager(provider)
	require.NoError(t, err)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.Equal(t, 1, provider.UnsubscribeCalls())
}
