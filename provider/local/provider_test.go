package local_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/provider/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

type testPersistenceConfig struct {
	server string
}

func (c testPersistenceConfig) GetDebug() bool                { return false }
func (c testPersistenceConfig) GetDriver() string             { return sqliteshim.ShimName }
func (c testPersistenceConfig) GetServer() string             { return c.server }
func (c testPersistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (c testPersistenceConfig) GetOtelIdentifier() string     { return "local-provider-tests" }

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:local-provider-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{server: dsn}, sqlDB, sqlitedialect.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	migrations, err := local.MigrationsFor(local.DialectSQLite)
	require.NoError(t, err)
	client.RegisterSQLMigrations(migrations)
	require.NoError(t, client.Migrate(context.Background()))

	return client.DB()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testKey = []byte("test-signing-key-0123456789abcdef")

func newProvider(t *testing.T, db *bun.DB, opts ...local.Option) *local.Provider {
	t.Helper()
	opts = append([]local.Option{
		local.WithHashCost(bcrypt.MinCost),
		local.WithSigningKey(testKey),
	}, opts...)
	p, err := local.New(context.Background(), db, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func subscribe(t *testing.T, p *local.Provider) <-chan *session.Identity {
	t.Helper()
	ch := make(chan *session.Identity, 16)
	unsubscribe := p.Subscribe(func(identity *session.Identity) {
		ch <- identity
	})
	t.Cleanup(unsubscribe)
	return ch
}

func next(t *testing.T, ch <-chan *session.Identity) *session.Identity {
	t.Helper()
	select {
	case identity := <-ch:
		return identity
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a change notification")
		return nil
	}
}

func assertQuiet(t *testing.T, ch <-chan *session.Identity) {
	t.Helper()
	select {
	case identity := <-ch:
		t.Fatalf("unexpected change notification: %+v", identity)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireProviderCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var perr *session.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, code, perr.Code)
}

func TestCreateAccountSignsIn(t *testing.T) {
	p := newProvider(t, newTestDB(t))
	changes := subscribe(t, p)

	assert.Nil(t, next(t, changes), "first report is the empty session")

	cred, err := p.CreateAccount(context.Background(), " Ada@Example.com ", "secret1")
	require.NoError(t, err)
	assert.True(t, cred.IsNewUser)
	assert.Equal(t, local.ProviderIDPassword, cred.ProviderID)
	assert.Equal(t, "ada@example.com", cred.Identity.Email)
	assert.NotEmpty(t, cred.Identity.UID)

	identity := next(t, changes)
	require.NotNil(t, identity)
	assert.Equal(t, cred.Identity.UID, identity.UID)
	assert.Equal(t, cred.Identity.UID, p.CurrentIdentity().UID)
}

func TestCreateAccountIDIsStablePerEmail(t *testing.T) {
	first, err := newProvider(t, newTestDB(t)).CreateAccount(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	second, err := newProvider(t, newTestDB(t)).CreateAccount(context.Background(), "ada@example.com", "secret2")
	require.NoError(t, err)

	assert.Equal(t, first.Identity.UID, second.Identity.UID)
}

func TestCreateAccountRejections(t *testing.T) {
	p := newProvider(t, newTestDB(t))
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	_, err = p.CreateAccount(ctx, "ADA@example.com", "secret1")
	requireProviderCode(t, err, session.CodeEmailInUse)

	_, err = p.CreateAccount(ctx, "grace@example.com", "12345")
	requireProviderCode(t, err, session.CodeWeakPassword)

	_, err = p.CreateAccount(ctx, "not-an-email", "secret1")
	requireProviderCode(t, err, session.CodeInvalidEmail)

	assert.True(t, session.IsCredentialError(session.ClassifyProviderError(session.OpCreateAccount, err)))
}

func TestLogin(t *testing.T) {
	db := newTestDB(t)
	p := newProvider(t, db)
	ctx := context.Background()

	created, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, p.CurrentIdentity())

	_, err = p.Login(ctx, "ada@example.com", "wrong")
	requireProviderCode(t, err, session.CodeWrongPassword)
	assert.Nil(t, p.CurrentIdentity())

	_, err = p.Login(ctx, "nobody@example.com", "secret1")
	requireProviderCode(t, err, session.CodeUserNotFound)

	cred, err := p.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.False(t, cred.IsNewUser)
	assert.Equal(t, created.Identity.UID, cred.Identity.UID)
	assert.Equal(t, created.Identity.UID, p.CurrentIdentity().UID)
}

func TestLoginCooldown(t *testing.T) {
	clock := newTestClock()
	p := newProvider(t, newTestDB(t),
		local.WithClock(clock.Now),
		local.WithLoginCooldown(2, time.Hour),
	)
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	for range 2 {
		_, err = p.Login(ctx, "ada@example.com", "wrong")
		requireProviderCode(t, err, session.CodeWrongPassword)
	}

	_, err = p.Login(ctx, "ada@example.com", "secret1")
	requireProviderCode(t, err, session.CodeTooManyRequests)
	assert.True(t, session.IsProviderUnavailable(session.ClassifyProviderError(session.OpLogin, err)))

	clock.Advance(2 * time.Hour)

	_, err = p.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
}

func TestSignOutNotifiesAndClearsToken(t *testing.T) {
	tokens := local.NewMemoryTokenStore()
	p := newProvider(t, newTestDB(t), local.WithTokenStore(tokens))
	changes := subscribe(t, p)
	ctx := context.Background()

	assert.Nil(t, next(t, changes))

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, next(t, changes))

	token, err := tokens.Load(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, next(t, changes))

	token, err = tokens.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestRestoresSignedInAccount(t *testing.T) {
	db := newTestDB(t)
	tokens := local.NewFileTokenStore(t.TempDir() + "/session.token")
	ctx := context.Background()

	first := newProvider(t, db, local.WithTokenStore(tokens))
	cred, err := first.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newProvider(t, db, local.WithTokenStore(tokens))
	require.NotNil(t, second.CurrentIdentity())
	assert.Equal(t, cred.Identity.UID, second.CurrentIdentity().UID)

	identity := next(t, subscribe(t, second))
	require.NotNil(t, identity)
	assert.Equal(t, "ada@example.com", identity.Email)
}

func TestRestoreDiscardsForeignToken(t *testing.T) {
	db := newTestDB(t)
	tokens := local.NewMemoryTokenStore()
	ctx := context.Background()

	first := newProvider(t, db, local.WithTokenStore(tokens))
	_, err := first.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	second := newProvider(t, db,
		local.WithTokenStore(tokens),
		local.WithSigningKey([]byte("another-key-0123456789abcdefghij")),
	)
	assert.Nil(t, second.CurrentIdentity())

	token, err := tokens.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func googleFederator(profile local.FederatedProfile, calls *int) local.Federator {
	return local.FederatorFunc{
		Provider: "google.com",
		Fn: func(ctx context.Context) (*local.FederatedProfile, error) {
			*calls++
			p := profile
			return &p, nil
		},
	}
}

func TestFederatedLoginCreatesOnce(t *testing.T) {
	calls := 0
	p := newProvider(t, newTestDB(t), local.WithFederator(googleFederator(local.FederatedProfile{
		Subject:       "g-123",
		Email:         "grace@example.com",
		EmailVerified: true,
		Name:          "Grace Hopper",
		PictureURL:    "https://example.com/grace.png",
	}, &calls)))
	ctx := context.Background()

	cred, err := p.FederatedLogin(ctx)
	require.NoError(t, err)
	assert.True(t, cred.IsNewUser)
	assert.Equal(t, "google.com", cred.ProviderID)
	assert.Equal(t, "Grace Hopper", cred.Identity.DisplayName)
	assert.True(t, cred.Identity.EmailVerified)

	require.NoError(t, p.SignOut(ctx))

	again, err := p.FederatedLogin(ctx)
	require.NoError(t, err)
	assert.False(t, again.IsNewUser)
	assert.Equal(t, cred.Identity.UID, again.Identity.UID)
	assert.Equal(t, 2, calls)
}

func TestFederatedLoginLinksExistingAccount(t *testing.T) {
	calls := 0
	p := newProvider(t, newTestDB(t), local.WithFederator(googleFederator(local.FederatedProfile{
		Subject:       "g-456",
		Email:         "Ada@example.com",
		EmailVerified: true,
		Name:          "Ada",
	}, &calls)))
	ctx := context.Background()

	created, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	cred, err := p.FederatedLogin(ctx)
	require.NoError(t, err)
	assert.False(t, cred.IsNewUser)
	assert.Equal(t, created.Identity.UID, cred.Identity.UID)
}

func TestFederatedLoginRefusesUnverifiedEmailMatch(t *testing.T) {
	calls := 0
	p := newProvider(t, newTestDB(t), local.WithFederator(googleFederator(local.FederatedProfile{
		Subject:       "attacker-1",
		Email:         "victim@example.com",
		EmailVerified: false,
		Name:          "Mallory",
	}, &calls)))
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "victim@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	_, err = p.FederatedLogin(ctx)
	requireProviderCode(t, err, session.CodeAccountExists)
	assert.Nil(t, p.CurrentIdentity())
	assert.True(t, session.IsCredentialError(session.ClassifyProviderError(session.OpFederatedLogin, err)))

	// The refused attempt must not leave a link behind.
	_, err = p.FederatedLogin(ctx)
	requireProviderCode(t, err, session.CodeAccountExists)
	assert.Nil(t, p.CurrentIdentity())

	_, err = p.Login(ctx, "victim@example.com", "secret1")
	require.NoError(t, err)
}

func TestFederatedLoginLinkingPolicies(t *testing.T) {
	ctx := context.Background()
	verified := local.FederatedProfile{
		Subject:       "g-789",
		Email:         "ada@example.com",
		EmailVerified: true,
		Name:          "Ada",
	}

	t.Run("signup only never links by email", func(t *testing.T) {
		calls := 0
		p := newProvider(t, newTestDB(t),
			local.WithFederator(googleFederator(verified, &calls)),
			local.WithLinkingPolicy(local.PolicySignupOnly()),
		)
		_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
		require.NoError(t, err)
		require.NoError(t, p.SignOut(ctx))

		_, err = p.FederatedLogin(ctx)
		requireProviderCode(t, err, session.CodeAccountExists)
	})

	t.Run("email match refuses unknown principals", func(t *testing.T) {
		calls := 0
		p := newProvider(t, newTestDB(t),
			local.WithFederator(googleFederator(verified, &calls)),
			local.WithLinkingPolicy(local.PolicyEmailMatch()),
		)

		_, err := p.FederatedLogin(ctx)
		requireProviderCode(t, err, session.CodeOperationDisabled)
		assert.Nil(t, p.CurrentIdentity())
	})

	t.Run("policy errors are reported", func(t *testing.T) {
		calls := 0
		p := newProvider(t, newTestDB(t),
			local.WithFederator(googleFederator(verified, &calls)),
			local.WithLinkingPolicy(func(context.Context, *local.FederatedProfile) (local.LinkDecision, error) {
				return local.LinkDecision{}, fmt.Errorf("policy store offline")
			}),
		)

		_, err := p.FederatedLogin(ctx)
		requireProviderCode(t, err, session.CodeInternal)
	})
}

func TestFederatedLoginFailures(t *testing.T) {
	ctx := context.Background()

	_, err := newProvider(t, newTestDB(t)).FederatedLogin(ctx)
	requireProviderCode(t, err, session.CodeOperationDisabled)

	closed := local.FederatorFunc{
		Provider: "google.com",
		Fn: func(ctx context.Context) (*local.FederatedProfile, error) {
			return nil, context.Canceled
		},
	}
	p := newProvider(t, newTestDB(t), local.WithFederator(closed))
	_, err = p.FederatedLogin(ctx)
	requireProviderCode(t, err, session.CodePopupClosed)
	assert.Nil(t, p.CurrentIdentity())
}

func TestPasswordReset(t *testing.T) {
	clock := newTestClock()
	var notices []local.PasswordResetNotice
	mailer := local.MailerFunc(func(ctx context.Context, notice local.PasswordResetNotice) error {
		notices = append(notices, notice)
		return nil
	})

	p := newProvider(t, newTestDB(t), local.WithMailer(mailer), local.WithClock(clock.Now))
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))

	err = p.ResetPassword(ctx, "nobody@example.com")
	requireProviderCode(t, err, session.CodeUserNotFound)
	assert.Empty(t, notices)

	require.NoError(t, p.ResetPassword(ctx, "ada@example.com"))
	require.Len(t, notices, 1)
	assert.Equal(t, "ada@example.com", notices[0].Email)
	assert.Equal(t, clock.Now().Add(local.DefaultResetTTL), notices[0].ExpiresAt)

	require.NoError(t, p.ConfirmPasswordReset(ctx, notices[0].ResetID, "changed1"))

	err = p.ConfirmPasswordReset(ctx, notices[0].ResetID, "changed2")
	requireProviderCode(t, err, session.CodeInvalidActionCode)

	_, err = p.Login(ctx, "ada@example.com", "secret1")
	requireProviderCode(t, err, session.CodeWrongPassword)

	_, err = p.Login(ctx, "ada@example.com", "changed1")
	require.NoError(t, err)
}

func TestPasswordResetExpires(t *testing.T) {
	clock := newTestClock()
	var notice local.PasswordResetNotice
	mailer := local.MailerFunc(func(ctx context.Context, n local.PasswordResetNotice) error {
		notice = n
		return nil
	})

	p := newProvider(t, newTestDB(t), local.WithMailer(mailer), local.WithClock(clock.Now))
	ctx := context.Background()

	_, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, p.ResetPassword(ctx, "ada@example.com"))

	clock.Advance(local.DefaultResetTTL + time.Minute)

	err = p.ConfirmPasswordReset(ctx, notice.ResetID, "changed1")
	requireProviderCode(t, err, session.CodeExpiredActionCode)

	err = p.ConfirmPasswordReset(ctx, "not-a-uuid", "changed1")
	requireProviderCode(t, err, session.CodeInvalidActionCode)
}

func TestUpdateProfileDoesNotNotify(t *testing.T) {
	p := newProvider(t, newTestDB(t))
	changes := subscribe(t, p)
	ctx := context.Background()

	assert.Nil(t, next(t, changes))

	err := p.UpdateProfile(ctx, "uid-x", session.ProfileChanges{DisplayName: "Nobody"})
	requireProviderCode(t, err, session.CodeNoCurrentUser)

	cred, err := p.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NotNil(t, next(t, changes))

	require.NoError(t, p.UpdateProfile(ctx, cred.Identity.UID, session.ProfileChanges{
		DisplayName: "Ada Lovelace",
		PhotoURL:    "https://example.com/ada.png",
	}))
	assertQuiet(t, changes)

	current := p.CurrentIdentity()
	assert.Equal(t, "Ada Lovelace", current.DisplayName)
	assert.Equal(t, "https://example.com/ada.png", current.PhotoURL)

	require.NoError(t, p.SignOut(ctx))
	assert.Nil(t, next(t, changes))

	again, err := p.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", again.Identity.DisplayName)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := newProvider(t, newTestDB(t))
	ch := make(chan *session.Identity, 4)
	unsubscribe := p.Subscribe(func(identity *session.Identity) { ch <- identity })

	assert.Nil(t, next(t, ch))
	unsubscribe()
	unsubscribe()

	_, err := p.CreateAccount(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	assertQuiet(t, ch)
}

func TestManagerFollowsProvider(t *testing.T) {
	p := newProvider(t, newTestDB(t))
	manager, err := session.NewManager(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := manager.WaitReady(ctx)
	require.NoError(t, err)
	assert.False(t, state.Authenticated())

	cred, err := manager.CreateAccount(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	state, err = manager.Await(ctx, func(s session.State) bool { return s.Authenticated() })
	require.NoError(t, err)
	assert.Equal(t, cred.Identity.UID, state.Identity.UID)

	require.NoError(t, manager.UpdateProfile(ctx, "Ada", ""))
	assert.Equal(t, "Ada", manager.State().Identity.DisplayName)

	_, err = manager.Login(ctx, "ada@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, session.IsCredentialError(err))
	assert.Equal(t, cred.Identity.UID, manager.State().Identity.UID)

	require.NoError(t, manager.SignOut(ctx))
	state, err = manager.Await(ctx, func(s session.State) bool { return !s.Authenticated() })
	require.NoError(t, err)
	assert.Nil(t, state.Identity)
}
