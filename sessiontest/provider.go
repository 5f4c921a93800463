// Package sessiontest provides an in-memory identity provider for tests.
package sessiontest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	session "github.com/goliatone/go-session"
)

var _ session.IdentityProvider = (*FakeProvider)(nil)

type fakeAccount struct {
	password string
	identity session.Identity
}

// FakeProvider is a scriptable identity provider. Notifications are
// delivered synchronously, in order, from the goroutine that caused them.
type FakeProvider struct {
	mu       sync.Mutex
	emitMu   sync.Mutex
	accounts map[string]*fakeAccount
	current  *session.Identity
	seq      int

	handlers     map[int]session.ChangeHandler
	handlerOrder []int
	nextHandler  int

	subscribeCalls   int
	unsubscribeCalls int
	resetRequests    []string

	// NotifyOnSubscribe delivers the current identity right after Subscribe.
	NotifyOnSubscribe bool
	// AutoNotify emits a notification after successful sign in, account
	// creation and sign out.
	AutoNotify bool
	// FederatedIdentity is returned by FederatedLogin. Nil simulates a
	// closed popup.
	FederatedIdentity *session.Identity
	// Err, when set for an operation name, is returned by that operation.
	Err map[string]error

	seenFederated map[string]bool
}

// NewFakeProvider returns a provider that notifies on subscribe and after
// every successful session change.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		accounts:          make(map[string]*fakeAccount),
		handlers:          make(map[int]session.ChangeHandler),
		seenFederated:     make(map[string]bool),
		Err:               make(map[string]error),
		NotifyOnSubscribe: true,
		AutoNotify:        true,
	}
}

// AddAccount seeds a password account and returns its identity.
func (p *FakeProvider) AddAccount(email, password, displayName string) session.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addAccountLocked(email, password, displayName)
}

func (p *FakeProvider) addAccountLocked(email, password, displayName string) session.Identity {
	p.seq++
	identity := session.Identity{
		UID:         fmt.Sprintf("uid-%d", p.seq),
		Email:       email,
		DisplayName: displayName,
		ProviderID:  "password",
	}
	p.accounts[strings.ToLower(email)] = &fakeAccount{password: password, identity: identity}
	return identity
}

// SetCurrent changes the current principal without notifying.
func (p *FakeProvider) SetCurrent(identity *session.Identity) {
	p.mu.Lock()
	p.current = identity.Clone()
	p.mu.Unlock()
}

// Emit delivers identity to every active subscriber.
func (p *FakeProvider) Emit(identity *session.Identity) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	handlers := make([]session.ChangeHandler, 0, len(p.handlerOrder))
	for _, id := range p.handlerOrder {
		if h, ok := p.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(identity.Clone())
	}
}

// EmitCurrent delivers the current principal to every subscriber.
func (p *FakeProvider) EmitCurrent() {
	p.Emit(p.CurrentIdentity())
}

// SubscribeCalls returns how many times Subscribe was called.
func (p *FakeProvider) SubscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribeCalls
}

// UnsubscribeCalls returns how many subscriptions were released.
func (p *FakeProvider) UnsubscribeCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribeCalls
}

// ActiveSubscriptions returns the number of live subscriptions.
func (p *FakeProvider) ActiveSubscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

// ResetRequests returns the emails passed to ResetPassword.
func (p *FakeProvider) ResetRequests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resetRequests...)
}

// Account returns the stored identity for email.
func (p *FakeProvider) Account(email string) (session.Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		return session.Identity{}, false
	}
	return acc.identity, true
}

func (p *FakeProvider) Subscribe(handler session.ChangeHandler) session.Unsubscribe {
	p.mu.Lock()
	p.subscribeCalls++
	p.nextHandler++
	id := p.nextHandler
	p.handlers[id] = handler
	p.handlerOrder = append(p.handlerOrder, id)
	current := p.current.Clone()
	notify := p.NotifyOnSubscribe
	p.mu.Unlock()

	if notify {
		p.emitMu.Lock()
		handler(current)
		p.emitMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.unsubscribeCalls++
			delete(p.handlers, id)
			for i, hid := range p.handlerOrder {
				if hid == id {
					p.handlerOrder = append(p.handlerOrder[:i], p.handlerOrder[i+1:]...)
					break
				}
			}
		})
	}
}

func (p *FakeProvider) CurrentIdentity() *session.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

func (p *FakeProvider) CreateAccount(ctx context.Context, email, password string) (*session.Credential, error) {
	if err := p.failure(session.OpCreateAccount); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if _, exists := p.accounts[strings.ToLower(email)]; exists {
		p.mu.Unlock()
		return nil, session.NewProviderError(session.CodeEmailInUse, "email already in use")
	}
	if len(password) < session.MinPasswordLength {
		p.mu.Unlock()
		return nil, session.NewProviderError(session.CodeWeakPassword, "password too short")
	}
	identity := p.addAccountLocked(email, password, "")
	p.current = identity.Clone()
	p.mu.Unlock()

	p.autoNotify()
	return &session.Credential{Identity: identity, ProviderID: "password", IsNewUser: true}, nil
}

func (p *FakeProvider) Login(ctx context.Context, email, password string) (*session.Credential, error) {
	if err := p.failure(session.OpLogin); err != nil {
		return nil, err
	}

	p.mu.Lock()
	acc, ok := p.accounts[strings.ToLower(email)]
	if !ok {
		p.mu.Unlock()
		return nil, session.NewProviderError(session.CodeUserNotFound, "no such account")
	}
	if acc.password != password {
		p.mu.Unlock()
		return nil, session.NewProviderError(session.CodeWrongPassword, "wrong password")
	}
	identity := acc.identity
	p.current = identity.Clone()
	p.mu.Unlock()

	p.autoNotify()
	return &session.Credential{Identity: identity, ProviderID: "password"}, nil
}

func (p *FakeProvider) FederatedLogin(ctx context.Context) (*session.Credential, error) {
	if err := p.failure(session.OpFederatedLogin); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.FederatedIdentity == nil {
		p.mu.Unlock()
		return nil, session.NewProviderError(session.CodePopupClosed, "popup closed")
	}
	identity := *p.FederatedIdentity
	isNew := !p.seenFederated[identity.UID]
	p.seenFederated[identity.UID] = true
	p.current = identity.Clone()
	p.mu.Unlock()

	p.autoNotify()
	return &session.Credential{Identity: identity, ProviderID: identity.ProviderID, IsNewUser: isNew}, nil
}

func (p *FakeProvider) SignOut(ctx context.Context) error {
	if err := p.failure(session.OpSignOut); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	p.autoNotify()
	return nil
}

func (p *FakeProvider) ResetPassword(ctx context.Context, email string) error {
	if err := p.failure(session.OpResetPassword); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[strings.ToLower(email)]; !ok {
		return session.NewProviderError(session.CodeUserNotFound, "no such account")
	}
	p.resetRequests = append(p.resetRequests, email)
	return nil
}

func (p *FakeProvider) UpdateProfile(ctx context.Context, uid string, changes session.ProfileChanges) error {
	if err := p.failure(session.OpUpdateProfile); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.UID != uid {
		return session.NewProviderError(session.CodeNoCurrentUser, "no current user")
	}
	p.current.DisplayName = changes.DisplayName
	p.current.PhotoURL = changes.PhotoURL
	for _, acc := range p.accounts {
		if acc.identity.UID == uid {
			acc.identity.DisplayName = changes.DisplayName
			acc.identity.PhotoURL = changes.PhotoURL
		}
	}
	return nil
}

func (p *FakeProvider) failure(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Err[op]
}

func (p *FakeProvider) autoNotify() {
	p.mu.Lock()
	notify := p.AutoNotify
	p.mu.Unlock()
	if notify {
		p.EmitCurrent()
	}
}
