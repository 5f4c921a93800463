package session

import (
	"context"
	"sync"
)

// Reader is the read side of the session.
type Reader interface {
	State() State
	Watch(observer Observer) (cancel func())
	Ready() <-chan struct{}
	WaitReady(ctx context.Context) (State, error)
	Await(ctx context.Context, predicate func(State) bool) (State, error)
}

// AccountCommands are the commands used by the registration flows.
type AccountCommands interface {
	CreateAccount(ctx context.Context, email, password string) (*Credential, error)
	FederatedLogin(ctx context.Context) (*Credential, error)
	UpdateProfile(ctx context.Context, displayName, photoURL string) error
}

// Client is everything pages and handlers need from the session.
type Client interface {
	Reader
	AccountCommands
	Login(ctx context.Context, email, password string) (*Credential, error)
	SignOut(ctx context.Context) error
	ResetPassword(ctx context.Context, email string) error
}

var (
	_ Client          = (*Manager)(nil)
	_ Reader          = (*Store)(nil)
	_ AccountCommands = (*Commands)(nil)
)

// Manager owns the process wide session: one store, one subscription, and
// the commands bound to it.
type Manager struct {
	store     *Store
	commands  *Commands
	closeOnce sync.Once
	logger    Logger
}

// NewManager subscribes to provider and returns the session consumers use.
func NewManager(provider IdentityProvider, opts ...Option) (*Manager, error) {
	store, err := NewStore(provider, opts...)
	if err != nil {
		return nil, err
	}

	commands, err := NewCommands(provider, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	_, logger := buildOptions(opts...).resolveLogger("session")

	return &Manager{
		store:    store,
		commands: commands,
		logger:   logger,
	}, nil
}

// Store exposes the underlying store.
func (m *Manager) Store() *Store { return m.store }

// Commands exposes the underlying commands.
func (m *Manager) Commands() *Commands { return m.commands }

func (m *Manager) State() State { return m.store.State() }

func (m *Manager) Watch(observer Observer) (cancel func()) { return m.store.Watch(observer) }

func (m *Manager) Ready() <-chan struct{} { return m.store.Ready() }

func (m *Manager) WaitReady(ctx context.Context) (State, error) { return m.store.WaitReady(ctx) }

func (m *Manager) Await(ctx context.Context, predicate func(State) bool) (State, error) {
	return m.store.Await(ctx, predicate)
}

func (m *Manager) CreateAccount(ctx context.Context, email, password string) (*Credential, error) {
	return m.commands.CreateAccount(ctx, email, password)
}

func (m *Manager) Login(ctx context.Context, email, password string) (*Credential, error) {
	return m.commands.Login(ctx, email, password)
}

func (m *Manager) FederatedLogin(ctx context.Context) (*Credential, error) {
	return m.commands.FederatedLogin(ctx)
}

func (m *Manager) SignOut(ctx context.Context) error {
	return m.commands.SignOut(ctx)
}

func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	return m.commands.ResetPassword(ctx, email)
}

func (m *Manager) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	return m.commands.UpdateProfile(ctx, displayName, photoURL)
}

// Close tears down the subscription.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.store.Close()
		m.logger.Info("session closed")
	})
	return err
}
