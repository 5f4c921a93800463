package session

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Observer is notified with the new snapshot after every state change.
// Observers run one at a time in change order. They may read the store but
// must not issue commands that patch it synchronously.
type Observer func(State)

// Store holds the session state and keeps it in sync with the provider.
//
// The store is the only writer of State. Provider notifications replace the
// identity wholesale, the profile patch is the single exception.
type Store struct {
	mu         sync.RWMutex
	dispatchMu sync.Mutex

	state     State
	observers map[uint64]Observer
	order     []uint64
	nextID    uint64
	closed    bool

	ready     chan struct{}
	readyOnce sync.Once

	unsubscribe Unsubscribe
	closeOnce   sync.Once

	logger         Logger
	loggerProvider LoggerProvider
}

// NewStore subscribes to the provider and returns a store in the loading
// state. The subscription lives until Close.
func NewStore(provider IdentityProvider, opts ...Option) (*Store, error) {
	if provider == nil {
		return nil, goerrors.New("identity provider is required", goerrors.CategoryInternal).
			WithTextCode("MISSING_PROVIDER")
	}

	o := buildOptions(opts...)
	s := &Store{
		state:     State{Status: StatusLoading},
		observers: make(map[uint64]Observer),
		ready:     make(chan struct{}),
	}
	s.loggerProvider, s.logger = o.resolveLogger("session.store")

	unsubscribe := provider.Subscribe(s.handle)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	return s, nil
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Ready is closed once the provider reported for the first time.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the first provider report or ctx is done.
func (s *Store) WaitReady(ctx context.Context) (State, error) {
	select {
	case <-s.ready:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context done while waiting for session readiness")
	}
}

// Await blocks until predicate holds for the current state or ctx is done.
func (s *Store) Await(ctx context.Context, predicate func(State) bool) (State, error) {
	if predicate == nil {
		return s.State(), nil
	}

	matched := make(chan State, 1)
	cancel := s.Watch(func(st State) {
		if !predicate(st) {
			return
		}
		select {
		case matched <- st:
		default:
		}
	})
	defer cancel()

	if st := s.State(); predicate(st) {
		return st, nil
	}

	select {
	case st := <-matched:
		return st, nil
	case <-ctx.Done():
		return s.State(), goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context done while waiting for session state")
	}
}

// Watch registers an observer. The returned func removes it and is safe to
// call more than once.
func (s *Store) Watch(observer Observer) (cancel func()) {
	if observer == nil {
		return func() {}
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.observers[id] = observer
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers, id)
			for i, oid := range s.order {
				if oid == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Close releases the provider subscription. Notifications that arrive
// afterwards are ignored.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.observers = make(map[uint64]Observer)
		s.order = nil
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		s.logger.Debug("session store closed")
	})
	return nil
}

func (s *Store) handle(identity *Identity) {
	s.apply(identity, true)
}

// patchProfile merges changes into the stored identity without waiting for
// the provider to notify. The patch is dropped when the store no longer
// holds base's principal. Readiness is left untouched.
func (s *Store) patchProfile(base *Identity, changes ProfileChanges) bool {
	if base == nil {
		return false
	}
	return s.update(func(current *Identity) (*Identity, bool) {
		if current == nil || current.UID != base.UID {
			return nil, false
		}
		next := current.Clone()
		next.DisplayName = changes.DisplayName
		next.PhotoURL = changes.PhotoURL
		return next, true
	}, false)
}

func (s *Store) apply(identity *Identity, markReady bool) {
	s.update(func(*Identity) (*Identity, bool) {
		return identity, true
	}, markReady)
}

// update computes the next identity from the stored one under the dispatch
// lock. It reports false when next declines or the store is closed.
func (s *Store) update(next func(current *Identity) (*Identity, bool), markReady bool) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Trace("session store ignored notification after close")
		return false
	}

	identity, ok := next(s.state.Identity)
	if !ok {
		s.mu.Unlock()
		return false
	}

	becameReady := markReady && s.state.Status != StatusReady
	if !becameReady && s.state.Identity.Equal(identity) {
		s.mu.Unlock()
		return true
	}

	s.state.Identity = identity.Clone()
	if markReady {
		s.state.Status = StatusReady
	}
	state := s.state.clone()
	observers := s.snapshotObserversLocked()
	s.mu.Unlock()

	if becameReady {
		s.readyOnce.Do(func() { close(s.ready) })
	}

	s.logger.Debug("session state changed",
		"status", state.Status.String(),
		"authenticated", state.Authenticated(),
	)

	for _, observer := range observers {
		observer(state.clone())
	}
	return true
}

func (s *Store) snapshotObserversLocked() []Observer {
	out := make([]Observer, 0, len(s.order))
	for _, id := range s.order {
		if observer, ok := s.observers[id]; ok {
			out = append(out, observer)
		}
	}
	return out
}
