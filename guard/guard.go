package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
)

const textCodeInvalidTransition = "INVALID_GUARD_TRANSITION"

// Decision is what the guard does with a protected route.
type Decision int

const (
	// Loading renders the loading placeholder.
	Loading Decision = iota
	// Authorized renders the protected content.
	Authorized
	// Unauthorized redirects to the login entry point.
	Unauthorized
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return "loading"
	}
}

// Decide maps a session snapshot to a guard decision. Identity is never
// consulted while the session is loading.
func Decide(state session.State) Decision {
	if !state.Ready() {
		return Loading
	}
	if state.Identity == nil {
		return Unauthorized
	}
	return Authorized
}

// Transition is reported to watchers whenever the decision changes.
type Transition struct {
	From     Decision
	To       Decision
	Identity *session.Identity
	At       time.Time
}

// TransitionHandler receives guard transitions in order.
type TransitionHandler func(Transition)

// Guard derives route decisions from a session reader.
type Guard struct {
	reader      session.Reader
	transitions map[Decision]map[Decision]struct{}
	now         func() time.Time
	logger      session.Logger
}

// New returns a guard reading from reader.
func New(reader session.Reader, opts ...Option) (*Guard, error) {
	if reader == nil {
		return nil, goerrors.New("guard requires a session reader", goerrors.CategoryBadInput).
			WithTextCode("GUARD_READER_REQUIRED")
	}

	o := buildOptions(opts...)
	_, logger := session.ResolveLogger("guard", o.loggerProvider, o.logger)

	return &Guard{
		reader: reader,
		transitions: map[Decision]map[Decision]struct{}{
			Loading: {
				Authorized:   {},
				Unauthorized: {},
			},
			Authorized: {
				Unauthorized: {},
			},
			Unauthorized: {
				Authorized: {},
			},
		},
		now:    o.now,
		logger: logger,
	}, nil
}

// State returns the current decision.
func (g *Guard) State() Decision {
	return Decide(g.reader.State())
}

// Snapshot returns the decision along with the session it was derived from.
func (g *Guard) Snapshot() (Decision, session.State) {
	st := g.reader.State()
	return Decide(st), st
}

// Resolve returns the current snapshot, waiting up to wait for the first
// provider report when the session is still loading.
func (g *Guard) Resolve(ctx context.Context, wait time.Duration) (Decision, session.State) {
	st := g.reader.State()
	if st.Ready() || wait <= 0 {
		return Decide(st), st
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if ready, err := g.reader.WaitReady(waitCtx); err == nil {
		st = ready
	} else {
		g.logger.Debug("guard ready wait elapsed", "wait", wait, "error", err)
		st = g.reader.State()
	}
	return Decide(st), st
}

// Watch reports decision changes to handler. Identity changes that keep the
// decision at Authorized are not transitions.
func (g *Guard) Watch(handler TransitionHandler) (cancel func()) {
	if handler == nil {
		return func() {}
	}

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	current, _ := g.Snapshot()
	advance := func(st session.State) {
		next := Decide(st)
		if next == current {
			return
		}

		if err := g.validate(current, next); err != nil {
			g.logger.Warn("unexpected guard transition", "from", current.String(), "to", next.String(), "error", err)
		}

		t := Transition{
			From:     current,
			To:       next,
			Identity: st.Identity.Clone(),
			At:       g.now(),
		}
		current = next
		handler(t)
	}

	unwatch := g.reader.Watch(func(st session.State) {
		mu.Lock()
		defer mu.Unlock()
		advance(st)
	})

	// A change that landed between the baseline and registration is
	// reported here; its callback, if still pending, then finds no change.
	_, st := g.Snapshot()
	advance(st)

	return unwatch
}

func (g *Guard) validate(from, to Decision) error {
	if _, ok := g.transitions[from][to]; ok {
		return nil
	}
	return goerrors.New(fmt.Sprintf("guard cannot move from %s to %s", from, to), goerrors.CategoryConflict).
		WithTextCode(textCodeInvalidTransition).
		WithMetadata(map[string]any{
			"from": from.String(),
			"to":   to.String(),
		})
}
