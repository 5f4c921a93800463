package web

import (
	"context"
	"net/http"
	"sync"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
)

// federatedFlow tracks the single interactive sign-in a local client can
// have in flight. The flow outlives the request that started it.
type federatedFlow struct {
	mu      sync.Mutex
	pending *session.Pending[session.RegistrationResult]
	authURL string
}

// start launches run unless a flow is already in flight. urls delivers the
// authorization URL of the new flow; it is nil when no relay is set.
func (f *federatedFlow) start(
	ctx context.Context,
	relay URLSource,
	run func(context.Context) (session.RegistrationResult, error),
) (pending *session.Pending[session.RegistrationResult], urls <-chan string, started bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending != nil {
		return f.pending, nil, false
	}

	if relay != nil {
		urls = relay.Expect()
	}
	f.authURL = ""
	f.pending = session.Start(ctx, run)
	return f.pending, urls, true
}

func (f *federatedFlow) current() (*session.Pending[session.RegistrationResult], string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.authURL
}

func (f *federatedFlow) setURL(pending *session.Pending[session.RegistrationResult], authURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == pending {
		f.authURL = authURL
	}
}

// finish forgets pending once its outcome has been reported.
func (f *federatedFlow) finish(pending *session.Pending[session.RegistrationResult]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == pending {
		f.pending = nil
		f.authURL = ""
	}
}

// FederatedLoginPost starts the federated sign-in and answers 202 with the
// authorization URL the user has to open, or with the outcome when the
// flow settles first.
func (c *Controller) FederatedLoginPost(ctx router.Context) error {
	if c.federated == nil {
		return c.ErrorHandler(ctx, ErrFederatedLoginUnavailable)
	}

	if c.Session.State().Authenticated() {
		return c.redirectHome(ctx)
	}

	pending, urls, started := c.flow.start(ctx.Context(), c.relay, c.runFederated)
	if !started {
		return c.federatedStatus(ctx, pending)
	}

	c.Logger.Info("federated sign-in started")

	waitCtx, cancel := context.WithTimeout(ctx.Context(), c.FederatedWait)
	defer cancel()

	select {
	case authURL := <-urls:
		c.flow.setURL(pending, authURL)
		return ctx.JSON(http.StatusAccepted, map[string]any{
			"status":   "pending",
			"auth_url": authURL,
		})
	case <-pending.Done():
		return c.federatedStatus(ctx, pending)
	case <-waitCtx.Done():
		return ctx.JSON(http.StatusAccepted, map[string]any{
			"status": "pending",
		})
	}
}

// FederatedLoginShow reports the federated sign-in in flight, if any.
func (c *Controller) FederatedLoginShow(ctx router.Context) error {
	pending, _ := c.flow.current()
	if pending == nil {
		return ctx.JSON(http.StatusOK, map[string]any{
			"status":        "idle",
			"authenticated": c.Session.State().Authenticated(),
		})
	}
	return c.federatedStatus(ctx, pending)
}

func (c *Controller) federatedStatus(ctx router.Context, pending *session.Pending[session.RegistrationResult]) error {
	result, done, err := pending.Result()
	if !done {
		_, authURL := c.flow.current()
		if authURL == "" && c.relay != nil {
			authURL = c.relay.Latest()
		}
		return ctx.JSON(http.StatusAccepted, map[string]any{
			"status":   "pending",
			"auth_url": authURL,
		})
	}

	c.flow.finish(pending)

	if err != nil {
		c.Logger.Warn("federated sign-in failed", "error", err)
		return c.ErrorHandler(ctx, err)
	}

	body := registrationBody(result)
	body["status"] = "signed_in"
	body["user"] = c.settle(ctx.Context(), result.Credential)
	return ctx.JSON(http.StatusOK, body)
}

func (c *Controller) runFederated(ctx context.Context) (session.RegistrationResult, error) {
	collector := gocmd.NewResult[session.RegistrationResult]()
	if err := c.federated.Execute(gocmd.ContextWithResult(ctx, collector), session.FederatedSignInMessage{}); err != nil {
		return session.RegistrationResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}
