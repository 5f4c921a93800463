package web

import (
	"context"
	"net/http"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/guard"
)

const (
	DefaultFederatedWait = 3 * time.Second
	DefaultSettleWait    = 2 * time.Second
)

// PasswordResetConfirmer is implemented by providers that complete resets
// themselves instead of through a hosted page.
type PasswordResetConfirmer interface {
	ConfirmPasswordReset(ctx context.Context, resetID, password string) error
}

// URLSource hands out the authorization URL produced by a running
// federated flow.
type URLSource interface {
	Expect() <-chan string
	Latest() string
}

// Routes are the paths served by the controller.
type Routes struct {
	Home                 string
	Me                   string
	Session              string
	Login                string
	FederatedLogin       string
	Register             string
	Logout               string
	PasswordReset        string
	PasswordResetConfirm string
	Profile              string
}

// Controller serves the session pages as JSON.
type Controller struct {
	Debug        bool
	Logger       session.Logger
	Session      session.Client
	Routes       *Routes
	ErrorHandler router.ErrorHandler
	// FederatedWait bounds how long POST /login/federated waits for the
	// authorization URL before answering.
	FederatedWait time.Duration
	// SettleWait bounds how long a successful login waits for the session
	// to report the new principal.
	SettleWait time.Duration

	register    gocmd.Commander[session.RegisterAccountMessage]
	federated   gocmd.Commander[session.FederatedSignInMessage]
	confirmer   PasswordResetConfirmer
	relay       URLSource
	featureGate gate.FeatureGate
	flow        *federatedFlow
}

type ControllerOption func(*Controller) *Controller

// NewController builds the controller. Registration and federated sign-in
// default to handlers over client without an account mirror.
func NewController(client session.Client, opts ...ControllerOption) *Controller {
	_, logger := session.ResolveLogger("web", nil, nil)
	c := &Controller{
		Logger:        logger,
		Session:       client,
		ErrorHandler:  DefaultErrorHandler,
		FederatedWait: DefaultFederatedWait,
		SettleWait:    DefaultSettleWait,
		Routes: &Routes{
			Home:                 "/",
			Me:                   "/me",
			Session:              "/session",
			Login:                "/login",
			FederatedLogin:       "/login/federated",
			Register:             "/register",
			Logout:               "/logout",
			PasswordReset:        "/password-reset",
			PasswordResetConfirm: "/password-reset/confirm",
			Profile:              "/profile",
		},
		flow: &federatedFlow{},
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.Session == nil {
		panic("Missing session client in web controller...")
	}

	if c.register == nil {
		c.register = session.NewRegisterAccountHandler(c.Session, nil).WithLogger(c.Logger)
	}

	if c.federated == nil {
		c.federated = session.NewFederatedSignInHandler(c.Session, nil).WithLogger(c.Logger)
	}

	return c
}

func WithLogger(logger session.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// WithRegisterHandler sets the registration commander.
func WithRegisterHandler(handler gocmd.Commander[session.RegisterAccountMessage]) ControllerOption {
	return func(c *Controller) *Controller {
		c.register = handler
		return c
	}
}

// WithFederatedHandler sets the federated sign-in commander.
func WithFederatedHandler(handler gocmd.Commander[session.FederatedSignInMessage]) ControllerOption {
	return func(c *Controller) *Controller {
		c.federated = handler
		return c
	}
}

// WithPasswordResetConfirmer enables POST {PasswordResetConfirm}.
func WithPasswordResetConfirmer(confirmer PasswordResetConfirmer) ControllerOption {
	return func(c *Controller) *Controller {
		c.confirmer = confirmer
		return c
	}
}

// WithURLSource lets federated login answer with the authorization URL.
func WithURLSource(source URLSource) ControllerOption {
	return func(c *Controller) *Controller {
		c.relay = source
		return c
	}
}

func WithFeatureGate(featureGate gate.FeatureGate) ControllerOption {
	return func(c *Controller) *Controller {
		c.featureGate = featureGate
		return c
	}
}

func WithErrorHandler(handler router.ErrorHandler) ControllerOption {
	return func(c *Controller) *Controller {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// RegisterRoutes mounts the session pages. protected wraps the pages that
// need a signed-in principal.
func RegisterRoutes[T any](app router.Router[T], controller *Controller, protected ...router.MiddlewareFunc) {
	routes := controller.Routes

	app.Get(routes.Session, controller.SessionShow).SetName("session.get")

	app.Post(routes.Login, controller.LoginPost).SetName("sign-in.post")
	app.Post(routes.FederatedLogin, controller.FederatedLoginPost).SetName("sign-in-federated.post")
	app.Get(routes.FederatedLogin, controller.FederatedLoginShow).SetName("sign-in-federated.get")

	app.Post(routes.Register, controller.RegistrationCreate).SetName("register.post")
	app.Post(routes.Logout, controller.LogOut).SetName("sign-out.post")

	app.Post(routes.PasswordReset, controller.PasswordResetPost).SetName("pwd-reset.post")
	app.Post(routes.PasswordResetConfirm, controller.PasswordResetConfirm).SetName("pwd-reset-do.post")

	app.Get(routes.Home, controller.Home, protected...).SetName("home.get")
	app.Get(routes.Me, controller.MeShow, protected...).SetName("me.get")
	app.Post(routes.Profile, controller.ProfileUpdate, protected...).SetName("profile.post")
}

// SessionShow reports the session state without gating.
func (c *Controller) SessionShow(ctx router.Context) error {
	st := c.Session.State()
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":        st.Status,
		"authenticated": st.Authenticated(),
		"user":          st.Identity,
	})
}

// LoginPost signs in with email and password. A request made while a
// principal is signed in is sent home.
func (c *Controller) LoginPost(ctx router.Context) error {
	if c.Session.State().Authenticated() {
		return c.redirectHome(ctx)
	}

	payload := new(session.LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("login parse payload", "error", err)
		return c.ErrorHandler(ctx, session.NewValidationError(err, "Failed to parse body"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if c.Debug {
		c.Logger.Debug("login payload", "email", payload.Email)
	}

	cred, err := c.Session.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "signed_in",
		"user":   c.settle(ctx.Context(), cred),
	})
}

// RegistrationCreate creates a password account through the registration
// flow. Mirror failures are reported in the body, never as an error.
func (c *Controller) RegistrationCreate(ctx router.Context) error {
	if err := requireFeatureGate(ctx.Context(), c.featureGate, gate.FeatureUsersSignup, ErrSignupDisabled); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(session.RegisterAccountMessage)
	if err := ctx.Bind(payload); err != nil {
		c.Logger.Error("register parse payload", "error", err)
		return c.ErrorHandler(ctx, session.NewValidationError(err, "Failed to parse body"))
	}

	if c.Debug {
		debugPayload := *payload
		debugPayload.Password, debugPayload.ConfirmPassword = "", ""
		c.Logger.Debug("register payload", "payload", print.MaybePrettyJSON(debugPayload))
	}

	collector := gocmd.NewResult[session.RegistrationResult]()
	if err := c.register.Execute(gocmd.ContextWithResult(ctx.Context(), collector), *payload); err != nil {
		c.Logger.Error("register account", "error", err)
		return c.ErrorHandler(ctx, err)
	}

	result, _ := collector.Load()
	body := registrationBody(result)
	body["status"] = "registered"
	body["user"] = c.settle(ctx.Context(), result.Credential)
	return ctx.JSON(http.StatusCreated, body)
}

// LogOut ends the session and sends the user to the login entry point.
func (c *Controller) LogOut(ctx router.Context) error {
	if err := c.Session.SignOut(ctx.Context()); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.Redirect(c.Routes.Login, guard.RedirectStatus(ctx.Method()))
}

// PasswordResetPost asks the provider to send a reset email.
func (c *Controller) PasswordResetPost(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), c.featureGate, false); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(session.PasswordResetPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, session.NewValidationError(err, "Failed to parse body"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := c.Session.ResetPassword(ctx.Context(), payload.Email); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusAccepted, map[string]any{
		"status":  "sent",
		"message": "Check your inbox for the reset link",
	})
}

// PasswordResetConfirm sets a new password for a reset request.
func (c *Controller) PasswordResetConfirm(ctx router.Context) error {
	if err := requirePasswordResetGate(ctx.Context(), c.featureGate, true); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if c.confirmer == nil {
		return c.ErrorHandler(ctx, ErrPasswordResetConfirmUnsupported)
	}

	payload := new(PasswordResetConfirmPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, session.NewValidationError(err, "Failed to parse body"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := c.confirmer.ConfirmPasswordReset(ctx.Context(), payload.ResetID, payload.Password); err != nil {
		c.Logger.Warn("confirm password reset", "error", err)
		return c.ErrorHandler(ctx, session.ClassifyProviderError(session.OpConfirmPasswordReset, err))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status":  "changed",
		"message": "Your password was changed",
	})
}

// Home is the protected landing page.
func (c *Controller) Home(ctx router.Context) error {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return c.ErrorHandler(ctx, session.NewNoActiveSessionError("home"))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"message": "Welcome, " + identity.NameOrFallback(identity.Email),
		"user":    identity,
	})
}

// MeShow returns the signed-in principal.
func (c *Controller) MeShow(ctx router.Context) error {
	identity, ok := currentIdentity(ctx)
	if !ok {
		return c.ErrorHandler(ctx, session.NewNoActiveSessionError("me"))
	}
	return ctx.JSON(http.StatusOK, identity)
}

// ProfileUpdate changes the display name and photo of the principal.
func (c *Controller) ProfileUpdate(ctx router.Context) error {
	payload := new(session.ProfilePayload)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, session.NewValidationError(err, "Failed to parse body"))
	}

	if err := payload.Validate(); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := c.Session.UpdateProfile(ctx.Context(), payload.DisplayName, payload.PhotoURL); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "updated",
		"user":   c.Session.State().Identity,
	})
}

// currentIdentity returns the principal exposed by the guard middleware.
func currentIdentity(ctx router.Context) (*session.Identity, bool) {
	if identity, ok := session.IdentityFromContext(ctx.Context()); ok && identity != nil {
		return identity, true
	}
	return guard.IdentityFromLocals(ctx)
}

func (c *Controller) redirectHome(ctx router.Context) error {
	return ctx.Redirect(c.Routes.Home, guard.RedirectStatus(ctx.Method()))
}

// settle waits until the session reports the principal from cred, so the
// response agrees with the next GET /session.
func (c *Controller) settle(ctx context.Context, cred *session.Credential) *session.Identity {
	if cred == nil {
		return c.Session.State().Identity
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.SettleWait)
	defer cancel()

	st, err := c.Session.Await(waitCtx, func(st session.State) bool {
		return st.Authenticated() && st.Identity.UID == cred.Identity.UID
	})
	if err != nil {
		c.Logger.Warn("session did not report the new principal in time", "uid", cred.Identity.UID)
		identity := cred.Identity
		return &identity
	}
	return st.Identity
}

func registrationBody(result session.RegistrationResult) map[string]any {
	body := map[string]any{
		"mirrored": result.Mirrored,
	}
	if result.Credential != nil {
		body["is_new_user"] = result.Credential.IsNewUser
	}
	if result.MirrorErr != nil {
		body["mirror_error"] = result.MirrorErr.Error()
	}
	return body
}
