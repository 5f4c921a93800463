package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/provider/local"
	"golang.org/x/oauth2"
)

const (
	DefaultIssuer       = "https://accounts.google.com"
	DefaultProviderName = "google.com"
	DefaultListenAddr   = "127.0.0.1:0"
	DefaultCallbackPath = "/callback"
	DefaultFlowTimeout  = 5 * time.Minute
)

var _ local.Federator = (*Federator)(nil)

// Config describes the OIDC client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	ProviderName string
	// ListenAddr is the loopback address the callback listener binds to.
	// The redirect URL is built from the bound address.
	ListenAddr   string
	CallbackPath string
	FlowTimeout  time.Duration
	// AuthURL and TokenURL skip discovery when both are set.
	AuthURL  string
	TokenURL string
}

// Opener shows the authorization URL to the user, usually by launching a
// browser.
type Opener func(authURL string) error

// Federator signs in through an OIDC issuer with the authorization code
// flow, a loopback redirect, state and PKCE.
type Federator struct {
	cfg      Config
	endpoint oauth2.Endpoint
	verifier *gooidc.IDTokenVerifier
	opener   Opener
	logger   session.Logger
}

// New builds a federator. Unless cfg carries explicit endpoints the issuer
// is discovered through its well-known document.
func New(ctx context.Context, cfg Config, opts ...Option) (*Federator, error) {
	cfg = withDefaults(cfg)
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, goerrors.New("oidc client id is required", goerrors.CategoryBadInput).
			WithTextCode("OIDC_CLIENT_ID_REQUIRED")
	}

	o := buildOptions(opts...)
	_, logger := session.ResolveLogger("provider.oidc", o.loggerProvider, o.logger)

	f := &Federator{
		cfg:    cfg,
		opener: o.opener,
		logger: logger,
	}
	if f.opener == nil {
		f.opener = LogOpener(logger)
	}

	verifierConfig := &gooidc.Config{ClientID: cfg.ClientID, Now: o.now}

	if cfg.AuthURL != "" && cfg.TokenURL != "" {
		if o.keySet == nil {
			return nil, goerrors.New("explicit oidc endpoints need a key set", goerrors.CategoryBadInput).
				WithTextCode("OIDC_KEYSET_REQUIRED")
		}
		f.endpoint = oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
		f.verifier = gooidc.NewVerifier(cfg.Issuer, o.keySet, verifierConfig)
		return f, nil
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to init oidc provider").
			WithTextCode("OIDC_DISCOVERY_FAILED").
			WithMetadata(map[string]any{"issuer": cfg.Issuer})
	}
	f.endpoint = provider.Endpoint()
	if o.keySet != nil {
		f.verifier = gooidc.NewVerifier(cfg.Issuer, o.keySet, verifierConfig)
	} else {
		f.verifier = provider.Verifier(verifierConfig)
	}
	return f, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = DefaultProviderName
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = DefaultCallbackPath
	}
	if !strings.HasPrefix(cfg.CallbackPath, "/") {
		cfg.CallbackPath = "/" + cfg.CallbackPath
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}
	return cfg
}

// Name returns the provider id recorded on federated accounts.
func (f *Federator) Name() string {
	return f.cfg.ProviderName
}

// Authenticate runs one interactive sign-in. It returns when the callback
// arrives, the flow times out or ctx is done.
func (f *Federator) Authenticate(ctx context.Context) (*local.FederatedProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.FlowTimeout)
	defer cancel()

	listener, err := net.Listen("tcp", f.cfg.ListenAddr)
	if err != nil {
		return nil, session.NewProviderError(session.CodeNetworkFailed, "failed to start callback listener").WithCause(err)
	}

	state := randomToken()
	verifier := oauth2.GenerateVerifier()
	oauthCfg := f.oauthConfig("http://" + listener.Addr().String() + f.cfg.CallbackPath)

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.Handle(f.cfg.CallbackPath, callbackHandler(state, results))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Warn("oidc callback listener stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := oauthCfg.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
	if err := f.opener(authURL); err != nil {
		return nil, session.NewProviderError(session.CodePopupClosed, "failed to open the sign-in page").WithCause(err)
	}

	var result callbackResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return nil, session.NewProviderError(session.CodePopupClosed, "the sign-in flow was not completed").WithCause(ctx.Err())
	}

	if result.err != nil {
		return nil, result.err
	}

	return f.exchange(ctx, oauthCfg, result.code, verifier)
}

func (f *Federator) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     f.endpoint,
		Scopes:       f.cfg.Scopes,
	}
}

type idClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (f *Federator) exchange(ctx context.Context, oauthCfg *oauth2.Config, code, verifier string) (*local.FederatedProfile, error) {
	token, err := oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, session.NewProviderError(session.CodeNetworkFailed, "token exchange failed").WithCause(err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, session.NewProviderError(session.CodeInvalidCredential, "issuer did not return an id_token")
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, session.NewProviderError(session.CodeInvalidCredential, "id_token verification failed").WithCause(err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, session.NewProviderError(session.CodeInvalidCredential, "id_token claims parse failed").WithCause(err)
	}
	if claims.Subject == "" {
		return nil, session.NewProviderError(session.CodeInvalidCredential, "id_token missing subject")
	}

	f.logger.Info("oidc identity verified",
		"issuer", idToken.Issuer,
		"email_present", claims.Email != "",
		"email_verified", claims.EmailVerified,
	)

	return &local.FederatedProfile{
		Provider:      f.cfg.ProviderName,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		PictureURL:    claims.Picture,
	}, nil
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts the first redirect carrying the expected state.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		var result callbackResult
		switch {
		case query.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		case query.Get("error") != "":
			result.err = session.NewProviderError(session.CodePopupClosed, "sign-in was cancelled: "+query.Get("error"))
		case query.Get("code") == "":
			result.err = session.NewProviderError(session.CodeInvalidCredential, "callback is missing the authorization code")
		default:
			result.code = query.Get("code")
		}

		select {
		case results <- result:
		default:
			http.Error(w, "sign-in already completed", http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if result.err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("Sign-in failed. You can close this window."))
			return
		}
		_, _ = w.Write([]byte("Sign-in complete. You can close this window."))
	})
}

func randomToken() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
