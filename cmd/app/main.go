package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/accounts"
	"github.com/goliatone/go-session/activitymap"
	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/guard"
	"github.com/goliatone/go-session/mirror"
	"github.com/goliatone/go-session/provider/local"
	"github.com/goliatone/go-session/provider/oidc"
	"github.com/goliatone/go-session/web"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type App struct {
	config   config.Config
	logger   *glog.BaseLogger
	client   *persistence.Client
	bunDB    *bun.DB
	provider *local.Provider
	relay    *oidc.Relay
	manager  *session.Manager
	guard    *guard.Guard
	mirror   session.AccountMirror
	srv      router.Server[*fiber.App]
}

func (a *App) Config() config.Config {
	return a.config
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Debug),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if cfg.GetApp().Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(redacted(cfg)))
		fmt.Println("============")
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithIdentityProvider(ctx, app); err != nil {
		panic(err)
	}

	if err := WithSession(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	if err := WithRoutes(ctx, app); err != nil {
		panic(err)
	}

	addr := cfg.GetServer().Addr
	go func() {
		if err := app.srv.Serve(addr); err != nil {
			app.GetLogger("server").Error("server stopped", "error", err)
		}
	}()
	app.GetLogger("server").Info("listening", "addr", addr)

	sig := WaitExitSignal()
	app.GetLogger("server").Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetServer().GetShutdownTimeout())
	defer cancel()

	app.Shutdown(shutdownCtx)
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.Config().GetPersistence()

	db, err := sql.Open(pcfg.GetDriver(), pcfg.GetServer())
	if err != nil {
		return err
	}

	var dialect schema.Dialect = sqlitedialect.New()
	if pcfg.GetDialect() == accounts.DialectPostgres {
		dialect = pgdialect.New()
	} else {
		db.SetMaxOpenConns(1)
	}

	persistence.RegisterModel((*accounts.User)(nil))
	persistence.RegisterModel((*local.Account)(nil))
	persistence.RegisterModel((*local.PasswordReset)(nil))
	persistence.RegisterModel((*local.FederatedLink)(nil))

	client, err := persistence.New(pcfg, db, dialect)
	if err != nil {
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))

	for _, source := range []fs.FS{accounts.GetMigrationsFS(), local.GetMigrationsFS()} {
		migrationsFS, err := fs.Sub(source, "data/sql/migrations")
		if err != nil {
			return err
		}
		client.RegisterDialectMigrations(
			migrationsFS,
			persistence.WithDialectSourceLabel("data/sql/migrations"),
			persistence.WithValidationTargets(accounts.DialectPostgres, accounts.DialectSQLite),
		)
	}

	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		app.GetLogger("persistence").Info("migrations applied", "report", report.String())
	}

	app.client = client
	app.bunDB = client.DB()
	return nil
}

func WithIdentityProvider(ctx context.Context, app *App) error {
	lcfg := app.Config().GetLocal()
	logger := app.GetLogger("provider")

	opts := []local.Option{
		local.WithLoggerProvider(app.logger),
		local.WithTokenStore(local.NewFileTokenStore(lcfg.TokenFile)),
		local.WithTokenIssuer(lcfg.TokenIssuer),
		local.WithTokenTTL(lcfg.GetTokenTTL()),
		local.WithHashCost(lcfg.HashCost),
		local.WithLoginCooldown(lcfg.MaxLoginAttempts, lcfg.GetLoginCooldown()),
		local.WithResetTTL(lcfg.GetResetTTL()),
		local.WithMailer(local.LogMailer{
			Logger:   app.GetLogger("mailer"),
			LinkPath: lcfg.ResetLinkPath,
		}),
	}

	if lcfg.SigningKey != "" {
		opts = append(opts, local.WithSigningKey([]byte(lcfg.SigningKey)))
	} else {
		logger.Warn("no signing key configured, the session will not survive a restart")
	}

	ocfg := app.Config().GetOIDC()
	if ocfg.Enabled {
		app.relay = oidc.NewRelay()
		logOpen := oidc.LogOpener(app.GetLogger("oidc"))

		federator, err := oidc.New(ctx, oidc.Config{
			Issuer:       ocfg.Issuer,
			ClientID:     ocfg.ClientID,
			ClientSecret: ocfg.ClientSecret,
			Scopes:       ocfg.Scopes,
			ProviderName: ocfg.ProviderName,
			ListenAddr:   ocfg.ListenAddr,
			FlowTimeout:  ocfg.GetFlowTimeout(),
		},
			oidc.WithLoggerProvider(app.logger),
			oidc.WithOpener(func(authURL string) error {
				_ = logOpen(authURL)
				return app.relay.Open(authURL)
			}),
		)
		if err != nil {
			return err
		}
		opts = append(opts, local.WithFederator(federator))
	}

	provider, err := local.New(ctx, app.bunDB, opts...)
	if err != nil {
		return err
	}

	app.provider = provider
	return nil
}

func WithSession(_ context.Context, app *App) error {
	manager, err := session.NewManager(app.provider,
		session.WithLoggerProvider(app.logger),
		session.WithActivitySink(activitymap.NewLoggerSink(app.GetLogger("activity"))),
	)
	if err != nil {
		return err
	}

	g, err := guard.New(manager, guard.WithLoggerProvider(app.logger))
	if err != nil {
		return err
	}

	g.Watch(func(t guard.Transition) {
		app.GetLogger("guard").Debug("route guard changed", "from", t.From.String(), "to", t.To.String())
	})

	mcfg := app.Config().GetMirror()
	if mcfg.Enabled {
		client, err := mirror.New(mirror.Config{
			BaseURL:       mcfg.BaseURL,
			Path:          mcfg.Path,
			Timeout:       mcfg.GetTimeout(),
			RetryAttempts: mcfg.RetryAttempts,
		}, mirror.WithLoggerProvider(app.logger))
		if err != nil {
			return err
		}
		app.mirror = client
	}

	app.manager = manager
	app.guard = g
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	debug := app.Config().GetApp().Debug

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: debug,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	app.srv = srv
	return nil
}

func WithRoutes(_ context.Context, app *App) error {
	cfg := app.Config()
	sink := activitymap.NewLoggerSink(app.GetLogger("activity"))

	register := session.NewRegisterAccountHandler(app.manager, app.mirror).
		WithLoggerProvider(app.logger).
		WithActivitySink(sink)

	federated := session.NewFederatedSignInHandler(app.manager, app.mirror).
		WithLoggerProvider(app.logger).
		WithActivitySink(sink)

	features := cfg.GetFeatures()
	opts := []web.ControllerOption{
		web.WithLogger(app.GetLogger("web")),
		web.WithDebug(cfg.GetApp().Debug),
		web.WithRegisterHandler(register),
		web.WithFederatedHandler(federated),
		web.WithPasswordResetConfirmer(app.provider),
		web.WithFeatureGate(web.FeatureFlags(features.Signup, features.PasswordReset, features.PasswordResetFinalize)),
	}
	if app.relay != nil {
		opts = append(opts, web.WithURLSource(app.relay))
	}

	controller := web.NewController(app.manager, opts...)
	controller.Routes.Login = cfg.GetSession().LoginPath

	protected := app.guard.Middleware(guard.Config{
		LoginPath: cfg.GetSession().LoginPath,
		ReadyWait: cfg.GetSession().GetReadyWait(),
	})

	r := app.srv.Router()
	web.RegisterRoutes(r, controller, protected)

	if cfg.GetServer().ServeAccounts {
		service := accounts.NewService(app.bunDB, accounts.NewUsersRepository(app.bunDB),
			accounts.WithLoggerProvider(app.logger),
		)
		accounts.RegisterRoutes(r, accounts.NewController(service,
			accounts.WithLoggerProvider(app.logger),
			accounts.WithDebug(cfg.GetApp().Debug),
		))
	}

	return nil
}

// Shutdown stops the server first so no request observes a closed session.
func (a *App) Shutdown(ctx context.Context) {
	logger := a.GetLogger("server")

	if a.srv != nil {
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}

	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			logger.Error("session close", "error", err)
		}
	}

	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			logger.Error("provider close", "error", err)
		}
	}

	if a.bunDB != nil {
		if err := a.bunDB.Close(); err != nil {
			logger.Error("database close", "error", err)
		}
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}

func redacted(cfg config.Config) config.Config {
	if cfg.Local.SigningKey != "" {
		cfg.Local.SigningKey = "***"
	}
	if cfg.OIDC.ClientSecret != "" {
		cfg.OIDC.ClientSecret = "***"
	}
	return cfg
}
