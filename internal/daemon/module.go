// Package daemon composes the session daemon: store, gateway client,
// webhook receiver, sync engine, send pipeline and the socket API, wired
// through fx with one lifecycle hook.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ozmetal/inbox/internal/api"
	"github.com/ozmetal/inbox/internal/bus"
	"github.com/ozmetal/inbox/internal/config"
	"github.com/ozmetal/inbox/internal/crm"
	"github.com/ozmetal/inbox/internal/gateway"
	"github.com/ozmetal/inbox/internal/lock"
	"github.com/ozmetal/inbox/internal/logging"
	"github.com/ozmetal/inbox/internal/send"
	"github.com/ozmetal/inbox/internal/session"
	"github.com/ozmetal/inbox/internal/store"
	intsync "github.com/ozmetal/inbox/internal/sync"
	"github.com/ozmetal/inbox/internal/webhook"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideGateway,
			provideResolver,
			providePipeline,
			provideSyncEngine,
			provideWebhook,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

// provideConfig loads ~/.inbox/config.toml. A missing file is not an
// error; the daemon runs with defaults and an unconfigured gateway.
func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("no config file, using defaults", zap.String("path", path))
			return &config.Config{Gateway: config.GatewayConfig{BaseURL: config.DefaultGatewayBaseURL}}, nil
		}
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(cfg *config.Config, logger *zap.Logger) gateway.Gateway {
	return gateway.NewClient(gateway.Options{
		BaseURL:       cfg.Gateway.BaseURL,
		PhoneNumberID: cfg.Gateway.PhoneNumberID,
		Token:         cfg.Gateway.Token,
		Timeout:       cfg.Gateway.SendTimeout(),
	}, logger)
}

func providePipeline(db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *send.Pipeline {
	return send.NewPipeline(db, gw, b, logger)
}

func provideResolver(db *store.DB) crm.Resolver {
	return crm.NewStoreResolver(db)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, resolver crm.Resolver, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, resolver, logger)
}

func provideWebhook(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *webhook.Server {
	return webhook.NewServer(cfg.Webhook.ListenAddr, cfg.Webhook.VerifyToken, b, logger)
}

func provideHandler(db *store.DB, pipeline *send.Pipeline, b *bus.Bus, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, pipeline, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, hook *webhook.Server, engine *intsync.Engine, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Sync engine first so no webhook event is published into a
			// void; the API server last.
			engine.Start(context.Background())
			if err := hook.Start(); err != nil {
				return err
			}
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := hook.Stop(ctx); err != nil {
				logger.Warn("webhook shutdown", zap.Error(err))
			}
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
