// Package daemon composes the per-profile sync daemon: replica store,
// push engine, reconciler, realtime router and the local API server,
// wired together with fx.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/api"
	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/config"
	"github.com/stampcircle/stampd/internal/ident"
	"github.com/stampcircle/stampd/internal/lock"
	"github.com/stampcircle/stampd/internal/logging"
	"github.com/stampcircle/stampd/internal/moderate"
	"github.com/stampcircle/stampd/internal/realtime"
	"github.com/stampcircle/stampd/internal/remote"
	"github.com/stampcircle/stampd/internal/session"
	"github.com/stampcircle/stampd/internal/status"
	"github.com/stampcircle/stampd/internal/store"
	intsync "github.com/stampcircle/stampd/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAllocator,
			provideRemote,
			provideClassifier,
			provideEngine,
			provideReconciler,
			provideRouter,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("no config file, using defaults", zap.Error(err))
		cfg = &config.Config{}
		cfg.Remote.TimeoutSeconds = 15
		cfg.Sync.IntervalSeconds = 30
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.ReplicaDBPath(p.ProfileName)
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
	logger.Info("replica store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAllocator() *ident.Allocator {
	return ident.NewAllocator()
}

func provideRemote(cfg *config.Config, logger *zap.Logger) remote.Caller {
	timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	return remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, timeout, logger)
}

func provideClassifier(cfg *config.Config, logger *zap.Logger) moderate.Classifier {
	timeout := time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
	return moderate.NewHTTPClassifier(cfg.Moderation.URL, timeout, logger)
}

func provideEngine(db *store.DB, caller remote.Caller, classifier moderate.Classifier, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	return intsync.NewEngine(db, caller, classifier, b, machine, interval, logger)
}

func provideReconciler(db *store.DB, caller remote.Caller, b *bus.Bus, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Reconciler {
	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	return intsync.NewReconciler(db, caller, b, machine, interval, logger)
}

func provideRouter(db *store.DB, b *bus.Bus, machine *status.Machine, reconciler *intsync.Reconciler, cfg *config.Config, logger *zap.Logger) *realtime.Router {
	conn := realtime.NewWebsocketConn(cfg.Realtime.URL)
	return realtime.NewRouter(db, conn, b, machine, reconciler, cfg.UserID, logger)
}

func provideHandler(
	p Params,
	db *store.DB,
	alloc *ident.Allocator,
	engine *intsync.Engine,
	reconciler *intsync.Reconciler,
	router *realtime.Router,
	caller remote.Caller,
	machine *status.Machine,
	b *bus.Bus,
	cfg *config.Config,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(db, alloc, engine, reconciler, router, caller, machine, b, cfg.UserID, p.ProfileName, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, engine *intsync.Engine, reconciler *intsync.Reconciler, router *realtime.Router, cfg *config.Config, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			engine.Start(context.Background())
			reconciler.Start(context.Background())

			if cfg.Realtime.URL != "" {
				// The router drives the state machine through
				// CONNECTING to ONLINE on its own.
				router.Start(context.Background())
			} else {
				logger.Info("no realtime endpoint configured, staying offline")
				_ = machine.Transition(status.Offline)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			router.Stop()
			reconciler.Stop()
			engine.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
