package daemon

import (
	"context"
	"errors"
	"io/fs"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"leaguechat/internal/api"
	"leaguechat/internal/bus"
	"leaguechat/internal/chat"
	"leaguechat/internal/config"
	"leaguechat/internal/history"
	"leaguechat/internal/lock"
	"leaguechat/internal/logging"
	"leaguechat/internal/profile"
	"leaguechat/internal/status"
	"leaguechat/internal/store"
	"leaguechat/internal/transport"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideClient,
			provideSocket,
			provideThreadStore,
			provideMessageStore,
			provideTracker,
			provideArchiver,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{}
	} else if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore opens the history cache, or returns nil when caching is
// disabled.
func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	if !cfg.HistoryCache {
		logger.Info("history cache disabled")
		return nil, nil
	}
	dbPath := profile.HistoryDBPath(p.ProfileName)
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
	logger.Info("history cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout())
}

func provideSocket(cfg *config.Config, machine *status.Machine, logger *zap.Logger) transport.Transport {
	return transport.NewSocket(cfg.SocketURL, cfg.AuthToken, machine, logger)
}

func provideThreadStore(client *api.Client, tr transport.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.ThreadStore {
	return chat.NewThreadStore(client, tr, b, logger, cfg.UserID)
}

func provideMessageStore(client *api.Client, tr transport.Transport, b *bus.Bus, logger *zap.Logger) *chat.MessageStore {
	return chat.NewMessageStore(client, tr, b, logger)
}

func provideTracker(tr transport.Transport, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chat.Tracker {
	return chat.NewTracker(tr, b, logger, cfg.UserID)
}

func provideArchiver(db *store.DB, b *bus.Bus, logger *zap.Logger) *history.Archiver {
	if db == nil {
		return nil
	}
	return history.NewArchiver(db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, tr transport.Transport, threads *chat.ThreadStore, messages *chat.MessageStore, tracker *chat.Tracker, archiver *history.Archiver, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Archiver first so it observes the initial sync events.
			if archiver != nil {
				archiver.Start(context.Background())
			}

			threads.Bind()
			messages.Bind()
			tracker.Bind()

			go func() {
				if err := tr.Connect(context.Background()); err != nil {
					logger.Error("socket connect failed", zap.Error(err))
				}
			}()

			go func() {
				if _, err := threads.Fetch(context.Background()); err != nil {
					logger.Error("initial thread fetch failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			tracker.Close()
			messages.Close()
			threads.Close()
			if err := tr.Close(); err != nil {
				logger.Warn("error closing socket", zap.Error(err))
			}
			if archiver != nil {
				archiver.Stop()
			}
			if db != nil {
				_ = db.Close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
