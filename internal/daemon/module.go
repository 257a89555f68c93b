package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
)

// loginTimeout bounds the automatic login at startup.
const loginTimeout = 30 * time.Second

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	LogLevel    string // zap level name; empty = info
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideSessionConfig,
			provideLock,
			provideStore,
			provideBackend,
			provideEngine,
			provideTokenSaver,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	level, err := logging.ParseLevel(p.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.WithLevel(level))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideSessionConfig(p Params, logger *zap.Logger) (*config.Session, error) {
	path := session.SessionConfigPath(p.SessionName)
	cfg, err := config.LoadSession(path)
	if err != nil {
		return nil, err
	}
	logger.Info("session config loaded",
		zap.String("path", path),
		zap.String("api_url", cfg.Server.APIURL),
		zap.String("ws_url", cfg.Server.WSURL),
		zap.String("user", cfg.Account.Username),
	)
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the index of a running daemon is never
// reset by a second one.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.IndexPath(p.SessionName)
	db, err := store.OpenFresh(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("index initialized", zap.String("path", dbPath), zap.Uint("version", result.Version))
	return db, nil
}

func provideBackend(cfg *config.Session) *backend.Client {
	return backend.New(cfg.Server.APIURL)
}

func provideEngine(cfg *config.Session, client *backend.Client, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	transportLog := logger.Named("transport")
	return intsync.New(intsync.Config{
		Sessions: func(onState func(transport.State, error)) intsync.Session {
			return transport.New(transport.Config{
				ReconnectDelay: cfg.ReconnectDelay(),
				Heartbeat:      cfg.Heartbeat(),
				OnState:        onState,
			}, transport.WebSocket(cfg.Server.WSURL), transportLog)
		},
		Backends: func(token string) intsync.Backend {
			return client.WithToken(token)
		},
		Index:        db,
		Bus:          b,
		Status:       m,
		Logger:       logger.Named("sync"),
		RefreshDelay: cfg.RefreshDelay(),
	})
}

// tokenSaver persists a freshly issued token to the session config so the
// next start skips the password login.
type tokenSaver func(chat.Credentials)

func provideTokenSaver(p Params, cfg *config.Session, logger *zap.Logger) tokenSaver {
	path := session.SessionConfigPath(p.SessionName)
	var mu sync.Mutex
	return func(creds chat.Credentials) {
		mu.Lock()
		defer mu.Unlock()
		if creds.Token == "" || creds.Token == cfg.Account.Token {
			return
		}
		updated := *cfg
		updated.Account.Username = creds.Username
		updated.Account.Token = creds.Token
		if creds.FullName != "" {
			updated.Account.FullName = creds.FullName
		}
		if err := config.SaveSession(path, &updated); err != nil {
			logger.Warn("could not save session token", zap.Error(err))
			return
		}
		*cfg = updated
		logger.Info("session token saved", zap.String("user", creds.Username))
	}
}

func provideControlService(p Params, engine *intsync.Engine, db *store.DB, save tokenSaver, logger *zap.Logger) *api.ControlService {
	svc := api.NewControlService(p.SessionName, engine, db, logger.Named("api"))
	svc.OnLogin = save
	return svc
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, svc *api.ControlService, lk *lock.Lock, db *store.DB, engine *intsync.Engine, cfg *config.Session, save tokenSaver, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			acct := intsync.Account{
				Username: cfg.Account.Username,
				FullName: cfg.Account.FullName,
				Token:    cfg.Account.Token,
				Password: cfg.Account.Password,
			}
			engine.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
				defer cancel()
				creds, err := engine.Login(ctx, acct)
				switch {
				case err == nil:
					logger.Info("logged in", zap.String("user", creds.Username))
				case chat.IsConnectionError(err):
					logger.Warn("first connect failed, retrying in background", zap.Error(err))
				case errors.Is(err, intsync.ErrStopped):
					return
				default:
					logger.Error("login failed", zap.Error(err))
					return
				}
				save(creds)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := engine.Logout(ctx); err != nil {
				logger.Warn("error during logout", zap.Error(err))
			}
			engine.Stop()
			svc.Close()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing index", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
