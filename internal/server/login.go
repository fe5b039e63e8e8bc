// Package server assembles the login and world processes from their parts
// and runs every long-lived loop under one errgroup.
package server

import (
	"context"
	"fmt"
	stdnet "net"

	"github.com/l1jgo/realmd/internal/cache"
	"github.com/l1jgo/realmd/internal/config"
	"github.com/l1jgo/realmd/internal/data"
	"github.com/l1jgo/realmd/internal/handler"
	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/persist"
	"github.com/l1jgo/realmd/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Login is the login service: TCP login/realm-list listener, UDP heartbeat
// listener, staleness sweep, optional Redis publisher and metrics endpoint.
type Login struct {
	cfg *config.LoginConfig
	log *zap.Logger

	Registry *registry.Registry
	accounts persist.AccountStore

	db        *persist.DB
	cache     *cache.RedisCache
	publisher *registry.Publisher
	metrics   *prometheus.Registry

	tcp *net.Server
	udp *registry.HeartbeatListener
}

// LoginOption customizes NewLogin.
type LoginOption func(*Login)

// WithAccountStore replaces the store chosen from the database config.
func WithAccountStore(s persist.AccountStore) LoginOption {
	return func(l *Login) { l.accounts = s }
}

// NewLogin builds the login service and binds its sockets.
func NewLogin(ctx context.Context, cfg *config.LoginConfig, log *zap.Logger, opts ...LoginOption) (*Login, error) {
	l := &Login{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.openAccounts(ctx); err != nil {
		return nil, err
	}

	l.Registry = registry.New(log.With(zap.String("component", "registry")),
		registry.WithTimeout(cfg.Registry.HeartbeatTimeout))
	if cfg.Registry.SeedFile != "" {
		worlds, err := data.LoadSeedWorlds(cfg.Registry.SeedFile)
		if err != nil {
			l.close()
			return nil, err
		}
		for _, w := range worlds {
			l.Registry.Seed(w)
		}
		log.Info("seed worlds loaded", zap.Int("count", len(worlds)))
	}

	if cfg.Redis.Enabled {
		l.cache = cache.NewRedisCache(cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := l.cache.Ping(ctx); err != nil {
			// The publisher retries on every change.
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		l.publisher = registry.NewPublisher(l.Registry, l.cache, cfg.Redis.Refresh, log)
		l.Registry.SetChangeHook(l.publisher.Notify)
	}

	if cfg.Metrics.Address != "" {
		reg, err := metrics.NewRegistry(registry.NewCollector(l.Registry))
		if err != nil {
			l.close()
			return nil, fmt.Errorf("metrics registry: %w", err)
		}
		l.metrics = reg
	}

	tcp, err := net.NewServer("login", cfg.Server.BindAddress, log)
	if err != nil {
		l.close()
		return nil, fmt.Errorf("bind login %s: %w", cfg.Server.BindAddress, err)
	}
	l.tcp = tcp

	udp, err := registry.ListenHeartbeats(cfg.Server.HeartbeatAddress, l.Registry, log)
	if err != nil {
		tcp.Shutdown()
		l.close()
		return nil, fmt.Errorf("bind heartbeat %s: %w", cfg.Server.HeartbeatAddress, err)
	}
	l.udp = udp

	return l, nil
}

func (l *Login) openAccounts(ctx context.Context) error {
	if l.accounts == nil {
		if l.cfg.Database.DSN == "" {
			l.log.Info("no database configured, keeping accounts in memory")
			l.accounts = persist.NewMemoryAccounts(0)
		} else {
			db, err := persist.NewDB(ctx, l.cfg.Database, l.log)
			if err != nil {
				return err
			}
			l.db = db
			if l.cfg.Database.Migrate {
				version, err := db.Migrate(ctx)
				if err != nil {
					db.Close()
					return err
				}
				l.log.Info("account schema ready", zap.Int64("version", version))
			}
			l.accounts = persist.NewAccountRepo(db)
		}
	}

	for _, a := range l.cfg.Accounts {
		created, err := l.accounts.EnsureAccount(ctx, a.Name, a.Password)
		if err != nil {
			l.close()
			return fmt.Errorf("seed account %s: %w", a.Name, err)
		}
		if created {
			l.log.Info("account created", zap.String("account", a.Name))
		}
	}
	return nil
}

// LoginAddr is the bound TCP address.
func (l *Login) LoginAddr() stdnet.Addr { return l.tcp.Addr() }

// HeartbeatAddr is the bound UDP address.
func (l *Login) HeartbeatAddr() stdnet.Addr { return l.udp.Addr() }

// Run serves until ctx is cancelled or a loop fails, then releases every
// resource. A clean shutdown returns nil.
func (l *Login) Run(ctx context.Context) error {
	defer l.close()

	deps := &handler.LoginDeps{
		Credentials:  l.accounts,
		Realms:       l.Registry,
		Log:          l.log,
		ReadTimeout:  l.cfg.Server.ReadTimeout,
		WriteTimeout: l.cfg.Server.WriteTimeout,
		CheckTimeout: l.cfg.Server.CheckTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.tcp.Serve(gctx, handler.LoginConnHandler(deps)) })
	g.Go(func() error { return l.udp.Serve(gctx) })
	g.Go(func() error { return l.Registry.RunSweeper(gctx, l.cfg.Registry.SweepInterval) })
	if l.publisher != nil {
		g.Go(func() error { return l.publisher.Run(gctx) })
	}
	if l.metrics != nil {
		g.Go(func() error { return metrics.Serve(gctx, l.cfg.Metrics.Address, l.metrics, l.log) })
	}

	err := g.Wait()
	l.log.Info("login service stopped")
	return err
}

func (l *Login) close() {
	if l.cache != nil {
		l.cache.Close()
	}
	if l.db != nil {
		l.db.Close()
	}
}
