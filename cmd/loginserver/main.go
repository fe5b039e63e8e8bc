package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/l1jgo/realmd/internal/config"
	"github.com/l1jgo/realmd/internal/console"
	"github.com/l1jgo/realmd/internal/logging"
	"github.com/l1jgo/realmd/internal/server"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := config.PathFromEnv(config.LoginConfigEnv, "config/login.toml")
	cfg, err := config.LoadLogin(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// 2. Init logger
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	console.Banner("realmd login service", "config: "+cfgPath)

	// 3. Accounts, registry, cache, listeners
	console.Section("startup")
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	login, err := server.NewLogin(startCtx, cfg, log)
	if err != nil {
		return err
	}
	if cfg.Database.DSN != "" {
		console.OK("database connected")
	}
	console.Stat("seed accounts", len(cfg.Accounts))
	console.Stat("known worlds", login.Registry.Len())
	if cfg.Redis.Enabled {
		console.OK("realm cache: redis " + cfg.Redis.Addr)
	}

	// 4. Serve until signalled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console.Section("ready")
	console.Ready("login  tcp " + login.LoginAddr().String())
	console.Ready("heartbeat  udp " + login.HeartbeatAddr().String())
	if cfg.Metrics.Address != "" {
		console.Ready("metrics  http " + cfg.Metrics.Address)
	}
	fmt.Println()

	if err := login.Run(ctx); err != nil {
		log.Error("login service failed", zap.Error(err))
		return err
	}
	return nil
}
