package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

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
	cfgPath := config.PathFromEnv(config.WorldConfigEnv, "config/world.toml")
	cfg, err := config.LoadWorld(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	console.Banner("realmd world server", fmt.Sprintf("world: %s (id %d)", cfg.World.Name, cfg.World.ID))

	w, err := server.NewWorld(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console.Section("ready")
	console.Ready("clients  tcp " + w.ClientAddr().String())
	console.Ready("monitors  tcp " + w.MonitorAddr().String())
	console.Ready(fmt.Sprintf("heartbeat → %s:%d every %s",
		cfg.World.LoginHost, cfg.World.LoginHeartbeatPort, cfg.World.HeartbeatInterval))
	if cfg.Scripting.Dir != "" {
		console.OK("lua scripts: " + cfg.Scripting.Dir)
	}
	fmt.Println()

	if err := w.Run(ctx); err != nil {
		log.Error("world server failed", zap.Error(err))
		return err
	}
	return nil
}
