package server

import (
	"context"
	"fmt"
	stdnet "net"
	"strconv"
	"sync"

	"github.com/l1jgo/realmd/internal/config"
	"github.com/l1jgo/realmd/internal/handler"
	"github.com/l1jgo/realmd/internal/heartbeat"
	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/scripting"
	"github.com/l1jgo/realmd/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// World is one world server: client listener on port, monitor listener on
// port+1, heartbeat sender, optional Lua greeting and metrics endpoint.
type World struct {
	cfg *config.WorldConfig
	log *zap.Logger

	State    *world.State
	Players  *world.Directory
	Monitors *world.Monitors

	heartbeat *heartbeat.Sender
	scripts   *scripting.Engine
	metrics   *prometheus.Registry

	clients  *net.Server
	monitors *net.Server

	stop     chan struct{}
	stopOnce sync.Once
}

// NewWorld builds a world server and binds its listeners. A configured port
// of 0 binds both listeners to ephemeral ports and advertises the client one.
func NewWorld(cfg *config.WorldConfig, log *zap.Logger) (*World, error) {
	w := &World{
		cfg:      cfg,
		log:      log,
		Players:  world.NewDirectory(),
		Monitors: world.NewMonitors(cfg.Monitor.QueueSize, cfg.Monitor.WriteTimeout, log),
		stop:     make(chan struct{}),
	}

	if cfg.Scripting.Dir != "" {
		eng, err := scripting.NewEngine(cfg.Scripting.Dir, log.With(zap.String("component", "lua")))
		if err != nil {
			return nil, err
		}
		w.scripts = eng
	}

	if cfg.Metrics.Address != "" {
		reg, err := metrics.NewRegistry()
		if err != nil {
			w.close()
			return nil, fmt.Errorf("metrics registry: %w", err)
		}
		w.metrics = reg
	}

	clientAddr := stdnet.JoinHostPort(cfg.World.Host, strconv.Itoa(cfg.World.Port))
	monitorPort := 0
	if cfg.World.Port != 0 {
		monitorPort = cfg.World.Port + 1
	}
	monitorAddr := stdnet.JoinHostPort(cfg.World.Host, strconv.Itoa(monitorPort))

	clients, err := net.NewServer("world", clientAddr, log)
	if err != nil {
		w.close()
		return nil, fmt.Errorf("bind world %s: %w", clientAddr, err)
	}
	w.clients = clients

	monitors, err := net.NewServer("monitor", monitorAddr, log)
	if err != nil {
		clients.Shutdown()
		w.close()
		return nil, fmt.Errorf("bind monitor %s: %w", monitorAddr, err)
	}
	w.monitors = monitors

	desc := cfg.World.Descriptor()
	desc.Port = clients.Addr().(*stdnet.TCPAddr).Port
	w.State = world.NewState(desc)

	target := stdnet.JoinHostPort(cfg.World.LoginHost, strconv.Itoa(cfg.World.LoginHeartbeatPort))
	hb, err := heartbeat.NewSender(target, cfg.World.HeartbeatInterval, w.State, log)
	if err != nil {
		clients.Shutdown()
		monitors.Shutdown()
		w.close()
		return nil, err
	}
	w.heartbeat = hb

	return w, nil
}

func (w *World) ClientAddr() stdnet.Addr  { return w.clients.Addr() }
func (w *World) MonitorAddr() stdnet.Addr { return w.monitors.Addr() }

// RequestShutdown stops Run as if its context had been cancelled.
func (w *World) RequestShutdown() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Run serves until ctx is cancelled, RequestShutdown is called (a client's
// WorldShutdown does this) or a loop fails. On the way out the world
// advertises Offline one last time.
func (w *World) Run(ctx context.Context) error {
	defer w.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deps := &handler.WorldDeps{
		World:        w.State,
		Players:      w.Players,
		Monitors:     w.Monitors,
		Heartbeat:    w.heartbeat,
		Shutdown:     w.RequestShutdown,
		Log:          w.log,
		ReadTimeout:  w.cfg.World.ReadTimeout,
		WriteTimeout: w.cfg.World.WriteTimeout,
	}
	if w.scripts != nil {
		deps.Greeter = w.scripts
	}

	desc := w.State.Descriptor()
	w.log.Info("world server starting",
		zap.Uint8("id", desc.ID),
		zap.String("name", desc.Name),
		zap.Stringer("state", desc.State),
		zap.String("advertise", desc.Address()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-w.stop:
			w.log.Info("shutdown requested")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	// Monitors outlive the client sessions so every disconnect line is
	// delivered before they detach.
	monCtx, stopMonitors := context.WithCancel(context.Background())
	defer stopMonitors()
	g.Go(func() error {
		defer stopMonitors()
		return w.clients.Serve(gctx, handler.WorldConnHandler(deps))
	})
	g.Go(func() error { return w.monitors.Serve(monCtx, w.Monitors.Serve) })
	g.Go(func() error { return w.heartbeat.Run(gctx) })
	if w.metrics != nil {
		g.Go(func() error { return metrics.Serve(gctx, w.cfg.Metrics.Address, w.metrics, w.log) })
	}

	err := g.Wait()

	if prev := w.State.SetState(realm.Offline); prev != realm.Offline {
		w.heartbeat.SendNow()
	}
	w.log.Info("world server stopped")
	return err
}

func (w *World) close() {
	w.Monitors.Close()
	if w.heartbeat != nil {
		w.heartbeat.Close()
	}
	if w.scripts != nil {
		w.scripts.Close()
	}
}
