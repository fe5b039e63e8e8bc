// Package metrics holds the Prometheus collectors shared by the login and
// world services and the HTTP endpoint that exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "realmd"

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Login requests by result (ok, fail, error).",
	}, []string{"result"})

	RealmListRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realm_list_requests_total",
		Help:      "Realm list responses sent to clients.",
	})

	HeartbeatsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_received_total",
		Help:      "Heartbeat datagrams ingested by the registry.",
	})

	HeartbeatErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_decode_errors_total",
		Help:      "Heartbeat datagrams dropped because they did not decode.",
	})

	RegistryTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_transitions_total",
		Help:      "World state transitions applied by the registry, by cause (heartbeat, sweep).",
	}, []string{"cause"})

	HeartbeatsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeats_sent_total",
		Help:      "Heartbeats sent by the world server, by result (ok, error).",
	}, []string{"result"})

	ActiveSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Open protocol sessions by service (login, world).",
	}, []string{"service"})

	ConnectedPlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "world_players",
		Help:      "Players in the world server's directory.",
	})

	ConnectedMonitors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "world_monitors",
		Help:      "Monitor connections attached to the world server.",
	})

	MonitorDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_messages_dropped_total",
		Help:      "Monitor notifications dropped because a monitor queue was full.",
	})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		LoginAttempts, RealmListRequests, HeartbeatsReceived, HeartbeatErrors,
		RegistryTransitions, HeartbeatsSent, ActiveSessions, ConnectedPlayers,
		ConnectedMonitors, MonitorDrops,
	}
}

// NewRegistry builds a Prometheus registry with the process, Go runtime and
// service collectors plus any extras.
func NewRegistry(extra ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := append([]prometheus.Collector{
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	}, all()...)
	cs = append(cs, extra...)
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
