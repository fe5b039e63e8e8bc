// Package heartbeat pushes the world server's descriptor to the login
// service's UDP heartbeat port.
package heartbeat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Second

// Source yields the descriptor to advertise.
type Source interface {
	Descriptor() realm.WorldDescriptor
}

// Sender sends one JSON datagram per interval. Send failures are logged and
// counted but never stop the loop.
type Sender struct {
	src      Source
	interval time.Duration
	clock    clock.Clock
	log      *zap.Logger

	mu   sync.Mutex // serializes writes on conn
	conn net.Conn
}

// Option configures a Sender.
type Option func(*Sender)

func WithClock(c clock.Clock) Option {
	return func(s *Sender) { s.clock = c }
}

// NewSender dials the UDP target. Dialing UDP only resolves the address;
// nothing is sent until Run or SendNow.
func NewSender(target string, interval time.Duration, src Source, log *zap.Logger, opts ...Option) (*Sender, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, fmt.Errorf("dial heartbeat target %s: %w", target, err)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sender{
		src:      src,
		interval: interval,
		clock:    clock.New(),
		log:      log.With(zap.String("component", "heartbeat"), zap.String("target", target)),
		conn:     conn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sends a heartbeat immediately and then every interval until ctx is
// cancelled.
func (s *Sender) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.log.Info("heartbeat sender started", zap.Duration("interval", s.interval))
	s.SendNow()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SendNow()
		}
	}
}

// SendNow sends the current descriptor out of band.
func (s *Sender) SendNow() {
	if err := s.send(s.src.Descriptor()); err != nil {
		metrics.HeartbeatsSent.WithLabelValues("error").Inc()
		s.log.Warn("heartbeat send failed", zap.Error(err))
		return
	}
	metrics.HeartbeatsSent.WithLabelValues("ok").Inc()
}

func (s *Sender) send(d realm.WorldDescriptor) error {
	body, err := realm.MarshalHeartbeat(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err = s.conn.Write(body)
	return err
}

func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
