package registry

import (
	"context"
	"errors"
	"net"

	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/zap"
)

// maxDatagram bounds one heartbeat body.
const maxDatagram = 64 * 1024

// HeartbeatListener ingests UDP heartbeats into a Registry.
type HeartbeatListener struct {
	conn net.PacketConn
	reg  *Registry
	log  *zap.Logger
}

// ListenHeartbeats binds the UDP heartbeat socket.
func ListenHeartbeats(addr string, reg *Registry, log *zap.Logger) (*HeartbeatListener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return &HeartbeatListener{
		conn: conn,
		reg:  reg,
		log:  log.With(zap.String("listener", "heartbeat")),
	}, nil
}

// Addr returns the bound UDP address.
func (l *HeartbeatListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled. A datagram that does not
// decode is logged and dropped; it never stops the loop.
func (l *HeartbeatListener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	l.log.Info("listening", zap.String("addr", l.Addr().String()))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn("heartbeat read failed", zap.Error(err))
			continue
		}

		d, err := realm.UnmarshalHeartbeat(buf[:n])
		if err != nil {
			metrics.HeartbeatErrors.Inc()
			l.log.Warn("dropping heartbeat", zap.String("from", from.String()), zap.Error(err))
			continue
		}

		metrics.HeartbeatsReceived.Inc()
		l.log.Debug("heartbeat",
			zap.Uint8("id", d.ID),
			zap.Stringer("state", d.State),
			zap.Int("users", d.CurrentUsers),
			zap.String("from", from.String()),
		)
		l.reg.Register(d)
	}
}
