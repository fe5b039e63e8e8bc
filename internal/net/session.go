package net

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/realmd/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single client connection: a globally unique id plus
// the owned connection. Each session is served by its own goroutine; writes
// are serialized so handlers and out-of-band senders can share it.
type Session struct {
	ID   uuid.UUID
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32
	mu    sync.Mutex   // protects conn writes

	IP string

	readTimeout  time.Duration
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

// SessionOption tunes a Session at construction.
type SessionOption func(*Session)

// WithReadTimeout closes the session when no frame arrives within d.
func WithReadTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.readTimeout = d }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.writeTimeout = d }
}

func NewSession(conn net.Conn, initial packet.SessionState, log *zap.Logger, opts ...SessionOption) *Session {
	id := uuid.New()
	s := &Session{
		ID:           id,
		conn:         conn,
		IP:           conn.RemoteAddr().String(),
		writeTimeout: 10 * time.Second,
		log:          log.With(zap.String("session", id.String())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(initial))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Log returns the session-scoped logger.
func (s *Session) Log() *zap.Logger {
	return s.log
}

// Send writes one frame synchronously.
func (s *Session) Send(op packet.Opcode, payload []byte) error {
	if s.closed.Load() {
		return ErrConnectionClosed
	}
	s.log.Debug("TX", zap.Stringer("op", op), zap.Int("len", len(payload)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return WritePacket(s.conn, packet.New(op, payload))
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateClosed)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Tolerate decides whether a dispatch error leaves the session open.
type Tolerate func(state packet.SessionState, err error) bool

// Serve reads frames and dispatches them until the session is closed, the
// stream fails, or ctx is cancelled. A Close issued by a handler ends the
// loop with a nil error.
func (s *Session) Serve(ctx context.Context, reg *packet.Registry, tolerate Tolerate) error {
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()
	defer s.Close()

	for !s.closed.Load() {
		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		pkt, err := ReadPacket(s.conn)
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}

		state := s.State()
		if err := reg.Dispatch(s, state, pkt); err != nil {
			if tolerate != nil && tolerate(state, err) {
				s.log.Info("ignoring packet", zap.Stringer("opcode", pkt.Opcode), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

// IsDisconnect reports whether err is the ordinary end of a stream.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, net.ErrClosed)
}
