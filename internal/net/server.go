package net

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Accept retry bounds, as in net/http.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// ConnHandler serves one accepted connection. It owns conn and must close it.
// ctx is cancelled when the server shuts down.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server accepts TCP connections and hands each one to its own goroutine.
type Server struct {
	name     string
	listener net.Listener
	log      *zap.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
	conns     sync.WaitGroup
}

// NewServer binds bindAddr. Binding happens here so callers can read Addr
// before serving.
func NewServer(name, bindAddr string, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return newServer(name, ln, log), nil
}

func newServer(name string, ln net.Listener, log *zap.Logger) *Server {
	return &Server{
		name:     name,
		listener: ln,
		log:      log.With(zap.String("listener", name)),
		closeCh:  make(chan struct{}),
	}
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is called.
// It returns nil on shutdown, after all connection goroutines have returned.
// Other accept errors (EMFILE and the like) are retried with a doubling delay.
func (s *Server) Serve(ctx context.Context, handle ConnHandler) error {
	connCtx, cancelConns := context.WithCancel(ctx)
	defer cancelConns()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	s.log.Info("listening", zap.String("addr", s.Addr().String()))

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				cancelConns()
				s.conns.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = nextAcceptDelay(delay)
			s.log.Error("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-s.closeCh:
			}
			continue
		}
		delay = 0

		s.log.Debug("connection accepted", zap.String("ip", conn.RemoteAddr().String()))

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			handle(connCtx, conn)
		}()
	}
}

// Shutdown stops accepting new connections.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.listener.Close()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	if d *= 2; d > maxAcceptDelay {
		return maxAcceptDelay
	}
	return d
}
