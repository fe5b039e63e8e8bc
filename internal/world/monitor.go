package world

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/l1jgo/realmd/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultMonitorQueue        = 64
	DefaultMonitorWriteTimeout = 5 * time.Second
)

type monitor struct {
	id        uint64
	conn      net.Conn
	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func (m *monitor) close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.conn.Close()
	})
}

// Monitors fans connect/disconnect notifications out to every attached
// monitor connection. Each monitor has its own bounded queue and writer, so
// a slow monitor loses messages instead of stalling sessions.
type Monitors struct {
	mu     sync.Mutex
	conns  map[uint64]*monitor
	nextID uint64

	queueSize    int
	writeTimeout time.Duration
	log          *zap.Logger
}

func NewMonitors(queueSize int, writeTimeout time.Duration, log *zap.Logger) *Monitors {
	if queueSize <= 0 {
		queueSize = DefaultMonitorQueue
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultMonitorWriteTimeout
	}
	return &Monitors{
		conns:        make(map[uint64]*monitor),
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		log:          log.With(zap.String("component", "monitors")),
	}
}

// Serve attaches conn as a monitor and writes queued lines to it until the
// peer goes away, a write fails or ctx is cancelled. Anything the monitor
// sends is discarded. Serve owns conn.
func (m *Monitors) Serve(ctx context.Context, conn net.Conn) {
	mon := m.add(conn)
	defer m.remove(mon)

	go func() {
		io.Copy(io.Discard, conn)
		mon.close()
	}()

	for {
		select {
		case <-ctx.Done():
			m.flush(mon)
			return
		case <-mon.done:
			return
		case msg := <-mon.queue:
			if !m.write(mon, msg) {
				return
			}
		}
	}
}

// flush writes whatever is already queued, without waiting for more.
func (m *Monitors) flush(mon *monitor) {
	for {
		select {
		case msg := <-mon.queue:
			if !m.write(mon, msg) {
				return
			}
		default:
			return
		}
	}
}

func (m *Monitors) write(mon *monitor, msg string) bool {
	mon.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if _, err := io.WriteString(mon.conn, msg+"\n"); err != nil {
		m.log.Debug("monitor write failed", zap.Uint64("monitor", mon.id), zap.Error(err))
		return false
	}
	return true
}

// Broadcast queues msg for every monitor without blocking.
func (m *Monitors) Broadcast(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mon := range m.conns {
		select {
		case mon.queue <- msg:
		default:
			metrics.MonitorDrops.Inc()
			m.log.Debug("monitor queue full, dropping", zap.Uint64("monitor", mon.id))
		}
	}
}

func (m *Monitors) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close detaches every monitor.
func (m *Monitors) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[uint64]*monitor)
	m.mu.Unlock()

	for _, mon := range conns {
		mon.close()
	}
	metrics.ConnectedMonitors.Set(0)
}

func (m *Monitors) add(conn net.Conn) *monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	mon := &monitor{
		id:    m.nextID,
		conn:  conn,
		queue: make(chan string, m.queueSize),
		done:  make(chan struct{}),
	}
	m.conns[mon.id] = mon
	metrics.ConnectedMonitors.Set(float64(len(m.conns)))
	m.log.Info("monitor attached", zap.Uint64("monitor", mon.id), zap.String("ip", conn.RemoteAddr().String()))
	return mon
}

func (m *Monitors) remove(mon *monitor) {
	m.mu.Lock()
	_, ok := m.conns[mon.id]
	delete(m.conns, mon.id)
	n := len(m.conns)
	m.mu.Unlock()

	mon.close()
	if ok {
		metrics.ConnectedMonitors.Set(float64(n))
		m.log.Info("monitor detached", zap.Uint64("monitor", mon.id))
	}
}

// ConnectedMessage and DisconnectedMessage are the notification lines.
func ConnectedMessage(id string) string    { return "Client connected: " + id }
func DisconnectedMessage(id string) string { return "Client disconnected: " + id }
