// Package registry is the login service's in-memory table of known worlds.
//
// Each world id owns one slot guarded by its own mutex, so registrations and
// heartbeats for different ids never contend and no lock ever spans two
// keys. Entries are never removed: a world that stops heartbeating is only
// flipped to Offline by the sweep.
package registry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/zap"
)

const (
	DefaultTimeout       = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

type slot struct {
	mu            sync.Mutex
	present       bool
	desc          realm.WorldDescriptor
	lastHeartbeat time.Time // zero = never heartbeated
}

// Entry is a point-in-time copy of one registry slot.
type Entry struct {
	World         realm.WorldDescriptor
	LastHeartbeat time.Time
}

// NeverHeartbeated reports whether the entry was seeded and has not yet
// received a heartbeat.
func (e Entry) NeverHeartbeated() bool {
	return e.LastHeartbeat.IsZero()
}

// Registry stores world descriptors keyed by id.
type Registry struct {
	slots   [math.MaxUint8 + 1]slot
	clock   clock.Clock
	timeout time.Duration
	log     *zap.Logger

	onChange func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock substitutes the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithTimeout sets how long a world may go without a heartbeat before the
// sweep marks it Offline.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithChangeHook registers fn to run after every insert, transition or
// sweep that changed something. fn must not block.
func WithChangeHook(fn func()) Option {
	return func(r *Registry) { r.onChange = fn }
}

func New(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		clock:   clock.New(),
		timeout: DefaultTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetChangeHook replaces the change hook. Call before serving.
func (r *Registry) SetChangeHook(fn func()) {
	r.onChange = fn
}

// Register applies a registration or heartbeat for d.ID atomically:
//   - unknown id: insert with lastHeartbeat = now;
//   - same state as stored: keep the stored descriptor, refresh lastHeartbeat;
//   - different state: replace the descriptor, refresh lastHeartbeat.
//
// Because an unchanged state keeps the stored fields, currentUsers only
// propagates on a state transition.
func (r *Registry) Register(d realm.WorldDescriptor) {
	s := &r.slots[d.ID]
	now := r.clock.Now()

	s.mu.Lock()
	switch {
	case !s.present:
		s.present = true
		s.desc = d
		s.lastHeartbeat = now
		s.mu.Unlock()
		r.log.Info("world registered",
			zap.Uint8("id", d.ID),
			zap.String("name", d.Name),
			zap.Stringer("state", d.State),
			zap.String("addr", d.Address()),
		)
		r.changed()
		return

	case s.desc.State == d.State:
		s.lastHeartbeat = now
		s.mu.Unlock()
		return

	default:
		prev := s.desc.State
		s.desc = d
		s.lastHeartbeat = now
		s.mu.Unlock()
		metrics.RegistryTransitions.WithLabelValues("heartbeat").Inc()
		r.log.Info("world state changed",
			zap.Uint8("id", d.ID),
			zap.String("name", d.Name),
			zap.Stringer("from", prev),
			zap.Stringer("to", d.State),
		)
		r.changed()
	}
}

// Seed inserts d without a heartbeat timestamp if the id is unknown.
// Seeded entries are exempt from the sweep until their first heartbeat.
// Returns false if the id was already present.
func (r *Registry) Seed(d realm.WorldDescriptor) bool {
	s := &r.slots[d.ID]

	s.mu.Lock()
	if s.present {
		s.mu.Unlock()
		return false
	}
	s.present = true
	s.desc = d
	s.lastHeartbeat = time.Time{}
	s.mu.Unlock()

	r.log.Info("world seeded",
		zap.Uint8("id", d.ID),
		zap.String("name", d.Name),
		zap.Stringer("state", d.State),
	)
	r.changed()
	return true
}

// GetAll returns a snapshot of every known world, ordered by id. Each slot
// is copied under its own lock only.
func (r *Registry) GetAll() []realm.WorldDescriptor {
	entries := r.Entries()
	worlds := make([]realm.WorldDescriptor, len(entries))
	for i, e := range entries {
		worlds[i] = e.World
	}
	return worlds
}

// Entries is GetAll with heartbeat timestamps.
func (r *Registry) Entries() []Entry {
	var entries []Entry
	for i := range r.slots {
		if e, ok := r.Lookup(uint8(i)); ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id uint8) (Entry, bool) {
	s := &r.slots[id]
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return Entry{}, false
	}
	return Entry{World: s.desc, LastHeartbeat: s.lastHeartbeat}, true
}

// Len returns the number of known worlds.
func (r *Registry) Len() int {
	n := 0
	for i := range r.slots {
		s := &r.slots[i]
		s.mu.Lock()
		if s.present {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Sweep forces every entry whose last heartbeat is older than the timeout to
// Offline, leaving lastHeartbeat untouched so the entry stays stale until a
// new heartbeat arrives. Entries that never heartbeated are skipped.
// Returns the number of entries that changed state.
func (r *Registry) Sweep() int {
	now := r.clock.Now()
	flipped := 0
	for i := range r.slots {
		s := &r.slots[i]
		s.mu.Lock()
		if !s.present || s.lastHeartbeat.IsZero() || now.Sub(s.lastHeartbeat) <= r.timeout {
			s.mu.Unlock()
			continue
		}
		if s.desc.State == realm.Offline {
			s.mu.Unlock()
			continue
		}
		prev := s.desc.State
		s.desc.State = realm.Offline
		desc := s.desc
		age := now.Sub(s.lastHeartbeat)
		s.mu.Unlock()

		flipped++
		metrics.RegistryTransitions.WithLabelValues("sweep").Inc()
		r.log.Warn("world heartbeat timed out",
			zap.Uint8("id", desc.ID),
			zap.String("name", desc.Name),
			zap.Stringer("from", prev),
			zap.Duration("age", age),
		)
	}
	if flipped > 0 {
		r.changed()
	}
	return flipped
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}
