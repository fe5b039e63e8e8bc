package registry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func aden() realm.WorldDescriptor {
	return realm.WorldDescriptor{
		ID: 1, Name: "Aden", IP: "127.0.0.1", Port: 15001,
		State: realm.Available, MaxUsers: 100, CurrentUsers: 15,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *clock.Mock) {
	mock := clock.NewMock()
	return New(zaptest.NewLogger(t), WithClock(mock), WithTimeout(60*time.Second)), mock
}

func TestRegisterInsert(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Register(aden())

	e, ok := reg.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, aden(), e.World)
	assert.Equal(t, mock.Now(), e.LastHeartbeat)
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterSameStateKeepsStoredDescriptor(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Register(aden())
	first, _ := reg.Lookup(1)

	mock.Add(10 * time.Second)
	update := aden()
	update.CurrentUsers = 80
	update.MaxUsers = 500
	update.Name = "renamed"
	reg.Register(update)

	e, _ := reg.Lookup(1)
	assert.Equal(t, aden(), e.World, "unchanged state must not overwrite stored fields")
	assert.True(t, e.LastHeartbeat.After(first.LastHeartbeat), "heartbeat must advance")
	assert.Equal(t, mock.Now(), e.LastHeartbeat)
}

func TestRegisterTransitionReplacesDescriptor(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Register(aden())

	mock.Add(time.Second)
	closed := aden()
	closed.State = realm.Closed
	closed.CurrentUsers = 42
	closed.Name = "Aden (maintenance)"
	reg.Register(closed)

	e, _ := reg.Lookup(1)
	assert.Equal(t, closed, e.World)
	assert.Equal(t, mock.Now(), e.LastHeartbeat)
}

func TestSweepMarksStaleOffline(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Register(aden())

	fresh := aden()
	fresh.ID = 2
	mock.Add(30 * time.Second)
	reg.Register(fresh)
	stamp, _ := reg.Lookup(1)

	mock.Add(31 * time.Second) // world 1 is 61s old, world 2 is 31s old
	assert.Equal(t, 1, reg.Sweep())

	stale, _ := reg.Lookup(1)
	assert.Equal(t, realm.Offline, stale.World.State)
	assert.Equal(t, stamp.LastHeartbeat, stale.LastHeartbeat, "sweep must not touch the timestamp")

	alive, _ := reg.Lookup(2)
	assert.Equal(t, realm.Available, alive.World.State)

	assert.Zero(t, reg.Sweep(), "already offline entries are not counted twice")
}

func TestStaleEntryRecoversOnHeartbeat(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Register(aden())
	mock.Add(2 * time.Minute)
	reg.Sweep()

	reg.Register(aden())
	e, _ := reg.Lookup(1)
	assert.Equal(t, realm.Available, e.World.State)
	assert.Equal(t, mock.Now(), e.LastHeartbeat)
}

func TestSeededEntryIsExemptFromSweep(t *testing.T) {
	reg, mock := newTestRegistry(t)

	assert.True(t, reg.Seed(aden()))
	assert.False(t, reg.Seed(aden()), "seeding an existing id is a no-op")

	mock.Add(time.Hour)
	assert.Zero(t, reg.Sweep())
	e, _ := reg.Lookup(1)
	assert.True(t, e.NeverHeartbeated())
	assert.Equal(t, realm.Available, e.World.State)

	// The first heartbeat ends the exemption.
	reg.Register(aden())
	mock.Add(61 * time.Second)
	assert.Equal(t, 1, reg.Sweep())
}

func TestConcurrentRegisterDistinctIDs(t *testing.T) {
	reg := New(zap.NewNop())

	const n = 256
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uint8) {
			defer wg.Done()
			d := aden()
			d.ID = id
			reg.Register(d)
			_ = reg.GetAll()
		}(uint8(i))
	}
	wg.Wait()

	all := reg.GetAll()
	require.Len(t, all, n)
	for i, w := range all {
		assert.Equal(t, uint8(i), w.ID)
	}
}

func TestConcurrentRegisterSameID(t *testing.T) {
	reg := New(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := aden()
			d.State = realm.WorldState(i % 3)
			reg.Register(d)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
}

func TestGetAllIsSnapshot(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(aden())

	snap := reg.GetAll()
	snap[0].State = realm.Offline

	e, _ := reg.Lookup(1)
	assert.Equal(t, realm.Available, e.World.State)
}

func TestChangeHook(t *testing.T) {
	calls := 0
	reg := New(zap.NewNop(), WithChangeHook(func() { calls++ }))

	reg.Register(aden()) // insert
	reg.Register(aden()) // refresh only
	closed := aden()
	closed.State = realm.Closed
	reg.Register(closed) // transition

	assert.Equal(t, 2, calls)
}

func TestRunSweeper(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Register(aden())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.RunSweeper(ctx, 30*time.Second) }()

	require.Eventually(t, func() bool {
		mock.Add(30 * time.Second)
		e, _ := reg.Lookup(1)
		return e.World.State == realm.Offline
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestCollector(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Register(aden())
	closed := aden()
	closed.ID = 2
	closed.State = realm.Closed
	reg.Register(closed)

	assert.Equal(t, 3, testutil.CollectAndCount(NewCollector(reg)))
}

func TestHeartbeatListener(t *testing.T) {
	reg := New(zap.NewNop())
	l, err := ListenHeartbeats("127.0.0.1:0", reg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage"))
	require.NoError(t, err)

	body, err := realm.MarshalHeartbeat(aden())
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup(1)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	e, _ := reg.Lookup(1)
	assert.Equal(t, aden(), e.World)

	cancel()
	assert.NoError(t, <-done)
}

type recordingCache struct {
	mu     sync.Mutex
	writes [][]realm.WorldDescriptor
}

func (c *recordingCache) SetWorlds(_ context.Context, worlds []realm.WorldDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, worlds)
	return nil
}

func (c *recordingCache) last() []realm.WorldDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

func TestPublisherWritesOnChange(t *testing.T) {
	reg := New(zap.NewNop())
	cache := &recordingCache{}
	pub := NewPublisher(reg, cache, 0, zap.NewNop())
	reg.SetChangeHook(pub.Notify)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	reg.Register(aden())
	require.Eventually(t, func() bool {
		return len(cache.last()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, aden(), cache.last()[0])

	cancel()
	assert.NoError(t, <-done)
}
