package world

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStateSetState(t *testing.T) {
	s := NewState(realm.WorldDescriptor{ID: 3, Name: "Aden", State: realm.Available, MaxUsers: 100})

	prev := s.SetState(realm.Closed)
	assert.Equal(t, realm.Available, prev)
	assert.Equal(t, realm.Closed, s.Descriptor().State)

	s.SetCurrentUsers(12)
	assert.Equal(t, 12, s.Descriptor().CurrentUsers)
	assert.Equal(t, "Aden", s.Name())
}

func TestDirectoryLifecycle(t *testing.T) {
	d := NewDirectory()
	id := uuid.New()

	assert.Equal(t, 1, d.Add(id))
	p, ok := d.Get(id)
	require.True(t, ok)
	assert.Equal(t, UnknownUser, p.UserID)
	assert.Equal(t, Vec3{}, p.Position)

	assert.True(t, d.SetUserID(id, "alice"))
	assert.True(t, d.SetPosition(id, Vec3{X: 1, Y: 2.5, Z: -3}))
	p, _ = d.Get(id)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, Vec3{X: 1, Y: 2.5, Z: -3}, p.Position)

	assert.True(t, d.SetUserID(id, ""))
	p, _ = d.Get(id)
	assert.Equal(t, UnknownUser, p.UserID)

	n, ok := d.Remove(id)
	assert.True(t, ok)
	assert.Zero(t, n)
	_, ok = d.Remove(id)
	assert.False(t, ok)
	assert.False(t, d.SetPosition(id, Vec3{}))
}

func TestDirectorySnapshotIsCopy(t *testing.T) {
	d := NewDirectory()
	a, b := uuid.New(), uuid.New()
	d.Add(a)
	d.Add(b)
	d.SetUserID(a, "zed")
	d.SetUserID(b, "amy")

	snap := d.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "amy", snap[0].UserID)
	assert.Equal(t, "zed", snap[1].UserID)

	snap[0].UserID = "mutated"
	p, _ := d.Get(b)
	assert.Equal(t, "amy", p.UserID)
}

func TestDirectoryConcurrentSessions(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := uuid.New()
			d.Add(id)
			d.SetPosition(id, Vec3{X: 1})
			_ = d.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, d.Count())
}

func attachMonitor(t *testing.T, m *Monitors) (net.Conn, context.CancelFunc, chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Serve(ctx, server)
		close(done)
	}()
	require.Eventually(t, func() bool { return m.Count() > 0 }, time.Second, 5*time.Millisecond)
	return client, cancel, done
}

func TestMonitorsBroadcast(t *testing.T) {
	m := NewMonitors(8, time.Second, zaptest.NewLogger(t))
	client, cancel, done := attachMonitor(t, m)
	defer client.Close()

	m.Broadcast(ConnectedMessage("abc"))
	m.Broadcast(DisconnectedMessage("abc"))

	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Client connected: abc\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Client disconnected: abc\n", line)

	cancel()
	<-done
	assert.Zero(t, m.Count())
}

func TestMonitorsPeerCloseDetaches(t *testing.T) {
	m := NewMonitors(8, time.Second, zaptest.NewLogger(t))
	client, cancel, done := attachMonitor(t, m)
	defer cancel()

	client.Close()
	<-done
	assert.Zero(t, m.Count())

	// Broadcasting with no monitors is a no-op.
	m.Broadcast("nobody listening")
}

func TestMonitorsFullQueueDoesNotBlock(t *testing.T) {
	m := NewMonitors(1, time.Second, zaptest.NewLogger(t))
	client, cancel, done := attachMonitor(t, m)
	defer client.Close()

	// Nobody reads the pipe, so the writer blocks and the queue fills.
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			m.Broadcast("spam")
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow monitor")
	}

	cancel()
	<-done
}

func TestMonitorsClose(t *testing.T) {
	m := NewMonitors(0, 0, zaptest.NewLogger(t))
	client, cancel, done := attachMonitor(t, m)
	defer cancel()
	defer client.Close()

	m.Close()
	<-done
	assert.Zero(t, m.Count())
}
