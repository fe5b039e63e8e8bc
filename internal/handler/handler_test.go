package handler

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	stdnet "net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/net/packet"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeCredentials struct {
	users map[string]string
	err   error
	seen  []string
}

func (f *fakeCredentials) CheckCredentials(_ context.Context, user, pass string) (bool, error) {
	f.seen = append(f.seen, user)
	if f.err != nil {
		return false, f.err
	}
	want, ok := f.users[user]
	return ok && want == pass, nil
}

type staticRealms []realm.WorldDescriptor

func (s staticRealms) GetAll() []realm.WorldDescriptor { return s }

// serve runs h on one end of a pipe and returns the client end plus a
// channel closed when h returns.
func serve(t *testing.T, h net.ConnHandler) (stdnet.Conn, <-chan struct{}) {
	t.Helper()
	client, server := stdnet.Pipe()
	t.Cleanup(func() { client.Close() })

	done := make(chan struct{})
	go func() {
		h(context.Background(), server)
		close(done)
	}()
	return client, done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
}

func send(t *testing.T, c stdnet.Conn, op packet.Opcode, payload []byte) {
	t.Helper()
	require.NoError(t, net.WritePacket(c, packet.New(op, payload)))
}

func recv(t *testing.T, c stdnet.Conn) packet.Packet {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	pkt, err := net.ReadPacket(c)
	require.NoError(t, err)
	return pkt
}

func loginDeps(t *testing.T, creds *fakeCredentials, worlds ...realm.WorldDescriptor) *LoginDeps {
	return &LoginDeps{
		Credentials: creds,
		Realms:      staticRealms(worlds),
		Log:         zaptest.NewLogger(t),
	}
}

func TestLoginThenRealmList(t *testing.T) {
	worlds := []realm.WorldDescriptor{
		{ID: 1, Name: "Aden", IP: "127.0.0.1", Port: 15001, State: realm.Available, MaxUsers: 100, CurrentUsers: 3},
		{ID: 2, Name: "Giran", IP: "127.0.0.1", Port: 15003, State: realm.Closed, MaxUsers: 50},
	}
	creds := &fakeCredentials{users: map[string]string{"alice": "alice"}}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds, worlds...)))

	send(t, client, packet.LoginRequest, []byte("alice:alice"))
	resp := recv(t, client)
	assert.Equal(t, packet.LoginResponse, resp.Opcode)
	assert.Equal(t, "OK", string(resp.Payload))

	send(t, client, packet.RealmListRequest, nil)
	list := recv(t, client)
	assert.Equal(t, packet.RealmListResponse, list.Opcode)
	got, err := realm.DecodeList(list.Payload)
	require.NoError(t, err)
	assert.Equal(t, worlds, got)

	wait(t, done)
}

func TestLoginPassesUsernameUnchanged(t *testing.T) {
	creds := &fakeCredentials{users: map[string]string{"Alice": "a:b"}}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds)))

	// Split on the first colon only; case is the store's business.
	send(t, client, packet.LoginRequest, []byte("Alice:a:b"))
	assert.Equal(t, "OK", string(recv(t, client).Payload))
	assert.Equal(t, []string{"Alice"}, creds.seen)

	client.Close()
	wait(t, done)
}

func TestLoginFailClosesSession(t *testing.T) {
	creds := &fakeCredentials{users: map[string]string{"alice": "alice"}}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds)))

	send(t, client, packet.LoginRequest, []byte("alice:wrong"))
	assert.Equal(t, "FAIL", string(recv(t, client).Payload))
	wait(t, done)

	_, err := net.ReadPacket(client)
	assert.ErrorIs(t, err, net.ErrConnectionClosed)
}

func TestLoginWriteTimeoutEndsSession(t *testing.T) {
	creds := &fakeCredentials{users: map[string]string{"alice": "alice"}}
	deps := loginDeps(t, creds)
	deps.WriteTimeout = 50 * time.Millisecond
	client, done := serve(t, LoginConnHandler(deps))

	// The response is never read; the session must give up on its own.
	send(t, client, packet.LoginRequest, []byte("alice:wrong"))
	wait(t, done)
}

func TestLoginMissingColonMeansEmptyPassword(t *testing.T) {
	creds := &fakeCredentials{users: map[string]string{"guest": ""}}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds)))

	send(t, client, packet.LoginRequest, []byte("guest"))
	assert.Equal(t, "OK", string(recv(t, client).Payload))

	client.Close()
	wait(t, done)
}

func TestLoginCheckerErrorIsFail(t *testing.T) {
	creds := &fakeCredentials{err: errors.New("db down")}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds)))

	send(t, client, packet.LoginRequest, []byte("alice:alice"))
	assert.Equal(t, "FAIL", string(recv(t, client).Payload))
	wait(t, done)
}

func TestLoginRealmListBeforeLoginCloses(t *testing.T) {
	creds := &fakeCredentials{}
	client, done := serve(t, LoginConnHandler(loginDeps(t, creds)))

	send(t, client, packet.RealmListRequest, nil)
	wait(t, done)

	_, err := net.ReadPacket(client)
	assert.ErrorIs(t, err, net.ErrConnectionClosed)
	assert.Empty(t, creds.seen)
}

type fakeHeartbeat struct {
	mu     sync.Mutex
	state  *world.State
	states []realm.WorldState
}

func (f *fakeHeartbeat) SendNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, f.state.Descriptor().State)
}

func (f *fakeHeartbeat) sent() []realm.WorldState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realm.WorldState(nil), f.states...)
}

type shoutGreeter struct{}

func (shoutGreeter) Greeting(w realm.WorldDescriptor, user string) string {
	return "HI " + user + " FROM " + w.Name
}

type worldFixture struct {
	deps     *WorldDeps
	hb       *fakeHeartbeat
	shutdown chan struct{}
}

func newWorldFixture(t *testing.T) *worldFixture {
	state := world.NewState(realm.WorldDescriptor{
		ID: 1, Name: "Aden", IP: "127.0.0.1", Port: 15001, State: realm.Available, MaxUsers: 100,
	})
	hb := &fakeHeartbeat{state: state}
	f := &worldFixture{hb: hb, shutdown: make(chan struct{})}
	var once sync.Once
	f.deps = &WorldDeps{
		World:     state,
		Players:   world.NewDirectory(),
		Monitors:  world.NewMonitors(8, time.Second, zaptest.NewLogger(t)),
		Heartbeat: hb,
		Shutdown:  func() { once.Do(func() { close(f.shutdown) }) },
		Log:       zaptest.NewLogger(t),
	}
	return f
}

func handshake(t *testing.T, c stdnet.Conn, user string) string {
	t.Helper()
	send(t, c, packet.WorldHandshake, []byte(user))
	pkt := recv(t, c)
	require.Equal(t, packet.WorldWelcome, pkt.Opcode)
	return string(pkt.Payload)
}

func position(x, y, z float32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(x))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(y))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(z))
	return b
}

func TestWorldSessionFlow(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))

	assert.Equal(t, "Welcome to 'Aden' WorldServer!", handshake(t, client, "alice"))
	assert.Equal(t, 1, f.deps.World.Descriptor().CurrentUsers)

	send(t, client, packet.Ping, nil)
	assert.Equal(t, packet.Pong, recv(t, client).Opcode)

	send(t, client, packet.UpdatePlayerPosition, position(1.5, -2, 300))
	send(t, client, packet.UpdatePlayerPosition, []byte{1, 2, 3}) // ignored
	send(t, client, packet.QueryConnectedPlayers, nil)
	resp := recv(t, client)
	require.Equal(t, packet.QueryConnectedPlayersResponse, resp.Opcode)

	var players []world.PlayerInfo
	require.NoError(t, json.Unmarshal(resp.Payload, &players))
	require.Len(t, players, 1)
	assert.Equal(t, "alice", players[0].UserID)
	assert.Equal(t, world.Vec3{X: 1.5, Y: -2, Z: 300}, players[0].Position)

	send(t, client, packet.Disconnect, nil)
	wait(t, done)
	assert.Zero(t, f.deps.Players.Count())
	assert.Zero(t, f.deps.World.Descriptor().CurrentUsers)
}

func TestWorldPositionByteLayout(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))
	handshake(t, client, "alice")

	// 1.5, -2, 300 as little-endian IEEE-754.
	send(t, client, packet.UpdatePlayerPosition, []byte{
		0x00, 0x00, 0xC0, 0x3F,
		0x00, 0x00, 0x00, 0xC0,
		0x00, 0x00, 0x96, 0x43,
	})
	send(t, client, packet.Ping, nil)
	recv(t, client)

	p := f.deps.Players.Snapshot()
	require.Len(t, p, 1)
	assert.Equal(t, world.Vec3{X: 1.5, Y: -2, Z: 300}, p[0].Position)

	client.Close()
	wait(t, done)
}

func TestWorldHandshakeWithoutUser(t *testing.T) {
	f := newWorldFixture(t)
	f.deps.Greeter = shoutGreeter{}
	client, done := serve(t, WorldConnHandler(f.deps))

	assert.Equal(t, "HI Unknown FROM Aden", handshake(t, client, ""))

	client.Close()
	wait(t, done)
	assert.Zero(t, f.deps.Players.Count())
}

func TestWorldRejectsOpcodesBeforeHandshake(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))

	send(t, client, packet.Ping, nil)
	wait(t, done)
	assert.Zero(t, f.deps.Players.Count())
}

func TestWorldToleratesUnknownOpcodesWhenActive(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))
	handshake(t, client, "bob")

	send(t, client, packet.GetHealth, nil)
	send(t, client, packet.WorldHandshake, []byte("again"))
	send(t, client, packet.Opcode(0x99), nil)
	send(t, client, packet.Ping, nil)
	assert.Equal(t, packet.Pong, recv(t, client).Opcode)

	p := f.deps.Players.Snapshot()
	require.Len(t, p, 1)
	assert.Equal(t, "bob", p[0].UserID)

	client.Close()
	wait(t, done)
}

func TestWorldSetState(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))
	handshake(t, client, "admin")

	send(t, client, packet.SetState, []byte{byte(realm.Closed)})
	send(t, client, packet.SetState, []byte{9}) // invalid, rejected
	send(t, client, packet.SetState, nil)       // empty, ignored
	send(t, client, packet.Ping, nil)
	recv(t, client)

	assert.Equal(t, realm.Closed, f.deps.World.Descriptor().State)
	assert.Equal(t, []realm.WorldState{realm.Closed}, f.hb.sent())

	client.Close()
	wait(t, done)
}

func TestWorldShutdown(t *testing.T) {
	f := newWorldFixture(t)
	client, done := serve(t, WorldConnHandler(f.deps))
	handshake(t, client, "admin")

	send(t, client, packet.WorldShutdown, nil)
	wait(t, done)

	select {
	case <-f.shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown not requested")
	}
	assert.Equal(t, realm.Offline, f.deps.World.Descriptor().State)
	assert.Equal(t, []realm.WorldState{realm.Offline}, f.hb.sent())
	assert.Zero(t, f.deps.Players.Count())
}

func TestWorldMonitorNotifications(t *testing.T) {
	f := newWorldFixture(t)

	monClient, monServer := stdnet.Pipe()
	defer monClient.Close()
	monCtx, cancelMon := context.WithCancel(context.Background())
	monDone := make(chan struct{})
	go func() {
		f.deps.Monitors.Serve(monCtx, monServer)
		close(monDone)
	}()
	defer func() {
		cancelMon()
		wait(t, monDone)
	}()
	require.Eventually(t, func() bool { return f.deps.Monitors.Count() == 1 }, time.Second, 5*time.Millisecond)

	lines := make(chan string, 4)
	go func() {
		r := bufio.NewReader(monClient)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSuffix(line, "\n")
		}
	}()

	client, done := serve(t, WorldConnHandler(f.deps))
	connected := <-lines
	assert.Contains(t, connected, "Client connected: ")

	client.Close()
	wait(t, done)
	disconnected := <-lines
	assert.Contains(t, disconnected, "Client disconnected: ")
	assert.Equal(t, connected[len("Client connected: "):], disconnected[len("Client disconnected: "):])
}
