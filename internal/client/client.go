// Package client speaks the login and world protocols from the client side.
// It backs the realmctl tool and the end-to-end tests.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdnet "net"
	"time"

	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/net/packet"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/world"
)

// ErrUnexpectedReply means the server answered with a different opcode.
var ErrUnexpectedReply = errors.New("unexpected reply")

const DefaultTimeout = 10 * time.Second

// Client is one protocol connection. It is not safe for concurrent use.
type Client struct {
	conn    stdnet.Conn
	timeout time.Duration
}

// Dial connects to a login or world server. timeout bounds each request;
// 0 means DefaultTimeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var d stdnet.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(op packet.Opcode, payload []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return net.WritePacket(c.conn, packet.New(op, payload))
}

func (c *Client) call(op packet.Opcode, payload []byte, want packet.Opcode) (packet.Packet, error) {
	if err := c.send(op, payload); err != nil {
		return packet.Packet{}, err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	pkt, err := net.ReadPacket(c.conn)
	if err != nil {
		return packet.Packet{}, err
	}
	if pkt.Opcode != want {
		return pkt, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, pkt.Opcode, want)
	}
	return pkt, nil
}

// Login sends "user:pass" and reports whether the server accepted it. After
// a rejection the server closes the connection.
func (c *Client) Login(user, pass string) (bool, error) {
	pkt, err := c.call(packet.LoginRequest, []byte(user+":"+pass), packet.LoginResponse)
	if err != nil {
		return false, err
	}
	return string(pkt.Payload) == "OK", nil
}

// RealmList requests the realm list. Valid only after a successful Login;
// the server closes the connection afterwards.
func (c *Client) RealmList() ([]realm.WorldDescriptor, error) {
	pkt, err := c.call(packet.RealmListRequest, nil, packet.RealmListResponse)
	if err != nil {
		return nil, err
	}
	return realm.DecodeList(pkt.Payload)
}

// Handshake identifies the client to a world server and returns the greeting.
func (c *Client) Handshake(user string) (string, error) {
	pkt, err := c.call(packet.WorldHandshake, []byte(user), packet.WorldWelcome)
	if err != nil {
		return "", err
	}
	return string(pkt.Payload), nil
}

// Ping returns the round-trip time.
func (c *Client) Ping() (time.Duration, error) {
	start := time.Now()
	if _, err := c.call(packet.Ping, nil, packet.Pong); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// SetState asks the world to advertise st. The server does not reply.
func (c *Client) SetState(st realm.WorldState) error {
	return c.send(packet.SetState, []byte{byte(st)})
}

// UpdatePosition reports the player's position. The server does not reply.
func (c *Client) UpdatePosition(pos world.Vec3) error {
	w := packet.NewWriter()
	w.WriteF(pos.X)
	w.WriteF(pos.Y)
	w.WriteF(pos.Z)
	return c.send(packet.UpdatePlayerPosition, w.Bytes())
}

func (c *Client) QueryPlayers() ([]world.PlayerInfo, error) {
	pkt, err := c.call(packet.QueryConnectedPlayers, nil, packet.QueryConnectedPlayersResponse)
	if err != nil {
		return nil, err
	}
	var players []world.PlayerInfo
	if err := json.Unmarshal(pkt.Payload, &players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	return players, nil
}

// Disconnect ends the world session cleanly.
func (c *Client) Disconnect() error {
	return c.send(packet.Disconnect, nil)
}

// Shutdown asks the world server to go Offline and exit.
func (c *Client) Shutdown() error {
	return c.send(packet.WorldShutdown, nil)
}

// WatchMonitor connects to a world's monitor port and calls fn for every
// notification line until ctx is cancelled or the server hangs up.
func WatchMonitor(ctx context.Context, addr string, fn func(line string)) error {
	var d stdnet.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial monitor %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		fn(sc.Text())
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil && !errors.Is(err, stdnet.ErrClosed) {
		return err
	}
	return nil
}
