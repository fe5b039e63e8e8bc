package handler

import (
	"context"
	"encoding/json"
	"errors"
	stdnet "net"

	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/net/packet"
	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/world"
	"go.uber.org/zap"
)

// RegisterWorld registers the world protocol handlers.
func RegisterWorld(reg *packet.Registry, deps *WorldDeps) {
	reg.Register(packet.WorldHandshake,
		[]packet.SessionState{packet.StateAwaitingHandshake},
		func(sess any, r *packet.Reader) {
			HandleHandshake(sess.(*net.Session), r, deps)
		},
	)

	active := []packet.SessionState{packet.StateActive}

	reg.Register(packet.Ping, active,
		func(sess any, r *packet.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.SetState, active,
		func(sess any, r *packet.Reader) {
			HandleSetState(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.UpdatePlayerPosition, active,
		func(sess any, r *packet.Reader) {
			HandleUpdatePosition(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.QueryConnectedPlayers, active,
		func(sess any, r *packet.Reader) {
			HandleQueryPlayers(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.Disconnect, active,
		func(sess any, r *packet.Reader) {
			HandleDisconnect(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.WorldShutdown, active,
		func(sess any, r *packet.Reader) {
			HandleWorldShutdown(sess.(*net.Session), r, deps)
		},
	)
}

// tolerateWorld keeps an Active session open on opcodes it does not handle.
// Before the handshake any unexpected opcode ends the session.
func tolerateWorld(state packet.SessionState, err error) bool {
	if state != packet.StateActive {
		return false
	}
	return errors.Is(err, packet.ErrUnknownOpcode) || errors.Is(err, packet.ErrStateViolation)
}

// WorldConnHandler serves world client connections. The player directory
// mirrors open sessions: an entry is added on accept and removed exactly once
// on whichever exit path comes first.
func WorldConnHandler(deps *WorldDeps) net.ConnHandler {
	reg := packet.NewRegistry(deps.Log)
	RegisterWorld(reg, deps)

	return func(ctx context.Context, conn stdnet.Conn) {
		opts := sessionOptions(deps.ReadTimeout, deps.WriteTimeout)
		sess := net.NewSession(conn, packet.StateAwaitingHandshake, deps.Log, opts...)

		metrics.ActiveSessions.WithLabelValues("world").Inc()
		defer metrics.ActiveSessions.WithLabelValues("world").Dec()

		deps.World.SetCurrentUsers(deps.Players.Add(sess.ID))
		deps.Monitors.Broadcast(world.ConnectedMessage(sess.ID.String()))
		sess.Log().Info("client connected", zap.String("ip", sess.IP))
		defer leaveWorld(sess, deps)

		err := sess.Serve(ctx, reg, tolerateWorld)
		logSessionEnd(sess, err)
	}
}

func leaveWorld(sess *net.Session, deps *WorldDeps) {
	n, ok := deps.Players.Remove(sess.ID)
	if !ok {
		return
	}
	deps.World.SetCurrentUsers(n)
	deps.Monitors.Broadcast(world.DisconnectedMessage(sess.ID.String()))
	sess.Log().Info("client disconnected")
}

// HandleHandshake processes WorldHandshake. The optional payload is the
// client's user id.
func HandleHandshake(sess *net.Session, r *packet.Reader, deps *WorldDeps) {
	user := string(r.Rest())
	deps.Players.SetUserID(sess.ID, user)
	if user == "" {
		user = world.UnknownUser
	}

	desc := deps.World.Descriptor()
	greeting := world.DefaultGreeting(desc)
	if deps.Greeter != nil {
		greeting = deps.Greeter.Greeting(desc, user)
	}

	if err := sess.Send(packet.WorldWelcome, []byte(greeting)); err != nil {
		sess.Log().Debug("send welcome", zap.Error(err))
		sess.Close()
		return
	}
	sess.SetState(packet.StateActive)
	sess.Log().Info("handshake complete", zap.String("user", user))
}

func HandlePing(sess *net.Session, _ *packet.Reader, _ *WorldDeps) {
	if err := sess.Send(packet.Pong, nil); err != nil {
		sess.Log().Debug("send pong", zap.Error(err))
	}
}

// HandleSetState changes the advertised state and pushes a heartbeat so the
// login service sees it without waiting for the next interval.
func HandleSetState(sess *net.Session, r *packet.Reader, deps *WorldDeps) {
	b := r.ReadC()
	if r.Err() != nil {
		sess.Log().Warn("SetState without a state byte")
		return
	}
	st := realm.WorldState(b)
	if !st.Valid() {
		sess.Log().Warn("rejecting invalid world state", zap.Uint8("state", b))
		return
	}

	prev := deps.World.SetState(st)
	deps.Log.Info("world state changed by client",
		zap.Stringer("from", prev),
		zap.Stringer("to", st),
		zap.String("session", sess.ID.String()),
	)
	deps.Heartbeat.SendNow()
}

// HandleUpdatePosition processes UpdatePlayerPosition: three little-endian
// float32 (x, y, z). Short payloads are ignored.
func HandleUpdatePosition(sess *net.Session, r *packet.Reader, deps *WorldDeps) {
	pos := world.Vec3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()}
	if r.Err() != nil {
		sess.Log().Debug("ignoring short position update", zap.Int("len", r.Remaining()))
		return
	}
	deps.Players.SetPosition(sess.ID, pos)
	sess.Log().Debug("position updated",
		zap.Float32("x", pos.X), zap.Float32("y", pos.Y), zap.Float32("z", pos.Z))
}

// HandleQueryPlayers replies with a JSON array of the connected players.
func HandleQueryPlayers(sess *net.Session, _ *packet.Reader, deps *WorldDeps) {
	body, err := json.Marshal(deps.Players.Snapshot())
	if err != nil {
		sess.Log().Error("encode player list", zap.Error(err))
		return
	}
	if err := sess.Send(packet.QueryConnectedPlayersResponse, body); err != nil {
		sess.Log().Debug("send player list", zap.Error(err))
	}
}

func HandleDisconnect(sess *net.Session, _ *packet.Reader, deps *WorldDeps) {
	sess.Log().Info("client requested disconnect")
	leaveWorld(sess, deps)
	sess.Close()
}

// HandleWorldShutdown advertises Offline, flushes a heartbeat and asks the
// process to shut down.
func HandleWorldShutdown(sess *net.Session, _ *packet.Reader, deps *WorldDeps) {
	deps.Log.Warn("shutdown requested by client", zap.String("session", sess.ID.String()))
	deps.World.SetState(realm.Offline)
	deps.Heartbeat.SendNow()
	sess.Close()
	if deps.Shutdown != nil {
		deps.Shutdown()
	}
}
