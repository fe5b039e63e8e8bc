package handler

import (
	"context"
	stdnet "net"
	"strings"
	"time"

	"github.com/l1jgo/realmd/internal/metrics"
	"github.com/l1jgo/realmd/internal/net"
	"github.com/l1jgo/realmd/internal/net/packet"
	"github.com/l1jgo/realmd/internal/realm"
	"go.uber.org/zap"
)

const (
	loginOK   = "OK"
	loginFail = "FAIL"
)

// RegisterLogin registers the login protocol handlers.
func RegisterLogin(reg *packet.Registry, deps *LoginDeps) {
	reg.Register(packet.LoginRequest,
		[]packet.SessionState{packet.StateAwaitingLogin},
		func(sess any, r *packet.Reader) {
			HandleLoginRequest(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.RealmListRequest,
		[]packet.SessionState{packet.StateAwaitingRealmRequest},
		func(sess any, r *packet.Reader) {
			HandleRealmListRequest(sess.(*net.Session), r, deps)
		},
	)
}

// LoginConnHandler serves login connections. Every protocol violation closes
// the session without a reply.
func LoginConnHandler(deps *LoginDeps) net.ConnHandler {
	reg := packet.NewRegistry(deps.Log)
	RegisterLogin(reg, deps)

	return func(ctx context.Context, conn stdnet.Conn) {
		opts := sessionOptions(deps.ReadTimeout, deps.WriteTimeout)
		sess := net.NewSession(conn, packet.StateAwaitingLogin, deps.Log, opts...)

		metrics.ActiveSessions.WithLabelValues("login").Inc()
		defer metrics.ActiveSessions.WithLabelValues("login").Dec()

		sess.Log().Debug("login session opened", zap.String("ip", sess.IP))
		err := sess.Serve(ctx, reg, nil)
		logSessionEnd(sess, err)
	}
}

// HandleLoginRequest processes LoginRequest. Payload: UTF-8 "user:pass",
// split on the first colon and handed to the credential check as is.
func HandleLoginRequest(sess *net.Session, r *packet.Reader, deps *LoginDeps) {
	user, pass, _ := strings.Cut(string(r.Rest()), ":")

	timeout := deps.CheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, err := deps.Credentials.CheckCredentials(ctx, user, pass)
	switch {
	case err != nil:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		sess.Log().Error("credential check failed", zap.String("user", user), zap.Error(err))
		ok = false
	case ok:
		metrics.LoginAttempts.WithLabelValues("ok").Inc()
	default:
		metrics.LoginAttempts.WithLabelValues("fail").Inc()
	}

	if !ok {
		sess.Log().Info("login failed", zap.String("user", user), zap.String("ip", sess.IP))
		if err := sess.Send(packet.LoginResponse, []byte(loginFail)); err != nil {
			sess.Log().Debug("send login response", zap.Error(err))
		}
		sess.Close()
		return
	}

	if err := sess.Send(packet.LoginResponse, []byte(loginOK)); err != nil {
		sess.Log().Debug("send login response", zap.Error(err))
		sess.Close()
		return
	}
	sess.SetState(packet.StateAwaitingRealmRequest)
	sess.Log().Info("login ok", zap.String("user", user), zap.String("ip", sess.IP))
}

// HandleRealmListRequest sends the realm list and ends the session.
func HandleRealmListRequest(sess *net.Session, _ *packet.Reader, deps *LoginDeps) {
	defer sess.Close()

	worlds := deps.Realms.GetAll()
	body, err := realm.EncodeList(worlds)
	if err != nil {
		sess.Log().Error("encode realm list", zap.Error(err))
		return
	}
	if err := sess.Send(packet.RealmListResponse, body); err != nil {
		sess.Log().Debug("send realm list", zap.Error(err))
		return
	}
	metrics.RealmListRequests.Inc()
	sess.Log().Debug("realm list sent", zap.Int("worlds", len(worlds)))
}

func sessionOptions(read, write time.Duration) []net.SessionOption {
	var opts []net.SessionOption
	if read > 0 {
		opts = append(opts, net.WithReadTimeout(read))
	}
	if write > 0 {
		opts = append(opts, net.WithWriteTimeout(write))
	}
	return opts
}

func logSessionEnd(sess *net.Session, err error) {
	switch {
	case err == nil:
		sess.Log().Debug("session closed")
	case net.IsDisconnect(err):
		sess.Log().Debug("client disconnected")
	default:
		sess.Log().Info("session aborted", zap.Error(err))
	}
}
