package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnknownOpcode is returned by Dispatch when no handler is registered.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrStateViolation is returned when the opcode is not allowed in the
	// session's current state.
	ErrStateViolation = errors.New("opcode not allowed in state")
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateAwaitingLogin SessionState = iota
	StateAwaitingRealmRequest
	StateAwaitingHandshake
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingLogin:
		return "AwaitingLogin"
	case StateAwaitingRealmRequest:
		return "AwaitingRealmRequest"
	case StateAwaitingHandshake:
		return "AwaitingHandshake"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[SessionState]bool
}

// Registry maps opcodes to handlers with state-based access control.
// Handlers are registered at startup; Dispatch is safe for concurrent use
// once registration is done.
type Registry struct {
	handlers map[Opcode]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[Opcode]*handlerEntry),
		log:      log,
	}
}

// Register maps an opcode to a handler, restricted to the given session states.
func (reg *Registry) Register(op Opcode, states []SessionState, fn HandlerFunc) {
	allowed := make(map[SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[op] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch finds the handler for the packet's opcode, validates the session
// state, and calls the handler. The caller decides whether ErrUnknownOpcode
// and ErrStateViolation are fatal for its protocol.
func (reg *Registry) Dispatch(sess any, state SessionState, pkt Packet) error {
	reg.log.Debug("packet received",
		zap.Stringer("opcode", pkt.Opcode),
		zap.Int("size", len(pkt.Payload)),
		zap.Stringer("state", state),
	)

	entry, ok := reg.handlers[pkt.Opcode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOpcode, pkt.Opcode)
	}

	if !entry.allowedStates[state] {
		return fmt.Errorf("%w: %s in %s", ErrStateViolation, pkt.Opcode, state)
	}

	return reg.safeCall(entry.fn, sess, pkt)
}

// safeCall executes a handler with panic recovery so a bad packet only
// takes down its own session.
func (reg *Registry) safeCall(fn HandlerFunc, sess any, pkt Packet) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("handler panic recovered",
				zap.Stringer("opcode", pkt.Opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode %s: %v", pkt.Opcode, rec)
		}
	}()
	fn(sess, pkt.Reader())
	return nil
}
