package handler

import (
	"context"
	"time"

	"github.com/l1jgo/realmd/internal/realm"
	"github.com/l1jgo/realmd/internal/world"
	"go.uber.org/zap"
)

// CredentialChecker validates a username/password pair. A non-nil error
// means the check itself failed, not that the credentials were wrong.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, username, password string) (bool, error)
}

// RealmSource supplies the realm list sent to authenticated clients.
type RealmSource interface {
	GetAll() []realm.WorldDescriptor
}

// LoginDeps holds shared dependencies injected into login handlers.
type LoginDeps struct {
	Credentials  CredentialChecker
	Realms       RealmSource
	Log          *zap.Logger
	ReadTimeout  time.Duration // idle limit before the first/next frame; 0 = none
	WriteTimeout time.Duration // bound on one frame write; 0 = session default
	CheckTimeout time.Duration // bound on one credential lookup
}

// Greeter renders the WorldWelcome text.
type Greeter interface {
	Greeting(w realm.WorldDescriptor, user string) string
}

// HeartbeatPusher sends an out-of-band heartbeat.
type HeartbeatPusher interface {
	SendNow()
}

// WorldDeps holds shared dependencies injected into world handlers.
type WorldDeps struct {
	World     *world.State
	Players   *world.Directory
	Monitors  *world.Monitors
	Heartbeat HeartbeatPusher
	Greeter   Greeter // nil = world.DefaultGreeting
	Shutdown  func()  // requests an orderly process shutdown
	Log       *zap.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
