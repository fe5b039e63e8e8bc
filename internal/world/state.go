// Package world holds the world server's shared in-memory state: its own
// advertised descriptor, the directory of connected players and the monitor
// connections that observe them.
package world

import (
	"sync"

	"github.com/l1jgo/realmd/internal/realm"
)

// State owns the world's descriptor. Session goroutines mutate it through
// SetState/SetCurrentUsers while the heartbeat sender reads snapshots.
type State struct {
	mu   sync.RWMutex
	desc realm.WorldDescriptor
}

func NewState(d realm.WorldDescriptor) *State {
	return &State{desc: d}
}

// Descriptor returns a copy of the current descriptor.
func (s *State) Descriptor() realm.WorldDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc
}

// SetState changes the advertised state and returns the previous one.
func (s *State) SetState(st realm.WorldState) realm.WorldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.desc.State
	s.desc.State = st
	return prev
}

func (s *State) SetCurrentUsers(n int) {
	s.mu.Lock()
	s.desc.CurrentUsers = n
	s.mu.Unlock()
}

func (s *State) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc.Name
}

// DefaultGreeting is the WorldWelcome text used when no script overrides it.
func DefaultGreeting(w realm.WorldDescriptor) string {
	return "Welcome to '" + w.Name + "' WorldServer!"
}
