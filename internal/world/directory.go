package world

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/l1jgo/realmd/internal/metrics"
)

// UnknownUser is the user id of a session that has not handshaken yet, or
// handshook without naming itself.
const UnknownUser = "Unknown"

// Vec3 is a position in world space.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// PlayerInfo is one connected world client.
type PlayerInfo struct {
	SessionID uuid.UUID `json:"sessionId"`
	UserID    string    `json:"userId"`
	Position  Vec3      `json:"position"`
}

// Directory maps session ids to players. Each entry is written only by the
// goroutine serving that session; readers take snapshots.
type Directory struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*PlayerInfo
}

func NewDirectory() *Directory {
	return &Directory{players: make(map[uuid.UUID]*PlayerInfo)}
}

// Add inserts a player at the origin with UnknownUser and returns the new
// directory size.
func (d *Directory) Add(id uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.players[id] = &PlayerInfo{SessionID: id, UserID: UnknownUser}
	n := len(d.players)
	metrics.ConnectedPlayers.Set(float64(n))
	return n
}

// Remove deletes the player and returns the new directory size and whether
// the player was present.
func (d *Directory) Remove(id uuid.UUID) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.players[id]
	delete(d.players, id)
	n := len(d.players)
	metrics.ConnectedPlayers.Set(float64(n))
	return n, ok
}

// SetUserID records the user id presented at handshake. Empty ids keep
// UnknownUser.
func (d *Directory) SetUserID(id uuid.UUID, user string) bool {
	if user == "" {
		user = UnknownUser
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	if ok {
		p.UserID = user
	}
	return ok
}

func (d *Directory) SetPosition(id uuid.UUID, pos Vec3) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.players[id]
	if ok {
		p.Position = pos
	}
	return ok
}

// Get returns a copy of one player.
func (d *Directory) Get(id uuid.UUID) (PlayerInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.players[id]
	if !ok {
		return PlayerInfo{}, false
	}
	return *p, true
}

// Snapshot copies every player, ordered by user id then session id so
// replies are stable.
func (d *Directory) Snapshot() []PlayerInfo {
	d.mu.RLock()
	out := make([]PlayerInfo, 0, len(d.players))
	for _, p := range d.players {
		out = append(out, *p)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].SessionID.String() < out[j].SessionID.String()
	})
	return out
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players)
}
