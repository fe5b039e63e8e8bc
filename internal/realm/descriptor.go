// Package realm holds the world descriptor shared by the login service, the
// world server and clients, and its two wire encodings: the binary realm
// list sent to clients and the JSON heartbeat body sent over UDP.
package realm

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// WorldState is the availability of a world as advertised to clients.
type WorldState uint8

const (
	Offline   WorldState = 0 // unreachable or not heartbeating
	Closed    WorldState = 1 // up but not accepting new sessions
	Available WorldState = 2 // up and accepting connections
)

func (s WorldState) String() string {
	switch s {
	case Offline:
		return "Offline"
	case Closed:
		return "Closed"
	case Available:
		return "Available"
	default:
		return fmt.Sprintf("WorldState(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the defined states.
func (s WorldState) Valid() bool {
	return s <= Available
}

// ParseWorldState accepts a state name (case-insensitive) or its number.
func ParseWorldState(text string) (WorldState, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "offline":
		return Offline, nil
	case "closed":
		return Closed, nil
	case "available":
		return Available, nil
	}
	n, err := strconv.ParseUint(text, 10, 8)
	if err != nil || !WorldState(n).Valid() {
		return 0, fmt.Errorf("invalid world state %q", text)
	}
	return WorldState(n), nil
}

// UnmarshalText lets config files spell states by name.
func (s *WorldState) UnmarshalText(text []byte) error {
	v, err := ParseWorldState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON keeps the numeric encoding on the heartbeat wire.
func (s WorldState) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(s), 10), nil
}

// UnmarshalJSON accepts either the numeric value or the state name.
func (s *WorldState) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		return s.UnmarshalText([]byte(name))
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid world state %s: %w", data, err)
	}
	if !WorldState(n).Valid() {
		return fmt.Errorf("invalid world state %d", n)
	}
	*s = WorldState(n)
	return nil
}

// WorldDescriptor describes one world server. ID is the registry key.
type WorldDescriptor struct {
	ID           uint8      `json:"id"`
	Name         string     `json:"name"`
	IP           string     `json:"ip"`
	Port         int        `json:"port"`
	State        WorldState `json:"state"`
	MaxUsers     int        `json:"maxUsers"`
	CurrentUsers int        `json:"currentUsers"`
}

// Capacity is the number of free player slots.
func (d WorldDescriptor) Capacity() int {
	return d.MaxUsers - d.CurrentUsers
}

// UsagePercent is the share of slots in use, 0..100.
func (d WorldDescriptor) UsagePercent() float64 {
	if d.MaxUsers == 0 {
		return 0
	}
	return float64(d.CurrentUsers) / float64(d.MaxUsers) * 100
}

// Address returns host:port for dialing the world.
func (d WorldDescriptor) Address() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// MarshalHeartbeat renders the JSON body of one heartbeat datagram.
func MarshalHeartbeat(d WorldDescriptor) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalHeartbeat parses a heartbeat datagram.
func UnmarshalHeartbeat(data []byte) (WorldDescriptor, error) {
	var d WorldDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return WorldDescriptor{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	return d, nil
}
