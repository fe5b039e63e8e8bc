package data

import (
	"fmt"
	"math"
	"os"

	"github.com/l1jgo/realmd/internal/realm"
	"gopkg.in/yaml.v3"
)

// SeedWorld is one entry of the seed world list: a world the login service
// should advertise before it has heard a heartbeat from it.
type SeedWorld struct {
	ID       uint8            `yaml:"id"`
	Name     string           `yaml:"name"`
	IP       string           `yaml:"ip"`
	Port     int              `yaml:"port"`
	State    realm.WorldState `yaml:"state"`
	MaxUsers int              `yaml:"max_users"`
}

func (s SeedWorld) Descriptor() realm.WorldDescriptor {
	return realm.WorldDescriptor{
		ID:       s.ID,
		Name:     s.Name,
		IP:       s.IP,
		Port:     s.Port,
		State:    s.State,
		MaxUsers: s.MaxUsers,
	}
}

// LoadSeedWorlds loads a seed world list (YAML sequence). Every entry must
// encode into a realm list record, and ids must be unique.
func LoadSeedWorlds(path string) ([]realm.WorldDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed worlds: %w", err)
	}
	var entries []SeedWorld
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse seed worlds: %w", err)
	}

	seen := make(map[uint8]bool, len(entries))
	worlds := make([]realm.WorldDescriptor, 0, len(entries))
	for i, e := range entries {
		if seen[e.ID] {
			return nil, fmt.Errorf("seed world %d: duplicate id %d", i, e.ID)
		}
		seen[e.ID] = true

		if e.Name == "" || len(e.Name) > math.MaxUint8 {
			return nil, fmt.Errorf("seed world %d: name must be 1-%d bytes", i, math.MaxUint8)
		}
		if len(e.IP) > math.MaxUint8 {
			return nil, fmt.Errorf("seed world %d: ip longer than %d bytes", i, math.MaxUint8)
		}
		if e.Port < 0 || e.Port > math.MaxUint16 || e.MaxUsers < 0 || e.MaxUsers > math.MaxUint16 {
			return nil, fmt.Errorf("seed world %d: port or max_users out of range", i)
		}
		worlds = append(worlds, e.Descriptor())
	}
	return worlds, nil
}
