package persist

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MemoryAccounts is an AccountStore for deployments without a database.
// Passwords are bcrypt-hashed exactly as in AccountRepo.
type MemoryAccounts struct {
	mu     sync.RWMutex
	hashes map[string]string
	cost   int
}

// NewMemoryAccounts uses bcrypt.DefaultCost when cost is 0.
func NewMemoryAccounts(cost int) *MemoryAccounts {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &MemoryAccounts{hashes: make(map[string]string), cost: cost}
}

func (m *MemoryAccounts) EnsureAccount(_ context.Context, name, rawPassword string) (bool, error) {
	name = NormalizeName(name)
	m.mu.RLock()
	_, ok := m.hashes[name]
	m.mu.RUnlock()
	if ok {
		return false, nil
	}

	hash, err := hashPassword(rawPassword, m.cost)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[name]; ok {
		return false, nil
	}
	m.hashes[name] = hash
	return true, nil
}

func (m *MemoryAccounts) CheckCredentials(_ context.Context, name, rawPassword string) (bool, error) {
	name = NormalizeName(name)
	m.mu.RLock()
	hash, ok := m.hashes[name]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return ValidatePassword(hash, rawPassword), nil
}

func (m *MemoryAccounts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes)
}
