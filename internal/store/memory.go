package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/energosphere/game-engine/internal/model"
)

// MemoryStore implements PlayerStore with an in-memory map. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*model.Player
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]*model.Player),
	}
}

func (s *MemoryStore) CreatePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("player %s already exists", p.ID)
	}

	// Store a copy to avoid external mutation.
	s.players[p.ID] = clonePlayer(p)
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePlayer(p), nil
}

func (s *MemoryStore) SavePlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[p.ID]; !ok {
		return ErrNotFound
	}
	s.players[p.ID] = clonePlayer(p)
	return nil
}

// clonePlayer deep-copies the slices so callers cannot alias stored state.
func clonePlayer(p *model.Player) *model.Player {
	cp := *p
	cp.Generators = append([]model.Generator(nil), p.Generators...)
	cp.Upgrades = append([]model.Upgrade(nil), p.Upgrades...)
	return &cp
}
