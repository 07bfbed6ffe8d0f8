package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/energosphere/game-engine/internal/model"
)

// CachedStore wraps a primary PlayerStore (PostgreSQL) with a Redis
// read-through cache. Saves go to the primary store and invalidate the
// cached entry; reads check Redis first, fall back to the primary, and
// re-populate the cache.
type CachedStore struct {
	primary PlayerStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary PlayerStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.CreatePlayer(ctx, p); err != nil {
		return err
	}
	s.cachePlayer(ctx, p)
	return nil
}

func (s *CachedStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, playerKey(id)).Bytes()
	if err == nil {
		var p model.Player
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePlayer(ctx, p)
	return p, nil
}

func (s *CachedStore) SavePlayer(ctx context.Context, p *model.Player) error {
	if err := s.primary.SavePlayer(ctx, p); err != nil {
		return err
	}
	// Invalidate rather than overwrite; next read re-populates.
	s.rdb.Del(ctx, playerKey(p.ID))
	return nil
}

func (s *CachedStore) cachePlayer(ctx context.Context, p *model.Player) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, playerKey(p.ID), data, s.ttl)
	}
}

func playerKey(id string) string { return fmt.Sprintf("player:%s", id) }
