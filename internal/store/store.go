// Package store defines the persistence interface for player records.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/energosphere/game-engine/internal/model"
)

// ErrNotFound is returned when no player exists for the requested id.
var ErrNotFound = errors.New("store: player not found")

// PlayerStore is the persistence interface. Reads and writes are
// synchronous from the caller's point of view; serialization of
// same-player read-modify-write cycles is the session layer's job.
type PlayerStore interface {
	// CreatePlayer persists a new player record.
	CreatePlayer(ctx context.Context, p *model.Player) error

	// GetPlayer retrieves a player by id. Returns ErrNotFound if absent.
	GetPlayer(ctx context.Context, id string) (*model.Player, error)

	// SavePlayer writes back a mutated player record.
	SavePlayer(ctx context.Context, p *model.Player) error
}
