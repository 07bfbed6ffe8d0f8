package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/model"
)

// PostgresStore implements PlayerStore using PostgreSQL as the source of
// truth. Currency balances are stored as NUMERIC for exact decimal
// precision; generators and upgrades are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *model.Player) error {
	generators, err := json.Marshal(p.Generators)
	if err != nil {
		return fmt.Errorf("marshal generators: %w", err)
	}
	upgrades, err := json.Marshal(p.Upgrades)
	if err != nil {
		return fmt.Errorf("marshal upgrades: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO players (id, username, energy, total_energy_earned, quantum_points,
		                      rebirth_count, session_time_for_rebirth, total_play_time,
		                      generators, upgrades, guild_id,
		                      current_session_start, last_seen, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
		         $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.Username,
		p.Energy.String(), p.TotalEnergyEarned.String(), p.QuantumPoints.String(),
		p.RebirthCount, p.SessionTimeForRebirth, p.TotalPlayTime,
		generators, upgrades, p.GuildID,
		p.CurrentSessionStart, p.LastSeen, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	var energy, totalEarned, quantum string
	var generators, upgrades []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, username,
		        energy::TEXT, total_energy_earned::TEXT, quantum_points::TEXT,
		        rebirth_count, session_time_for_rebirth, total_play_time,
		        generators, upgrades, guild_id,
		        current_session_start, last_seen, created_at
		 FROM players WHERE id = $1`, id).
		Scan(&p.ID, &p.Username,
			&energy, &totalEarned, &quantum,
			&p.RebirthCount, &p.SessionTimeForRebirth, &p.TotalPlayTime,
			&generators, &upgrades, &p.GuildID,
			&p.CurrentSessionStart, &p.LastSeen, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get player %s: %w", id, err)
	}

	p.Energy, _ = decimal.NewFromString(energy)
	p.TotalEnergyEarned, _ = decimal.NewFromString(totalEarned)
	p.QuantumPoints, _ = decimal.NewFromString(quantum)

	if err := json.Unmarshal(generators, &p.Generators); err != nil {
		return nil, fmt.Errorf("unmarshal generators for %s: %w", id, err)
	}
	if err := json.Unmarshal(upgrades, &p.Upgrades); err != nil {
		return nil, fmt.Errorf("unmarshal upgrades for %s: %w", id, err)
	}

	return &p, nil
}

func (s *PostgresStore) SavePlayer(ctx context.Context, p *model.Player) error {
	generators, err := json.Marshal(p.Generators)
	if err != nil {
		return fmt.Errorf("marshal generators: %w", err)
	}
	upgrades, err := json.Marshal(p.Upgrades)
	if err != nil {
		return fmt.Errorf("marshal upgrades: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE players
		 SET username = $2,
		     energy = $3::NUMERIC, total_energy_earned = $4::NUMERIC, quantum_points = $5::NUMERIC,
		     rebirth_count = $6, session_time_for_rebirth = $7, total_play_time = $8,
		     generators = $9, upgrades = $10, guild_id = $11,
		     current_session_start = $12, last_seen = $13
		 WHERE id = $1`,
		p.ID, p.Username,
		p.Energy.String(), p.TotalEnergyEarned.String(), p.QuantumPoints.String(),
		p.RebirthCount, p.SessionTimeForRebirth, p.TotalPlayTime,
		generators, upgrades, p.GuildID,
		p.CurrentSessionStart, p.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("save player %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
