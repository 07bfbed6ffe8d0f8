// Package session executes player commands against persistent state. It
// owns the per-player serialization discipline: every read-modify-write
// cycle for one player runs under that player's lock, so commands arriving
// concurrently over multiple connections never interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/economy"
	"github.com/energosphere/game-engine/internal/market"
	"github.com/energosphere/game-engine/internal/model"
	"github.com/energosphere/game-engine/internal/store"
)

var (
	// ErrInsufficientFunds is returned when a purchase or settlement
	// exceeds the payer's balance.
	ErrInsufficientFunds = errors.New("session: insufficient funds")

	// ErrRebirthNotEligible is returned when the session timer has not
	// reached the rebirth threshold.
	ErrRebirthNotEligible = errors.New("session: rebirth not yet available")

	// ErrSelfSettlement is returned when a settlement names the same
	// player on both sides. The marketplace rejects self-trades before it
	// settles; this guard keeps a bad settlement from locking the same
	// player twice.
	ErrSelfSettlement = errors.New("session: buyer and seller are the same player")
)

// RebirthMinSessionSeconds is the accumulated session time required
// before a rebirth is allowed: four hours.
const RebirthMinSessionSeconds = 4 * 60 * 60

// MultiplierSource reports the current global production multiplier.
// The event scheduler implements it; a nil source means ×1.
type MultiplierSource interface {
	ProductionMultiplier() decimal.Decimal
}

// Manager executes commands for players. Safe for concurrent use; commands
// touching the same player are serialized, commands touching different
// players run in parallel.
type Manager struct {
	store  store.PlayerStore
	events MultiplierSource

	locks sync.Map // player id → *sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	now func() time.Time
}

// NewManager creates a session manager over the given store. events may be
// nil when no scheduler is running.
func NewManager(s store.PlayerStore, events MultiplierSource, rng *rand.Rand) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Manager{
		store:  s,
		events: events,
		rng:    rng,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) lock(playerID string) func() {
	v, _ := m.locks.LoadOrStore(playerID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) multiplier() decimal.Decimal {
	if m.events == nil {
		return decimal.NewFromInt(1)
	}
	return m.events.ProductionMultiplier()
}

// withPlayer runs fn against the player's current record under the
// player's lock and persists the result. fn returning an error aborts
// without saving.
func (m *Manager) withPlayer(ctx context.Context, playerID string, fn func(p *model.Player) error) (*model.Player, error) {
	unlock := m.lock(playerID)
	defer unlock()

	p, err := m.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := m.store.SavePlayer(ctx, p); err != nil {
		return nil, fmt.Errorf("save player %s: %w", playerID, err)
	}
	return p, nil
}

// Authenticate loads the player's record, creating it on first sight, and
// opens a session: offline production is credited and the session start is
// stamped.
func (m *Manager) Authenticate(ctx context.Context, playerID, username string) (*model.Player, error) {
	unlock := m.lock(playerID)
	defer unlock()

	now := m.now()

	p, err := m.store.GetPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		p = &model.Player{
			ID:                  playerID,
			Username:            username,
			Energy:              decimal.Zero,
			TotalEnergyEarned:   decimal.Zero,
			QuantumPoints:       decimal.Zero,
			CurrentSessionStart: now,
			LastSeen:            now,
			CreatedAt:           now,
		}
		if err := m.store.CreatePlayer(ctx, p); err != nil {
			return nil, fmt.Errorf("create player %s: %w", playerID, err)
		}
		return p, nil
	}
	if err != nil {
		return nil, err
	}

	economy.Accrue(p, now, m.multiplier())
	if username != "" {
		p.Username = username
	}
	p.CurrentSessionStart = now
	p.LastSeen = now

	if err := m.store.SavePlayer(ctx, p); err != nil {
		return nil, fmt.Errorf("save player %s: %w", playerID, err)
	}
	return p, nil
}

// ClickOutcome is the result of one crystal click.
type ClickOutcome struct {
	Energy   decimal.Decimal
	Critical bool
	Player   *model.Player
}

// Click credits one manual click, rolling the critical chance.
func (m *Manager) Click(ctx context.Context, playerID string) (ClickOutcome, error) {
	var out ClickOutcome
	p, err := m.withPlayer(ctx, playerID, func(p *model.Player) error {
		economy.Accrue(p, m.now(), m.multiplier())

		m.rngMu.Lock()
		res := economy.ClickValue(p, m.rng)
		m.rngMu.Unlock()

		p.Energy = p.Energy.Add(res.Energy)
		p.TotalEnergyEarned = p.TotalEnergyEarned.Add(res.Energy)

		out.Energy = res.Energy
		out.Critical = res.Critical
		return nil
	})
	if err != nil {
		return ClickOutcome{}, err
	}
	out.Player = p
	return out, nil
}

// PurchaseOutcome reports a completed generator purchase.
type PurchaseOutcome struct {
	Generator model.Generator
	Cost      decimal.Decimal
	Player    *model.Player
}

// BuyGenerator purchases one unit of a generator type at the current
// escalating price, debiting the player's energy. The generator record is
// created lazily on first purchase.
func (m *Manager) BuyGenerator(ctx context.Context, playerID string, t model.GeneratorType) (PurchaseOutcome, error) {
	var out PurchaseOutcome
	p, err := m.withPlayer(ctx, playerID, func(p *model.Player) error {
		now := m.now()
		economy.Accrue(p, now, m.multiplier())

		g := p.Generator(t)
		owned, level := 0, 1
		if g != nil {
			owned, level = g.Count, g.Level
		}

		cost, err := economy.CostOf(t, owned, level)
		if err != nil {
			return err
		}
		if p.Energy.LessThan(cost) {
			return ErrInsufficientFunds
		}

		p.Energy = p.Energy.Sub(cost)
		if g == nil {
			p.Generators = append(p.Generators, model.Generator{
				Type:           t,
				Count:          1,
				Level:          1,
				Efficiency:     decimal.NewFromInt(1),
				LastCollection: now,
			})
			g = &p.Generators[len(p.Generators)-1]
		} else {
			g.Count++
		}

		out.Generator = *g
		out.Cost = cost
		return nil
	})
	if err != nil {
		return PurchaseOutcome{}, err
	}
	out.Player = p
	return out, nil
}

// Rebirth resets the player's progress in exchange for quantum points.
// Requires four hours of accumulated session time since the last rebirth.
func (m *Manager) Rebirth(ctx context.Context, playerID string) (economy.RebirthOutcome, *model.Player, error) {
	var out economy.RebirthOutcome
	p, err := m.withPlayer(ctx, playerID, func(p *model.Player) error {
		economy.Accrue(p, m.now(), m.multiplier())

		if p.SessionTimeForRebirth < RebirthMinSessionSeconds {
			return ErrRebirthNotEligible
		}
		out = economy.RebirthEffect(p)
		return nil
	})
	if err != nil {
		return economy.RebirthOutcome{}, nil, err
	}
	return out, p, nil
}

// Tick advances a connected player's session by the given wall-clock
// interval: passive production is credited and the session and play-time
// counters grow. The gateway calls this once per minute per connection.
func (m *Manager) Tick(ctx context.Context, playerID string, elapsed time.Duration) (*model.Player, error) {
	return m.withPlayer(ctx, playerID, func(p *model.Player) error {
		economy.Accrue(p, m.now(), m.multiplier())
		secs := int64(elapsed.Seconds())
		p.SessionTimeForRebirth += secs
		p.TotalPlayTime += secs
		return nil
	})
}

// Disconnect closes a player's session, stamping last-seen and folding the
// session into total play time.
func (m *Manager) Disconnect(ctx context.Context, playerID string) (*model.Player, error) {
	return m.withPlayer(ctx, playerID, func(p *model.Player) error {
		now := m.now()
		economy.Accrue(p, now, m.multiplier())
		if !p.CurrentSessionStart.IsZero() && now.After(p.CurrentSessionStart) {
			p.TotalPlayTime += int64(now.Sub(p.CurrentSessionStart).Seconds())
		}
		p.LastSeen = now
		return nil
	})
}

// GetPlayer returns the player's current record without opening a session.
func (m *Manager) GetPlayer(ctx context.Context, playerID string) (*model.Player, error) {
	return m.store.GetPlayer(ctx, playerID)
}

// ApplySettlement atomically moves funds from buyer to seller. Both player
// locks are taken in id order so concurrent settlements never deadlock.
// The marketplace calls this inside its own critical section; nothing here
// calls back into the marketplace.
func (m *Manager) ApplySettlement(ctx context.Context, s market.Settlement) error {
	if s.BuyerID == s.SellerID {
		return ErrSelfSettlement
	}

	first, second := s.BuyerID, s.SellerID
	if second < first {
		first, second = second, first
	}
	unlockFirst := m.lock(first)
	defer unlockFirst()
	unlockSecond := m.lock(second)
	defer unlockSecond()

	buyer, err := m.store.GetPlayer(ctx, s.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer %s: %w", s.BuyerID, err)
	}
	seller, err := m.store.GetPlayer(ctx, s.SellerID)
	if err != nil {
		return fmt.Errorf("load seller %s: %w", s.SellerID, err)
	}

	if buyer.Balance(s.Currency).LessThan(s.Amount) {
		return ErrInsufficientFunds
	}

	debit(buyer, s.Currency, s.Amount)
	credit(seller, s.Currency, s.Amount)

	if err := m.store.SavePlayer(ctx, buyer); err != nil {
		return fmt.Errorf("save buyer %s: %w", s.BuyerID, err)
	}
	if err := m.store.SavePlayer(ctx, seller); err != nil {
		// Roll the debit back so the failure leaves balances untouched.
		credit(buyer, s.Currency, s.Amount)
		if rbErr := m.store.SavePlayer(ctx, buyer); rbErr != nil {
			return fmt.Errorf("save seller %s: %w (rollback also failed: %v)", s.SellerID, err, rbErr)
		}
		return fmt.Errorf("save seller %s: %w", s.SellerID, err)
	}
	return nil
}

func debit(p *model.Player, c model.Currency, amount decimal.Decimal) {
	if c == model.CurrencyQuantum {
		p.QuantumPoints = p.QuantumPoints.Sub(amount)
		return
	}
	p.Energy = p.Energy.Sub(amount)
}

func credit(p *model.Player, c model.Currency, amount decimal.Decimal) {
	if c == model.CurrencyQuantum {
		p.QuantumPoints = p.QuantumPoints.Add(amount)
		return
	}
	p.Energy = p.Energy.Add(amount)
}

// NewPlayerID mints a fresh player id.
func NewPlayerID() string { return uuid.NewString() }
