// Package economy implements the pure pricing and production formulas of
// the idle game: generator cost curves, production rates, click yields,
// and rebirth payouts.
//
// Every function here is deterministic and side-effect free; randomness is
// injected per call. All currency amounts use shopspring/decimal; internal
// exponential math uses float64 with results immediately converted back to
// decimal.
package economy

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/model"
)

var (
	// ErrUnknownGeneratorType is returned for generator types outside the
	// configured catalog.
	ErrUnknownGeneratorType = errors.New("economy: unknown generator type")
)

const (
	// GrowthFactor scales a generator's price with each unit owned.
	GrowthFactor = 1.15

	// LevelCostFactor scales a generator's price with each upgrade tier.
	LevelCostFactor = 1.5

	// BaseClickPower is the energy yield of an unmodified click.
	BaseClickPower = 1.0

	// ClickUpgradeBonus is the per-level multiplier contribution of each
	// click upgrade: ×(1 + level × ClickUpgradeBonus).
	ClickUpgradeBonus = 0.1

	// CritChance is the independent per-click probability of a critical.
	CritChance = 0.1

	// CritMultiplier doubles the click yield on a critical.
	CritMultiplier = 2.0

	// RebirthEnergyUnit is the totalEnergyEarned worth one quantum point
	// before the square-root falloff.
	RebirthEnergyUnit = 1_000_000
)

// GeneratorConfig is the static tuning of one generator type.
type GeneratorConfig struct {
	Type           model.GeneratorType `json:"type"`
	Name           string              `json:"name"`
	BaseCost       decimal.Decimal     `json:"base_cost"`
	BaseProduction decimal.Decimal     `json:"base_production"` // energy per second per unit at level 1
}

// generatorConfigs is the catalog, keyed by type.
var generatorConfigs = map[model.GeneratorType]GeneratorConfig{
	model.GeneratorSolar: {
		Type: model.GeneratorSolar, Name: "Solar Array",
		BaseCost: decimal.NewFromInt(15), BaseProduction: decimal.NewFromFloat(0.1),
	},
	model.GeneratorGeothermal: {
		Type: model.GeneratorGeothermal, Name: "Geothermal Tap",
		BaseCost: decimal.NewFromInt(100), BaseProduction: decimal.NewFromInt(1),
	},
	model.GeneratorQuantum: {
		Type: model.GeneratorQuantum, Name: "Quantum Harvester",
		BaseCost: decimal.NewFromInt(1100), BaseProduction: decimal.NewFromInt(8),
	},
	model.GeneratorGravity: {
		Type: model.GeneratorGravity, Name: "Gravity Well",
		BaseCost: decimal.NewFromInt(12000), BaseProduction: decimal.NewFromInt(47),
	},
	model.GeneratorStellar: {
		Type: model.GeneratorStellar, Name: "Stellar Forge",
		BaseCost: decimal.NewFromInt(130000), BaseProduction: decimal.NewFromInt(260),
	},
}

// ConfigFor returns the catalog entry for a generator type.
func ConfigFor(t model.GeneratorType) (GeneratorConfig, error) {
	cfg, ok := generatorConfigs[t]
	if !ok {
		return GeneratorConfig{}, ErrUnknownGeneratorType
	}
	return cfg, nil
}

// GeneratorTypes returns the catalog in unlock order.
func GeneratorTypes() []GeneratorConfig {
	order := []model.GeneratorType{
		model.GeneratorSolar, model.GeneratorGeothermal, model.GeneratorQuantum,
		model.GeneratorGravity, model.GeneratorStellar,
	}
	configs := make([]GeneratorConfig, 0, len(order))
	for _, t := range order {
		configs = append(configs, generatorConfigs[t])
	}
	return configs
}

// CostOf computes the price of the next unit of a generator type:
//
//	price = floor(baseCost × GrowthFactor^ownedCount × LevelCostFactor^(level-1))
//
// Strictly increasing in ownedCount for any growth factor > 1.
func CostOf(t model.GeneratorType, ownedCount, level int) (decimal.Decimal, error) {
	cfg, ok := generatorConfigs[t]
	if !ok {
		return decimal.Zero, ErrUnknownGeneratorType
	}
	if level < 1 {
		level = 1
	}
	growth := math.Pow(GrowthFactor, float64(ownedCount))
	tier := math.Pow(LevelCostFactor, float64(level-1))
	price := cfg.BaseCost.Mul(decimal.NewFromFloat(growth)).Mul(decimal.NewFromFloat(tier))
	return price.Floor(), nil
}

// ProductionOf computes a generator's energy output per second: linear in
// count, scaled by level and efficiency.
func ProductionOf(t model.GeneratorType, count, level int, efficiency decimal.Decimal) (decimal.Decimal, error) {
	cfg, ok := generatorConfigs[t]
	if !ok {
		return decimal.Zero, ErrUnknownGeneratorType
	}
	if count <= 0 {
		return decimal.Zero, nil
	}
	if level < 1 {
		level = 1
	}
	rate := cfg.BaseProduction.
		Mul(decimal.NewFromInt(int64(count))).
		Mul(decimal.NewFromInt(int64(level))).
		Mul(efficiency)
	return rate, nil
}

// TotalProduction sums ProductionOf over all of a player's generators.
// Unknown types (from stale persisted state) contribute nothing.
func TotalProduction(p *model.Player) decimal.Decimal {
	total := decimal.Zero
	for _, g := range p.Generators {
		rate, err := ProductionOf(g.Type, g.Count, g.Level, g.Efficiency)
		if err != nil {
			continue
		}
		total = total.Add(rate)
	}
	return total
}

// Accrue credits the passive production earned since each generator's last
// collection, scaled by the global event multiplier, and bumps the
// collection timestamps to now.
func Accrue(p *model.Player, now time.Time, multiplier decimal.Decimal) decimal.Decimal {
	earned := decimal.Zero
	for i := range p.Generators {
		g := &p.Generators[i]
		if g.LastCollection.IsZero() || !now.After(g.LastCollection) {
			g.LastCollection = now
			continue
		}
		rate, err := ProductionOf(g.Type, g.Count, g.Level, g.Efficiency)
		if err != nil || rate.IsZero() {
			g.LastCollection = now
			continue
		}
		elapsed := decimal.NewFromFloat(now.Sub(g.LastCollection).Seconds())
		earned = earned.Add(rate.Mul(elapsed))
		g.LastCollection = now
	}
	if multiplier.IsPositive() {
		earned = earned.Mul(multiplier)
	}
	if earned.IsPositive() {
		p.Energy = p.Energy.Add(earned)
		p.TotalEnergyEarned = p.TotalEnergyEarned.Add(earned)
	}
	return earned
}

// ClickResult is the outcome of a single crystal click.
type ClickResult struct {
	Energy   decimal.Decimal
	Critical bool
}

// ClickValue computes the energy yield of one click:
//
//	baseClickPower × Π(1 + upgradeLevel × ClickUpgradeBonus)
//
// over all click-type upgrades, with a CritChance probability of a
// CritMultiplier critical drawn from rng. rng is injected per call so the
// engine stays composable and deterministically testable.
func ClickValue(p *model.Player, rng *rand.Rand) ClickResult {
	value := BaseClickPower
	for _, u := range p.Upgrades {
		if strings.HasPrefix(u.ID, "click_") {
			value *= 1 + float64(u.Level)*ClickUpgradeBonus
		}
	}

	crit := rng.Float64() < CritChance
	if crit {
		value *= CritMultiplier
	}
	return ClickResult{Energy: decimal.NewFromFloat(value), Critical: crit}
}

// RebirthOutcome reports the effect of a rebirth reset.
type RebirthOutcome struct {
	QuantumPointsEarned decimal.Decimal
	NewRebirthCount     int
}

// QuantumPointsFor computes the rebirth payout from lifetime earnings:
//
//	floor(√(totalEnergyEarned / RebirthEnergyUnit))
//
// Zero below one energy unit; diminishing thereafter.
func QuantumPointsFor(totalEnergyEarned decimal.Decimal) decimal.Decimal {
	units := totalEnergyEarned.InexactFloat64() / RebirthEnergyUnit
	if units < 1 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Floor(math.Sqrt(units)))
}

// RebirthEffect applies the prestige reset to the player: zeroes energy
// and all generator counts, credits quantum points, increments the rebirth
// counter, and clears the session timer. Eligibility is the caller's
// responsibility; the engine performs no gating.
func RebirthEffect(p *model.Player) RebirthOutcome {
	earned := QuantumPointsFor(p.TotalEnergyEarned)

	p.Energy = decimal.Zero
	for i := range p.Generators {
		p.Generators[i].Count = 0
	}
	p.QuantumPoints = p.QuantumPoints.Add(earned)
	p.RebirthCount++
	p.SessionTimeForRebirth = 0

	return RebirthOutcome{
		QuantumPointsEarned: earned,
		NewRebirthCount:     p.RebirthCount,
	}
}
