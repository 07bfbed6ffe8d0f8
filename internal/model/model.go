// Package model defines the core domain types shared across the game engine.
// All currency amounts use shopspring/decimal; float64 is never money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// GeneratorType identifies one of the passive energy producers.
type GeneratorType string

// Supported generator types, in unlock order.
const (
	GeneratorSolar      GeneratorType = "solar"
	GeneratorGeothermal GeneratorType = "geothermal"
	GeneratorQuantum    GeneratorType = "quantum"
	GeneratorGravity    GeneratorType = "gravity"
	GeneratorStellar    GeneratorType = "stellar"
)

// Currency names a spendable balance on a player.
type Currency string

const (
	CurrencyEnergy  Currency = "energy"
	CurrencyQuantum Currency = "quantum"
)

// Generator is one owned generator type. At most one Generator exists per
// (player, type) pair; it is created lazily on first purchase and only
// reset to count=0 on rebirth, never removed.
type Generator struct {
	Type           GeneratorType   `json:"type" db:"type"`
	Count          int             `json:"count" db:"count"`
	Level          int             `json:"level" db:"level"`
	Efficiency     decimal.Decimal `json:"efficiency" db:"efficiency"`
	LastCollection time.Time       `json:"last_collection" db:"last_collection"`
}

// Upgrade is a purchased upgrade tier. Upgrades with an id prefixed
// "click_" multiply the per-click energy yield.
type Upgrade struct {
	ID    string `json:"id" db:"id"`
	Level int    `json:"level" db:"level"`
}

// Player is the persistent per-player record. Created on first
// authentication, mutated only through gateway commands, never deleted.
type Player struct {
	ID                    string          `json:"id" db:"id"`
	Username              string          `json:"username" db:"username"`
	Energy                decimal.Decimal `json:"energy" db:"energy"`
	TotalEnergyEarned     decimal.Decimal `json:"total_energy_earned" db:"total_energy_earned"`
	QuantumPoints         decimal.Decimal `json:"quantum_points" db:"quantum_points"`
	RebirthCount          int             `json:"rebirth_count" db:"rebirth_count"`
	SessionTimeForRebirth int64           `json:"session_time_for_rebirth" db:"session_time_for_rebirth"` // seconds since last rebirth
	TotalPlayTime         int64           `json:"total_play_time" db:"total_play_time"`                   // seconds
	Generators            []Generator     `json:"generators" db:"generators"`
	Upgrades              []Upgrade       `json:"upgrades" db:"upgrades"`
	GuildID               string          `json:"guild_id,omitempty" db:"guild_id"` // broadcast routing only
	CurrentSessionStart   time.Time       `json:"current_session_start" db:"current_session_start"`
	LastSeen              time.Time       `json:"last_seen" db:"last_seen"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// Generator returns the player's generator of the given type, or nil if
// the type has never been purchased.
func (p *Player) Generator(t GeneratorType) *Generator {
	for i := range p.Generators {
		if p.Generators[i].Type == t {
			return &p.Generators[i]
		}
	}
	return nil
}

// Balance returns the player's balance in the given currency.
func (p *Player) Balance(c Currency) decimal.Decimal {
	if c == CurrencyQuantum {
		return p.QuantumPoints
	}
	return p.Energy
}

// ListingStatus is the lifecycle state of a market listing.
// Transitions are one-way: active → sold | cancelled | expired.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// Listing is a fixed-price sell order. Identity is immutable once created;
// listings and auctions share one id space.
type Listing struct {
	ID        string          `json:"id"`
	SellerID  string          `json:"seller_id"`
	BuyerID   string          `json:"buyer_id,omitempty"`
	ItemType  string          `json:"item_type"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Currency  Currency        `json:"currency"`
	Rarity    string          `json:"rarity"`
	ListedAt  time.Time       `json:"listed_at"`
	ExpiresAt time.Time       `json:"expires_at"` // listedAt + 24h, fixed
	Status    ListingStatus   `json:"status"`
	SoldAt    time.Time       `json:"sold_at,omitempty"`
}

// AuctionStatus is the lifecycle state of an auction: active → ended.
type AuctionStatus string

const (
	AuctionActive AuctionStatus = "active"
	AuctionEnded  AuctionStatus = "ended"
)

// Bid is one entry in an auction's append-only bid sequence.
type Bid struct {
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Auction is a time-boxed ascending-bid sale. EndsAt extends by five
// minutes whenever a bid lands inside the final five minutes; the number
// of extensions is unbounded.
type Auction struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"seller_id"`
	ItemType      string          `json:"item_type"`
	StartingBid   decimal.Decimal `json:"starting_bid"`
	CurrentBid    decimal.Decimal `json:"current_bid"`
	CurrentBidder string          `json:"current_bidder,omitempty"`
	Bids          []Bid           `json:"bids"`
	EndsAt        time.Time       `json:"ends_at"`
	Status        AuctionStatus   `json:"status"`
	EndedAt       time.Time       `json:"ended_at,omitempty"`
}

// Transaction is one settled trade, kept in the marketplace's capped log.
// The log is deliberately lossy retention, not an audit trail.
type Transaction struct {
	ID        string          `json:"id"`
	ListingID string          `json:"listing_id"`
	SellerID  string          `json:"seller_id"`
	BuyerID   string          `json:"buyer_id"`
	ItemType  string          `json:"item_type"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Currency  Currency        `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventType identifies a timed global event.
type EventType string

const (
	EventCrystalSwarm    EventType = "crystal_swarm"
	EventEnergyStorm     EventType = "energy_storm"
	EventDimensionBreach EventType = "dimension_breach"
	EventVirusOutbreak   EventType = "virus_outbreak"
)

// GameEvent is an ephemeral global modifier. Not persisted: created by the
// scheduler, broadcast to all sessions, removed when its duration elapses.
type GameEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	StartTime time.Time      `json:"start_time"`
	Duration  time.Duration  `json:"duration"`
	Data      map[string]any `json:"data"`
}

// ExpiresAt returns the instant the event stops being active.
func (e *GameEvent) ExpiresAt() time.Time {
	return e.StartTime.Add(e.Duration)
}
