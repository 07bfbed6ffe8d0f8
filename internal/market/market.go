// Package market implements the player marketplace: fixed-price listings,
// English auctions with anti-sniping extension, a capped transaction log,
// and filtered search.
//
// The marketplace never touches player balances itself. Settlement is
// delegated to the caller through a SettleFunc invoked inside the critical
// section, before any state transition: if the settlement fails, the sale
// does not happen.
package market

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/metrics"
	"github.com/energosphere/game-engine/internal/model"
)

var (
	// ErrUnknownItemType is returned for item types outside the catalog.
	ErrUnknownItemType = errors.New("market: unknown item type")

	// ErrPriceOutOfRange is returned when a listing price falls outside
	// [0.5×basePrice, 10×basePrice].
	ErrPriceOutOfRange = errors.New("market: price out of allowed range")

	// ErrNotFound is returned for unknown listing or auction ids.
	ErrNotFound = errors.New("market: not found")

	// ErrNotActive is returned when acting on a sold, cancelled, or
	// expired listing.
	ErrNotActive = errors.New("market: listing is not active")

	// ErrSelfTrade is returned when a buyer attempts to buy their own
	// listing.
	ErrSelfTrade = errors.New("market: cannot buy your own listing")

	// ErrExpired is returned when the listing's sale window has passed.
	ErrExpired = errors.New("market: listing has expired")

	// ErrNotSeller is returned when a cancel request comes from anyone
	// but the seller.
	ErrNotSeller = errors.New("market: only the seller can cancel")

	// ErrBidTooLow is returned when a bid does not strictly exceed the
	// current bid.
	ErrBidTooLow = errors.New("market: bid must exceed current bid")

	// ErrAlreadyEnded is returned when bidding on or ending a finished
	// auction.
	ErrAlreadyEnded = errors.New("market: auction already ended")
)

const (
	// ListingTTL is the fixed lifetime of a listing.
	ListingTTL = 24 * time.Hour

	// AntiSnipeWindow is the final stretch of an auction during which any
	// bid extends endsAt by the same amount. Extensions are unbounded.
	AntiSnipeWindow = 5 * time.Minute

	// DefaultAuctionDuration applies when a creation request gives none.
	DefaultAuctionDuration = time.Hour

	// DefaultPageSize is the search page size when none is requested.
	DefaultPageSize = 20

	// Transaction log retention: prune to txLogKeep once txLogMax is
	// exceeded. Deliberately lossy; this is not an audit trail.
	txLogMax  = 1000
	txLogKeep = 500
)

// ItemConfig is the static catalog entry for a tradable item type.
type ItemConfig struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	BasePrice   decimal.Decimal `json:"base_price"`
	Currency    model.Currency  `json:"currency"`
	Rarity      string          `json:"rarity"`
	Consumable  bool            `json:"consumable,omitempty"`
}

func defaultItemTypes() map[string]ItemConfig {
	return map[string]ItemConfig{
		"energy_cluster": {
			Type: "energy_cluster", Name: "Energy Cluster",
			Description: "A concentrated burst of raw energy",
			BasePrice:   decimal.NewFromInt(1000), Currency: model.CurrencyEnergy, Rarity: "common",
		},
		"quantum_shard": {
			Type: "quantum_shard", Name: "Quantum Shard",
			Description: "A fragment of quantum matter",
			BasePrice:   decimal.NewFromInt(5000), Currency: model.CurrencyQuantum, Rarity: "rare",
		},
		"generator_blueprint": {
			Type: "generator_blueprint", Name: "Generator Blueprint",
			Description: "Unlocks an improved generator design",
			BasePrice:   decimal.NewFromInt(10000), Currency: model.CurrencyEnergy, Rarity: "uncommon",
		},
		"time_boost": {
			Type: "time_boost", Name: "Time Accelerator",
			Description: "Doubles production speed for two hours",
			BasePrice:   decimal.NewFromInt(2500), Currency: model.CurrencyEnergy, Rarity: "common",
			Consumable: true,
		},
		"rebirth_token": {
			Type: "rebirth_token", Name: "Rebirth Token",
			Description: "Permits a rebirth without the session wait",
			BasePrice:   decimal.NewFromInt(10000), Currency: model.CurrencyQuantum, Rarity: "epic",
			Consumable: true,
		},
	}
}

// Settlement instructs the caller to debit the buyer and credit the
// seller. The marketplace holds no escrowed funds.
type Settlement struct {
	BuyerID  string          `json:"buyer_id"`
	SellerID string          `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency model.Currency  `json:"currency"`
}

// SettleFunc applies a settlement against player balances. A non-nil
// error aborts the sale with no marketplace mutation.
type SettleFunc func(Settlement) error

// MarketSystem owns all listings, auctions, and the transaction log.
// All mutation is serialized behind one mutex (single-writer discipline);
// it does not coordinate with any other component's locking.
type MarketSystem struct {
	mu           sync.Mutex
	listings     map[string]*model.Listing
	auctions     map[string]*model.Auction
	transactions []model.Transaction
	itemTypes    map[string]ItemConfig
	now          func() time.Time
}

// NewMarketSystem creates an empty marketplace with the default catalog.
func NewMarketSystem() *MarketSystem {
	return &MarketSystem{
		listings:  make(map[string]*model.Listing),
		auctions:  make(map[string]*model.Auction),
		itemTypes: defaultItemTypes(),
		now:       time.Now,
	}
}

// SetClock overrides the marketplace's time source. Test hook.
func (m *MarketSystem) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ItemTypes returns the tradable item catalog.
func (m *MarketSystem) ItemTypes() map[string]ItemConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]ItemConfig, len(m.itemTypes))
	for k, v := range m.itemTypes {
		out[k] = v
	}
	return out
}

// List creates a fixed-price listing. The price must lie within
// [0.5×basePrice, 10×basePrice] of the item type, bounds inclusive.
func (m *MarketSystem) List(sellerID, itemType string, quantity int, price decimal.Decimal, currency model.Currency) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.itemTypes[itemType]
	if !ok {
		return nil, ErrUnknownItemType
	}

	minPrice := cfg.BasePrice.Mul(decimal.NewFromFloat(0.5))
	maxPrice := cfg.BasePrice.Mul(decimal.NewFromInt(10))
	if price.LessThan(minPrice) || price.GreaterThan(maxPrice) {
		return nil, ErrPriceOutOfRange
	}
	if quantity < 1 {
		quantity = 1
	}
	if currency == "" {
		currency = model.CurrencyEnergy
	}

	now := m.now()
	listing := &model.Listing{
		ID:        uuid.New().String(),
		SellerID:  sellerID,
		ItemType:  itemType,
		Quantity:  quantity,
		Price:     price,
		Currency:  currency,
		Rarity:    cfg.Rarity,
		ListedAt:  now,
		ExpiresAt: now.Add(ListingTTL),
		Status:    model.ListingActive,
	}
	m.listings[listing.ID] = listing

	slog.Info("listing created",
		"id", listing.ID, "seller", sellerID, "item", itemType, "price", price.String())

	cp := *listing
	return &cp, nil
}

// Buy sells a listing to buyerID. Preconditions are re-checked under the
// lock at the point of mutation. The settle callback runs before the
// status transition; its failure aborts the sale with no mutation. A buy
// attempt on a listing past its window marks it expired (lazy expiry) and
// reports ErrExpired.
func (m *MarketSystem) Buy(listingID, buyerID string, settle SettleFunc) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	if listing.Status != model.ListingActive {
		return nil, ErrNotActive
	}
	if listing.SellerID == buyerID {
		return nil, ErrSelfTrade
	}

	now := m.now()
	if now.After(listing.ExpiresAt) {
		listing.Status = model.ListingExpired
		return nil, ErrExpired
	}

	if err := settle(Settlement{
		BuyerID:  buyerID,
		SellerID: listing.SellerID,
		Amount:   listing.Price,
		Currency: listing.Currency,
	}); err != nil {
		return nil, err
	}

	listing.BuyerID = buyerID
	listing.Status = model.ListingSold
	listing.SoldAt = now

	m.recordTransaction(model.Transaction{
		ID:        uuid.New().String(),
		ListingID: listing.ID,
		SellerID:  listing.SellerID,
		BuyerID:   buyerID,
		ItemType:  listing.ItemType,
		Quantity:  listing.Quantity,
		Price:     listing.Price,
		Currency:  listing.Currency,
		Timestamp: now,
	})

	slog.Info("listing sold",
		"id", listing.ID, "seller", listing.SellerID, "buyer", buyerID,
		"price", listing.Price.String(), "currency", listing.Currency)

	cp := *listing
	return &cp, nil
}

// Cancel withdraws an active listing. Only the seller may cancel.
func (m *MarketSystem) Cancel(listingID, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, ok := m.listings[listingID]
	if !ok {
		return ErrNotFound
	}
	if listing.SellerID != requesterID {
		return ErrNotSeller
	}
	if listing.Status != model.ListingActive {
		return ErrNotActive
	}

	listing.Status = model.ListingCancelled
	slog.Info("listing cancelled", "id", listingID, "seller", requesterID)
	return nil
}

// recordTransaction appends to the capped log. Caller holds m.mu.
func (m *MarketSystem) recordTransaction(tx model.Transaction) {
	metrics.MarketTransactions.WithLabelValues(tx.ItemType).Inc()
	m.transactions = append(m.transactions, tx)
	if len(m.transactions) > txLogMax {
		kept := make([]model.Transaction, txLogKeep)
		copy(kept, m.transactions[len(m.transactions)-txLogKeep:])
		m.transactions = kept
	}
}

// Transactions returns a snapshot of the retained transaction log.
func (m *MarketSystem) Transactions() []model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Transaction(nil), m.transactions...)
}

// CreateAuction opens an English auction for itemType. A non-positive
// duration falls back to DefaultAuctionDuration.
func (m *MarketSystem) CreateAuction(sellerID, itemType string, startingBid decimal.Decimal, duration time.Duration) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.itemTypes[itemType]; !ok {
		return nil, ErrUnknownItemType
	}
	if duration <= 0 {
		duration = DefaultAuctionDuration
	}

	auction := &model.Auction{
		ID:          uuid.New().String(),
		SellerID:    sellerID,
		ItemType:    itemType,
		StartingBid: startingBid,
		CurrentBid:  startingBid,
		EndsAt:      m.now().Add(duration),
		Status:      model.AuctionActive,
	}
	m.auctions[auction.ID] = auction

	slog.Info("auction created",
		"id", auction.ID, "seller", sellerID, "item", itemType,
		"starting_bid", startingBid.String(), "ends_at", auction.EndsAt)

	cp := *auction
	return &cp, nil
}

// BidResult reports an accepted bid. PreviousBidder is the outbid player
// whose funds the caller must release; empty when this is the first bid.
type BidResult struct {
	Auction        model.Auction
	PreviousBidder string
	PreviousBid    decimal.Decimal
	Extended       bool
}

// PlaceBid records a bid that strictly exceeds the current bid. The seller
// cannot bid on their own auction. A bid inside the anti-snipe window
// extends endsAt by the window length; late bids can extend the auction
// without bound. A bid after the window has passed lazily transitions the
// auction to ended.
func (m *MarketSystem) PlaceBid(auctionID, bidderID string, amount decimal.Decimal) (*BidResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	if auction.Status != model.AuctionActive {
		return nil, ErrNotActive
	}
	if auction.SellerID == bidderID {
		return nil, ErrSelfTrade
	}

	now := m.now()
	if now.After(auction.EndsAt) {
		auction.Status = model.AuctionEnded
		auction.EndedAt = now
		return nil, ErrAlreadyEnded
	}
	if amount.LessThanOrEqual(auction.CurrentBid) {
		return nil, ErrBidTooLow
	}

	res := &BidResult{
		PreviousBidder: auction.CurrentBidder,
		PreviousBid:    auction.CurrentBid,
	}

	auction.CurrentBid = amount
	auction.CurrentBidder = bidderID
	auction.Bids = append(auction.Bids, model.Bid{
		BidderID:  bidderID,
		Amount:    amount,
		Timestamp: now,
	})

	if auction.EndsAt.Sub(now) < AntiSnipeWindow {
		auction.EndsAt = auction.EndsAt.Add(AntiSnipeWindow)
		res.Extended = true
	}

	slog.Info("bid placed",
		"auction", auctionID, "bidder", bidderID, "amount", amount.String(),
		"extended", res.Extended)

	res.Auction = *auction
	return res, nil
}

// AuctionResult reports the outcome of a closed auction. Winner is empty
// when the auction drew no bids.
type AuctionResult struct {
	Auction    model.Auction
	Winner     string
	WinningBid decimal.Decimal
}

// EndAuction closes an auction. On a win the settle callback runs before
// the transition and a Transaction is recorded; settle failure leaves the
// auction active.
func (m *MarketSystem) EndAuction(auctionID string, settle SettleFunc) (*AuctionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	if auction.Status != model.AuctionActive {
		return nil, ErrAlreadyEnded
	}

	now := m.now()
	res := &AuctionResult{}

	if auction.CurrentBidder != "" {
		cfg := m.itemTypes[auction.ItemType]
		if err := settle(Settlement{
			BuyerID:  auction.CurrentBidder,
			SellerID: auction.SellerID,
			Amount:   auction.CurrentBid,
			Currency: cfg.Currency,
		}); err != nil {
			return nil, err
		}

		m.recordTransaction(model.Transaction{
			ID:        uuid.New().String(),
			ListingID: auction.ID,
			SellerID:  auction.SellerID,
			BuyerID:   auction.CurrentBidder,
			ItemType:  auction.ItemType,
			Quantity:  1,
			Price:     auction.CurrentBid,
			Currency:  cfg.Currency,
			Timestamp: now,
		})

		res.Winner = auction.CurrentBidder
		res.WinningBid = auction.CurrentBid
	}

	auction.Status = model.AuctionEnded
	auction.EndedAt = now

	slog.Info("auction ended",
		"id", auctionID, "winner", res.Winner, "winning_bid", res.WinningBid.String())

	res.Auction = *auction
	return res, nil
}

// GetAuction returns a snapshot of an auction.
func (m *MarketSystem) GetAuction(auctionID string) (*model.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	auction, ok := m.auctions[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *auction
	return &cp, nil
}
