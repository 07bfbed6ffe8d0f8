package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// noSettle is a settlement callback that always succeeds.
func noSettle(Settlement) error { return nil }

func newTestMarket(t *testing.T) (*MarketSystem, *time.Time) {
	t.Helper()
	m := NewMarketSystem()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	return m, &now
}

// --- Listing price bounds (0.5×base inclusive … 10×base inclusive) ---

func TestList_PriceBounds(t *testing.T) {
	// energy_cluster base price is 1000.
	tests := []struct {
		price   float64
		wantErr bool
	}{
		{400, true},    // 0.4×base
		{500, false},   // 0.5×base, boundary inclusive
		{10000, false}, // 10×base, boundary inclusive
		{10010, true},  // 10.01×base
	}
	for _, tt := range tests {
		m, _ := newTestMarket(t)
		_, err := m.List("seller", "energy_cluster", 1, d(tt.price), model.CurrencyEnergy)
		if tt.wantErr && !errors.Is(err, ErrPriceOutOfRange) {
			t.Errorf("price %v: expected ErrPriceOutOfRange, got %v", tt.price, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("price %v: unexpected error %v", tt.price, err)
		}
	}
}

func TestList_UnknownItemType(t *testing.T) {
	m, _ := newTestMarket(t)
	_, err := m.List("seller", "dark_matter", 1, d(100), model.CurrencyEnergy)
	if !errors.Is(err, ErrUnknownItemType) {
		t.Errorf("expected ErrUnknownItemType, got %v", err)
	}
}

func TestList_Expiry24h(t *testing.T) {
	m, now := newTestMarket(t)
	l, err := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !l.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Errorf("expected 24h expiry, got %v", l.ExpiresAt)
	}
}

// --- Buy ---

func TestBuy_Success(t *testing.T) {
	m, _ := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 2, d(1500), model.CurrencyEnergy)

	var settled *Settlement
	bought, err := m.Buy(l.ID, "buyer", func(s Settlement) error {
		settled = &s
		return nil
	})
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if bought.Status != model.ListingSold {
		t.Errorf("status = %s, want sold", bought.Status)
	}
	if bought.BuyerID != "buyer" {
		t.Errorf("buyer = %s", bought.BuyerID)
	}
	if settled == nil {
		t.Fatal("settlement was not applied")
	}
	if settled.BuyerID != "buyer" || settled.SellerID != "seller" || !settled.Amount.Equal(d(1500)) {
		t.Errorf("bad settlement: %+v", settled)
	}
	if len(m.Transactions()) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(m.Transactions()))
	}
}

func TestBuy_SelfTradeAlwaysFails(t *testing.T) {
	m, _ := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)

	if _, err := m.Buy(l.ID, "seller", noSettle); !errors.Is(err, ErrSelfTrade) {
		t.Errorf("expected ErrSelfTrade, got %v", err)
	}
}

func TestBuy_AfterCancel(t *testing.T) {
	m, _ := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)

	if err := m.Cancel(l.ID, "seller"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := m.Buy(l.ID, "buyer", noSettle); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
	if len(m.Transactions()) != 0 {
		t.Error("cancelled buy must not create a transaction")
	}
}

func TestBuy_LazyExpiry(t *testing.T) {
	m, now := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)

	*now = now.Add(24*time.Hour + time.Minute)

	if _, err := m.Buy(l.ID, "buyer", noSettle); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if len(m.Transactions()) != 0 {
		t.Error("expired buy must not create a transaction")
	}

	// The failed attempt marked the listing expired; later buys see NotActive.
	if _, err := m.Buy(l.ID, "buyer", noSettle); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive after lazy expiry, got %v", err)
	}
}

func TestBuy_SettlementFailureAborts(t *testing.T) {
	m, _ := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)

	broke := errors.New("insufficient funds")
	if _, err := m.Buy(l.ID, "buyer", func(Settlement) error { return broke }); !errors.Is(err, broke) {
		t.Fatalf("expected settlement error, got %v", err)
	}

	// No mutation: listing is still active and buyable.
	if _, err := m.Buy(l.ID, "buyer", noSettle); err != nil {
		t.Errorf("listing should still be buyable: %v", err)
	}
	if len(m.Transactions()) != 1 {
		t.Errorf("expected 1 transaction after retry, got %d", len(m.Transactions()))
	}
}

func TestCancel_Guards(t *testing.T) {
	m, _ := newTestMarket(t)
	l, _ := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy)

	if err := m.Cancel("missing", "seller"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.Cancel(l.ID, "stranger"); !errors.Is(err, ErrNotSeller) {
		t.Errorf("expected ErrNotSeller, got %v", err)
	}
	if err := m.Cancel(l.ID, "seller"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := m.Cancel(l.ID, "seller"); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive on double cancel, got %v", err)
	}
}

// --- Auctions ---

func TestPlaceBid_MustExceedCurrent(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	if _, err := m.PlaceBid(a.ID, "alice", d(100)); !errors.Is(err, ErrBidTooLow) {
		t.Errorf("equal bid: expected ErrBidTooLow, got %v", err)
	}
	if _, err := m.PlaceBid(a.ID, "alice", d(99)); !errors.Is(err, ErrBidTooLow) {
		t.Errorf("lower bid: expected ErrBidTooLow, got %v", err)
	}

	// Rejected bids leave the auction untouched.
	got, _ := m.GetAuction(a.ID)
	if !got.CurrentBid.Equal(d(100)) || got.CurrentBidder != "" {
		t.Errorf("rejected bid mutated auction: bid=%s bidder=%q", got.CurrentBid, got.CurrentBidder)
	}
}

func TestPlaceBid_SellerCannotBid(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	if _, err := m.PlaceBid(a.ID, "seller", d(200)); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}

	got, _ := m.GetAuction(a.ID)
	if got.CurrentBidder != "" || !got.CurrentBid.Equal(d(100)) {
		t.Errorf("self-bid mutated auction: bid=%s bidder=%q", got.CurrentBid, got.CurrentBidder)
	}

	// Ending the auction settles nothing and returns promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := m.EndAuction(a.ID, noSettle)
		if err != nil {
			t.Errorf("end failed: %v", err)
			return
		}
		if res.Winner != "" {
			t.Errorf("expected no winner, got %q", res.Winner)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EndAuction did not return")
	}
}

func TestPlaceBid_ReportsPreviousBidder(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	first, err := m.PlaceBid(a.ID, "alice", d(150))
	if err != nil {
		t.Fatalf("first bid failed: %v", err)
	}
	if first.PreviousBidder != "" {
		t.Errorf("first bid should have no previous bidder, got %q", first.PreviousBidder)
	}

	second, err := m.PlaceBid(a.ID, "bob", d(200))
	if err != nil {
		t.Fatalf("second bid failed: %v", err)
	}
	if second.PreviousBidder != "alice" || !second.PreviousBid.Equal(d(150)) {
		t.Errorf("previous bidder not reported: %+v", second)
	}
}

func TestPlaceBid_AntiSnipeExtension(t *testing.T) {
	m, now := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)
	originalEnd := a.EndsAt

	// Bid with 4 minutes left: extends by exactly 5 minutes.
	*now = now.Add(56 * time.Minute)
	res, err := m.PlaceBid(a.ID, "alice", d(150))
	if err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if !res.Extended {
		t.Error("late bid should extend the auction")
	}
	if !res.Auction.EndsAt.Equal(originalEnd.Add(5 * time.Minute)) {
		t.Errorf("endsAt = %v, want %v", res.Auction.EndsAt, originalEnd.Add(5*time.Minute))
	}

	// Repeated late bids keep extending without bound.
	for i := 0; i < 3; i++ {
		*now = res.Auction.EndsAt.Add(-time.Minute)
		res, err = m.PlaceBid(a.ID, "bob", res.Auction.CurrentBid.Add(d(10)))
		if err != nil {
			t.Fatalf("extension bid %d failed: %v", i, err)
		}
		if !res.Extended {
			t.Errorf("extension bid %d did not extend", i)
		}
	}
	if !res.Auction.EndsAt.Equal(originalEnd.Add(4 * 5 * time.Minute)) {
		t.Errorf("after 4 late bids endsAt = %v, want %v",
			res.Auction.EndsAt, originalEnd.Add(20*time.Minute))
	}
}

func TestPlaceBid_EarlyBidDoesNotExtend(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	res, err := m.PlaceBid(a.ID, "alice", d(150))
	if err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if res.Extended || !res.Auction.EndsAt.Equal(a.EndsAt) {
		t.Errorf("early bid extended the auction: %v → %v", a.EndsAt, res.Auction.EndsAt)
	}
}

func TestPlaceBid_AfterWindowEndsAuction(t *testing.T) {
	m, now := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	*now = now.Add(2 * time.Hour)
	if _, err := m.PlaceBid(a.ID, "alice", d(150)); !errors.Is(err, ErrAlreadyEnded) {
		t.Fatalf("expected ErrAlreadyEnded, got %v", err)
	}

	got, _ := m.GetAuction(a.ID)
	if got.Status != model.AuctionEnded {
		t.Errorf("auction should be lazily ended, status = %s", got.Status)
	}
}

func TestEndAuction_WithWinner(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)
	m.PlaceBid(a.ID, "alice", d(500))

	var settled *Settlement
	res, err := m.EndAuction(a.ID, func(s Settlement) error {
		settled = &s
		return nil
	})
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if res.Winner != "alice" || !res.WinningBid.Equal(d(500)) {
		t.Errorf("winner = %q @ %s", res.Winner, res.WinningBid)
	}
	if settled == nil || settled.Currency != model.CurrencyQuantum {
		t.Errorf("settlement should use the item's currency: %+v", settled)
	}
	if len(m.Transactions()) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(m.Transactions()))
	}
	if _, err := m.EndAuction(a.ID, noSettle); !errors.Is(err, ErrAlreadyEnded) {
		t.Errorf("double end: expected ErrAlreadyEnded, got %v", err)
	}
}

func TestEndAuction_NoWinner(t *testing.T) {
	m, _ := newTestMarket(t)
	a, _ := m.CreateAuction("seller", "quantum_shard", d(100), time.Hour)

	res, err := m.EndAuction(a.ID, noSettle)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if res.Winner != "" {
		t.Errorf("expected no winner, got %q", res.Winner)
	}
	if len(m.Transactions()) != 0 {
		t.Error("no-winner auction must not create a transaction")
	}
}

// --- Search ---

func TestSearch_Pagination(t *testing.T) {
	m, _ := newTestMarket(t)
	for i := 0; i < 45; i++ {
		if _, err := m.List("seller", "energy_cluster", 1, d(1000), model.CurrencyEnergy); err != nil {
			t.Fatalf("seed listing %d failed: %v", i, err)
		}
	}

	res := m.Search(SearchFilters{Page: 3, Limit: 20})
	if len(res.Items) != 5 {
		t.Errorf("page 3 of 45 with limit 20: got %d items, want 5", len(res.Items))
	}
	if res.TotalPages != 3 {
		t.Errorf("totalPages = %d, want 3", res.TotalPages)
	}
	if res.Total != 45 {
		t.Errorf("total = %d, want 45", res.Total)
	}
}

func TestSearch_ConjunctiveFilters(t *testing.T) {
	m, _ := newTestMarket(t)
	m.List("s1", "energy_cluster", 1, d(800), model.CurrencyEnergy)
	m.List("s2", "energy_cluster", 1, d(2000), model.CurrencyEnergy)
	m.List("s3", "quantum_shard", 1, d(3000), model.CurrencyQuantum)

	minP, maxP := d(700), d(1000)
	res := m.Search(SearchFilters{
		ItemType: "energy_cluster",
		Currency: model.CurrencyEnergy,
		MinPrice: &minP,
		MaxPrice: &maxP,
	})
	if res.Total != 1 {
		t.Fatalf("expected exactly 1 match, got %d", res.Total)
	}
	if !res.Items[0].Price.Equal(d(800)) {
		t.Errorf("wrong item matched: price %s", res.Items[0].Price)
	}
}

func TestSearch_SortOrders(t *testing.T) {
	m, now := newTestMarket(t)
	m.List("s1", "energy_cluster", 1, d(900), model.CurrencyEnergy)
	*now = now.Add(time.Minute)
	m.List("s2", "energy_cluster", 1, d(600), model.CurrencyEnergy)
	*now = now.Add(time.Minute)
	m.List("s3", "energy_cluster", 1, d(1200), model.CurrencyEnergy)

	asc := m.Search(SearchFilters{SortBy: SortPriceAsc})
	if !asc.Items[0].Price.Equal(d(600)) || !asc.Items[2].Price.Equal(d(1200)) {
		t.Error("price_asc not sorted ascending")
	}

	desc := m.Search(SearchFilters{SortBy: SortPriceDesc})
	if !desc.Items[0].Price.Equal(d(1200)) {
		t.Error("price_desc not sorted descending")
	}

	newest := m.Search(SearchFilters{SortBy: SortNewest})
	if !newest.Items[0].Price.Equal(d(1200)) {
		t.Error("newest should lead with the latest listing")
	}

	// Default: soonest expiry first, which matches the earliest listing.
	def := m.Search(SearchFilters{})
	if !def.Items[0].Price.Equal(d(900)) {
		t.Error("default sort should order by time to expiry")
	}

	// Sold listings never appear.
	m.Buy(asc.Items[0].ID, "buyer", noSettle)
	if got := m.Search(SearchFilters{}); got.Total != 2 {
		t.Errorf("sold listing still searchable: total = %d", got.Total)
	}
}

// --- Transaction log retention ---

func TestTransactionLog_CappedRetention(t *testing.T) {
	m, now := newTestMarket(t)

	for i := 0; i < 1001; i++ {
		m.mu.Lock()
		m.recordTransaction(model.Transaction{
			ID:        fmt.Sprintf("tx-%04d", i),
			Price:     d(1),
			Timestamp: *now,
		})
		m.mu.Unlock()
	}

	txs := m.Transactions()
	if len(txs) != 500 {
		t.Fatalf("expected 500 retained transactions, got %d", len(txs))
	}
	// Most recent entries, original order preserved.
	if txs[0].ID != "tx-0501" {
		t.Errorf("first retained = %s, want tx-0501", txs[0].ID)
	}
	if txs[499].ID != "tx-1000" {
		t.Errorf("last retained = %s, want tx-1000", txs[499].ID)
	}
}

func TestGetStats(t *testing.T) {
	m, _ := newTestMarket(t)
	l1, _ := m.List("s1", "energy_cluster", 1, d(1000), model.CurrencyEnergy)
	l2, _ := m.List("s2", "energy_cluster", 1, d(2000), model.CurrencyEnergy)
	m.List("s3", "quantum_shard", 1, d(4000), model.CurrencyQuantum)

	m.Buy(l1.ID, "buyer", noSettle)
	m.Buy(l2.ID, "buyer", noSettle)

	stats := m.GetStats()
	if stats.ActiveItems != 1 {
		t.Errorf("active = %d, want 1", stats.ActiveItems)
	}
	if stats.TotalSold != 2 {
		t.Errorf("sold = %d, want 2", stats.TotalSold)
	}
	if !stats.TotalVolume.Equal(d(3000)) {
		t.Errorf("volume = %s, want 3000", stats.TotalVolume)
	}
	if len(stats.PopularItems) != 1 || stats.PopularItems[0].Type != "energy_cluster" {
		t.Errorf("popular items wrong: %+v", stats.PopularItems)
	}
	if len(stats.AveragePrices) != 1 || !stats.AveragePrices[0].Average.Equal(d(1500)) {
		t.Errorf("average prices wrong: %+v", stats.AveragePrices)
	}
}
