package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/model"
)

// Settler applies buyer→seller settlements against player balances. The
// session layer implements it; the marketplace never mutates balances
// directly.
type Settler interface {
	ApplySettlement(ctx context.Context, s Settlement) error
}

// Handlers exposes the marketplace over HTTP. Every response is a
// {"success": bool, ...} envelope.
type Handlers struct {
	market  *MarketSystem
	settler Settler
}

// NewHandlers creates the HTTP surface for a marketplace.
func NewHandlers(m *MarketSystem, settler Settler) *Handlers {
	return &Handlers{market: m, settler: settler}
}

// Routes mounts the marketplace endpoints.
func (h *Handlers) Routes(r chi.Router) {
	r.Post("/listings", h.CreateListing)
	r.Post("/listings/{listingID}/buy", h.BuyListing)
	r.Post("/listings/{listingID}/cancel", h.CancelListing)
	r.Get("/search", h.SearchListings)
	r.Get("/item-types", h.GetItemTypes)
	r.Get("/stats", h.GetStats)
	r.Post("/auctions", h.CreateAuction)
	r.Post("/auctions/{auctionID}/bids", h.PlaceBid)
	r.Post("/auctions/{auctionID}/end", h.EndAuction)
}

// CreateListingRequest is the JSON body for POST /listings.
type CreateListingRequest struct {
	SellerID string          `json:"seller_id"`
	ItemType string          `json:"item_type"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Currency model.Currency  `json:"currency"`
}

// CreateListing handles POST /listings.
func (h *Handlers) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" {
		writeFailure(w, "seller_id is required", http.StatusBadRequest)
		return
	}

	listing, err := h.market.List(req.SellerID, req.ItemType, req.Quantity, req.Price, req.Currency)
	if err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"item": listing})
}

// BuyListing handles POST /listings/{listingID}/buy. Settlement is applied
// synchronously through the session layer; an unsettled buy never happens.
func (h *Handlers) BuyListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	var req struct {
		BuyerID string `json:"buyer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuyerID == "" {
		writeFailure(w, "buyer_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	listing, err := h.market.Buy(listingID, req.BuyerID, func(s Settlement) error {
		return h.settler.ApplySettlement(ctx, s)
	})
	if err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"item": listing})
}

// CancelListing handles POST /listings/{listingID}/cancel.
func (h *Handlers) CancelListing(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "listingID")

	var req struct {
		RequesterID string `json:"requester_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequesterID == "" {
		writeFailure(w, "requester_id is required", http.StatusBadRequest)
		return
	}

	if err := h.market.Cancel(listingID, req.RequesterID); err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// SearchListings handles GET /search with conjunctive query filters.
func (h *Handlers) SearchListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := SearchFilters{
		ItemType: q.Get("itemType"),
		Currency: model.Currency(q.Get("currency")),
		Rarity:   q.Get("rarity"),
		SortBy:   q.Get("sortBy"),
	}
	if v := q.Get("minPrice"); v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			writeFailure(w, "invalid minPrice", http.StatusBadRequest)
			return
		}
		filters.MinPrice = &p
	}
	if v := q.Get("maxPrice"); v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			writeFailure(w, "invalid maxPrice", http.StatusBadRequest)
			return
		}
		filters.MaxPrice = &p
	}
	if v := q.Get("page"); v != "" {
		filters.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filters.Limit, _ = strconv.Atoi(v)
	}

	res := h.market.Search(filters)
	writeSuccess(w, http.StatusOK, map[string]any{
		"items":       res.Items,
		"total":       res.Total,
		"page":        res.Page,
		"total_pages": res.TotalPages,
	})
}

// GetItemTypes handles GET /item-types.
func (h *Handlers) GetItemTypes(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"item_types": h.market.ItemTypes()})
}

// GetStats handles GET /stats.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"stats": h.market.GetStats()})
}

// CreateAuctionRequest is the JSON body for POST /auctions.
type CreateAuctionRequest struct {
	SellerID        string          `json:"seller_id"`
	ItemType        string          `json:"item_type"`
	StartingBid     decimal.Decimal `json:"starting_bid"`
	DurationSeconds int64           `json:"duration_seconds"`
}

// CreateAuction handles POST /auctions.
func (h *Handlers) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" {
		writeFailure(w, "seller_id is required", http.StatusBadRequest)
		return
	}

	auction, err := h.market.CreateAuction(req.SellerID, req.ItemType, req.StartingBid,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"auction": auction})
}

// PlaceBid handles POST /auctions/{auctionID}/bids. The previous highest
// bidder is reported so the caller can release that player's funds; no
// escrow is held here.
func (h *Handlers) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	var req struct {
		BidderID string          `json:"bidder_id"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BidderID == "" {
		writeFailure(w, "bidder_id is required", http.StatusBadRequest)
		return
	}

	res, err := h.market.PlaceBid(auctionID, req.BidderID, req.Amount)
	if err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}

	payload := map[string]any{
		"auction":  res.Auction,
		"extended": res.Extended,
	}
	if res.PreviousBidder != "" {
		payload["previous_bidder"] = res.PreviousBidder
		payload["previous_bid"] = res.PreviousBid
	}
	writeSuccess(w, http.StatusOK, payload)
}

// EndAuction handles POST /auctions/{auctionID}/end.
func (h *Handlers) EndAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	ctx := r.Context()
	res, err := h.market.EndAuction(auctionID, func(s Settlement) error {
		return h.settler.ApplySettlement(ctx, s)
	})
	if err != nil {
		writeFailure(w, err.Error(), statusFor(err))
		return
	}

	payload := map[string]any{"auction": res.Auction}
	if res.Winner != "" {
		payload["winner"] = res.Winner
		payload["winning_bid"] = res.WinningBid
	}
	writeSuccess(w, http.StatusOK, payload)
}

// statusFor maps marketplace errors onto HTTP status codes: validation
// failures → 400, unknown ids → 404, state conflicts and expiry → 409.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownItemType), errors.Is(err, ErrPriceOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

// writeSuccess writes a {"success": true, ...} JSON envelope.
func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeFailure writes a {"success": false, "error": msg} JSON envelope.
func writeFailure(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}
