package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/energosphere/game-engine/internal/model"
)

// Sort keys accepted by Search. The default orders by time to expiry,
// soonest first.
const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortNewest    = "newest"
)

// SearchFilters are conjunctive (AND) predicates over active listings.
// Nil price bounds are open.
type SearchFilters struct {
	ItemType string
	Currency model.Currency
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Rarity   string
	SortBy   string
	Page     int // 1-indexed
	Limit    int
}

// SearchResult is one page of matching listings.
type SearchResult struct {
	Items      []model.Listing `json:"items"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	TotalPages int             `json:"total_pages"`
}

// Search returns active listings matching every filter, sorted and
// paginated.
func (m *MarketSystem) Search(f SearchFilters) SearchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []model.Listing
	for _, l := range m.listings {
		if l.Status != model.ListingActive {
			continue
		}
		if f.ItemType != "" && l.ItemType != f.ItemType {
			continue
		}
		if f.Currency != "" && l.Currency != f.Currency {
			continue
		}
		if f.MinPrice != nil && l.Price.LessThan(*f.MinPrice) {
			continue
		}
		if f.MaxPrice != nil && l.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		if f.Rarity != "" && l.Rarity != f.Rarity {
			continue
		}
		results = append(results, *l)
	}

	switch f.SortBy {
	case SortPriceAsc:
		sort.Slice(results, func(i, j int) bool { return results[i].Price.LessThan(results[j].Price) })
	case SortPriceDesc:
		sort.Slice(results, func(i, j int) bool { return results[i].Price.GreaterThan(results[j].Price) })
	case SortNewest:
		sort.Slice(results, func(i, j int) bool { return results[i].ListedAt.After(results[j].ListedAt) })
	default:
		sort.Slice(results, func(i, j int) bool { return results[i].ExpiresAt.Before(results[j].ExpiresAt) })
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = DefaultPageSize
	}

	total := len(results)
	totalPages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := results[start:end]
	if items == nil {
		items = []model.Listing{}
	}

	return SearchResult{
		Items:      items,
		Total:      total,
		Page:       page,
		TotalPages: totalPages,
	}
}

// PopularItem is one entry in the stats top-sellers list.
type PopularItem struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AveragePrice is the mean sold price for one item type.
type AveragePrice struct {
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Average decimal.Decimal `json:"average"`
}

// Stats aggregates marketplace activity.
type Stats struct {
	ActiveItems   int             `json:"active_items"`
	TotalSold     int             `json:"total_sold"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	PopularItems  []PopularItem   `json:"popular_items"`
	AveragePrices []AveragePrice  `json:"average_prices"`
	LastUpdate    time.Time       `json:"last_update"`
}

// GetStats computes marketplace aggregates over all listings: active
// count, sold count and volume, the five most sold item types, and the
// average sold price per type.
func (m *MarketSystem) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalVolume: decimal.Zero, LastUpdate: m.now()}

	type priceAgg struct {
		total decimal.Decimal
		count int
	}
	soldCounts := make(map[string]int)
	avg := make(map[string]*priceAgg)

	for _, l := range m.listings {
		switch l.Status {
		case model.ListingActive:
			stats.ActiveItems++
		case model.ListingSold:
			stats.TotalSold++
			stats.TotalVolume = stats.TotalVolume.Add(l.Price)
			soldCounts[l.ItemType]++
			pa, ok := avg[l.ItemType]
			if !ok {
				pa = &priceAgg{total: decimal.Zero}
				avg[l.ItemType] = pa
			}
			pa.total = pa.total.Add(l.Price)
			pa.count++
		}
	}

	for itemType, count := range soldCounts {
		stats.PopularItems = append(stats.PopularItems, PopularItem{
			Type:  itemType,
			Name:  m.itemTypes[itemType].Name,
			Count: count,
		})
	}
	sort.Slice(stats.PopularItems, func(i, j int) bool {
		if stats.PopularItems[i].Count != stats.PopularItems[j].Count {
			return stats.PopularItems[i].Count > stats.PopularItems[j].Count
		}
		return stats.PopularItems[i].Type < stats.PopularItems[j].Type
	})
	if len(stats.PopularItems) > 5 {
		stats.PopularItems = stats.PopularItems[:5]
	}

	for itemType, pa := range avg {
		stats.AveragePrices = append(stats.AveragePrices, AveragePrice{
			Type:    itemType,
			Name:    m.itemTypes[itemType].Name,
			Average: pa.total.Div(decimal.NewFromInt(int64(pa.count))).Round(0),
		})
	}
	sort.Slice(stats.AveragePrices, func(i, j int) bool {
		return stats.AveragePrices[i].Type < stats.AveragePrices[j].Type
	})

	return stats
}
