// Package risk enforces the per-trade market-risk guards.
//
// Unlike a resting-order market maker, the copy trader's risk surface is
// the moment of mirroring: a source trade is either mirrored immediately
// or dropped. The guard therefore evaluates three gates against the trade
// and the cached top of book:
//
//   - Price band:  the source trade's price must sit in [minPrice, maxPrice].
//   - Staleness:   the trade must have been received within maxLagMs of the
//     exchange-side event timestamp (unknown timestamps pass).
//   - Spread:      the top-of-book spread must not exceed maxSpread
//     (an unknown spread passes; the pricing step rejects missing sides).
//
// A failed gate is a silent drop, not an error: the returned Rejection
// names the gate for logging and metrics.
package risk

import (
	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/pkg/types"
)

// Rejection identifies which gate dropped a trade. Empty means accepted.
type Rejection string

const (
	RejectNone      Rejection = ""
	RejectSide      Rejection = "side"
	RejectPriceBand Rejection = "price_band"
	RejectLag       Rejection = "lag"
	RejectSpread    Rejection = "spread"
)

// Guard holds the configured limits.
type Guard struct {
	minPrice  float64
	maxPrice  float64
	maxLagMs  int64
	maxSpread float64
}

// NewGuard creates a guard from config.
func NewGuard(cfg *config.Config) *Guard {
	return &Guard{
		minPrice:  cfg.MinPrice,
		maxPrice:  cfg.MaxPrice,
		maxLagMs:  cfg.MaxLagMs,
		maxSpread: cfg.MaxSpread,
	}
}

// CheckTrade validates the trade itself: side, asset, and price band.
func (g *Guard) CheckTrade(side types.Side, asset string, srcPrice float64) Rejection {
	if !side.Valid() || asset == "" {
		return RejectSide
	}
	if srcPrice < g.minPrice || srcPrice > g.maxPrice {
		return RejectPriceBand
	}
	return RejectNone
}

// CheckLag rejects trades whose receive lag exceeds maxLagMs. An unknown
// event timestamp (eventTs == 0) passes with lag 0.
func (g *Guard) CheckLag(eventTs, recvTs int64) (lagMs int64, rej Rejection) {
	if eventTs == 0 {
		return 0, RejectNone
	}
	lagMs = recvTs - eventTs
	if lagMs > g.maxLagMs {
		return lagMs, RejectLag
	}
	return lagMs, RejectNone
}

// CheckSpread rejects when the known spread exceeds maxSpread. A nil
// spread (one-sided or empty book) passes here; the pricing step rejects
// the affected side.
func (g *Guard) CheckSpread(book types.BookSnapshot) Rejection {
	if book.Spread != nil && *book.Spread > g.maxSpread {
		return RejectSpread
	}
	return RejectNone
}
