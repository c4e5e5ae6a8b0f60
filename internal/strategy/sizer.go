// Package strategy prices and sizes the mirror order.
//
// Pricing crosses the book to favor immediate execution: a BUY is priced
// at bestAsk + crossTick, a SELL at bestBid − crossTick, clamped to the
// configured price band and rounded to the 0.01 tick. Sizing scales the
// source notional by the percent ratio (myBalance / sourceBalance) or
// replaces it with a fixed notional, optionally capped by a hard per-order
// limit.
//
// All price arithmetic runs on shopspring decimals so that cross-tick
// addition and tick rounding are exact; shares are derived at the end as
// copyUsdc / px.
package strategy

import (
	"github.com/shopspring/decimal"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/pkg/types"
)

// Rejection names the pricing/sizing step that dropped a trade.
type Rejection string

const (
	RejectNone     Rejection = ""
	RejectNoBid    Rejection = "no_bid"
	RejectNoAsk    Rejection = "no_ask"
	RejectNotional Rejection = "notional"
	RejectSizing   Rejection = "sizing"
)

const tickDecimals = 2 // 0.01 tick size

// Sizer converts a source trade plus top of book into a MirrorOrder.
type Sizer struct {
	sizeMode  config.SizeMode
	scale     decimal.Decimal // myBalance / sourceBalance
	fixedUsdc decimal.Decimal
	maxUsdc   decimal.Decimal // zero = disabled
	minPrice  decimal.Decimal
	maxPrice  decimal.Decimal
	crossTick decimal.Decimal
}

// NewSizer creates a sizer from config. The percent scale is only
// meaningful in percent mode, where validation guarantees both balances
// are positive.
func NewSizer(cfg *config.Config) *Sizer {
	scale := decimal.Zero
	if cfg.SourceBalanceUSDC > 0 {
		scale = decimal.NewFromFloat(cfg.MyBalanceUSDC).Div(decimal.NewFromFloat(cfg.SourceBalanceUSDC))
	}
	return &Sizer{
		sizeMode:  cfg.SizeMode,
		scale:     scale,
		fixedUsdc: decimal.NewFromFloat(cfg.FixedOrderUSDC),
		maxUsdc:   decimal.NewFromFloat(cfg.MaxOrderUSDC),
		minPrice:  decimal.NewFromFloat(cfg.MinPrice),
		maxPrice:  decimal.NewFromFloat(cfg.MaxPrice),
		crossTick: decimal.NewFromFloat(cfg.CrossTick),
	}
}

// Price computes the mirror order price for one side of the book.
// BUY requires bestAsk, SELL requires bestBid; the result is clamped to
// [minPrice, maxPrice] and rounded to the tick.
func (s *Sizer) Price(side types.Side, book types.BookSnapshot) (float64, Rejection) {
	var px decimal.Decimal
	switch side {
	case types.BUY:
		if book.BestAsk == nil {
			return 0, RejectNoAsk
		}
		px = decimal.NewFromFloat(*book.BestAsk).Add(s.crossTick)
		if px.GreaterThan(s.maxPrice) {
			px = s.maxPrice
		}
	case types.SELL:
		if book.BestBid == nil {
			return 0, RejectNoBid
		}
		px = decimal.NewFromFloat(*book.BestBid).Sub(s.crossTick)
		if px.LessThan(s.minPrice) {
			px = s.minPrice
		}
	default:
		return 0, RejectSizing
	}

	// Clamp and round to tick.
	if px.LessThan(s.minPrice) {
		px = s.minPrice
	}
	if px.GreaterThan(s.maxPrice) {
		px = s.maxPrice
	}
	px = px.Round(tickDecimals)

	f, _ := px.Float64()
	return f, RejectNone
}

// SourceNotional determines the USDC value of the source trade: usdcSize
// when present, otherwise size × px. Non-positive results are rejected.
func (s *Sizer) SourceNotional(usdcSize, size, px float64) (float64, Rejection) {
	if usdcSize > 0 {
		return usdcSize, RejectNone
	}
	if size > 0 && px > 0 {
		v, _ := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(px)).Float64()
		return v, RejectNone
	}
	return 0, RejectNotional
}

// CopyNotional applies the sizing rule to the source notional, then the
// optional hard cap.
func (s *Sizer) CopyNotional(srcUsdc float64) (float64, Rejection) {
	var copyUsdc decimal.Decimal
	switch s.sizeMode {
	case config.SizePercent:
		copyUsdc = decimal.NewFromFloat(srcUsdc).Mul(s.scale)
	case config.SizeFixed:
		copyUsdc = s.fixedUsdc
	default:
		return 0, RejectSizing
	}

	if s.maxUsdc.IsPositive() && copyUsdc.GreaterThan(s.maxUsdc) {
		copyUsdc = s.maxUsdc
	}
	if !copyUsdc.IsPositive() {
		return 0, RejectSizing
	}

	f, _ := copyUsdc.Float64()
	return f, RejectNone
}

// Shares derives the order quantity from the copy notional and the order
// price.
func (s *Sizer) Shares(copyUsdc, px float64) float64 {
	f, _ := decimal.NewFromFloat(copyUsdc).Div(decimal.NewFromFloat(px)).Float64()
	return f
}

// Build runs the full pricing and sizing pipeline for one trade.
func (s *Sizer) Build(item types.TradeItem, book types.BookSnapshot) (types.MirrorOrder, Rejection) {
	side := types.Side(item.Side)

	px, rej := s.Price(side, book)
	if rej != RejectNone {
		return types.MirrorOrder{}, rej
	}

	srcUsdc, rej := s.SourceNotional(float64(item.UsdcSize), float64(item.Size), px)
	if rej != RejectNone {
		return types.MirrorOrder{}, rej
	}

	copyUsdc, rej := s.CopyNotional(srcUsdc)
	if rej != RejectNone {
		return types.MirrorOrder{}, rej
	}

	return types.MirrorOrder{
		TokenID:  item.Asset,
		Side:     side,
		Price:    px,
		Shares:   s.Shares(copyUsdc, px),
		SrcPrice: float64(item.Price),
		SrcUsdc:  srcUsdc,
		CopyUsdc: copyUsdc,
	}, RejectNone
}
