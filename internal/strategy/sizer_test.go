package strategy

import (
	"math"
	"testing"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/pkg/types"
)

func percentSizer() *Sizer {
	return NewSizer(&config.Config{
		SizeMode:          config.SizePercent,
		MyBalanceUSDC:     100,
		SourceBalanceUSDC: 20000,
		MinPrice:          0.01,
		MaxPrice:          0.99,
		CrossTick:         0.01,
	})
}

func fixedSizer() *Sizer {
	return NewSizer(&config.Config{
		SizeMode:       config.SizeFixed,
		FixedOrderUSDC: 1.0,
		MinPrice:       0.01,
		MaxPrice:       0.99,
		CrossTick:      0.01,
	})
}

func book(bid, ask float64) types.BookSnapshot {
	snap := types.BookSnapshot{AssetID: "tok1", UpdatedAtMs: 1}
	if bid > 0 {
		snap.BestBid = &bid
	}
	if ask > 0 {
		snap.BestAsk = &ask
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := ask - bid
		snap.Spread = &spread
	}
	return snap
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-4 }

func TestPercentBuyCrossesAsk(t *testing.T) {
	t.Parallel()
	s := percentSizer()

	item := types.TradeItem{
		TransactionHash: "0x1",
		Asset:           "tok1",
		Side:            "BUY",
		Price:           0.51,
		UsdcSize:        2000,
	}

	order, rej := s.Build(item, book(0.50, 0.52))
	if rej != RejectNone {
		t.Fatalf("rejected: %q", rej)
	}
	if order.Price != 0.53 {
		t.Errorf("px = %v, want 0.53 (ask + cross tick)", order.Price)
	}
	if !approx(order.CopyUsdc, 10.00) {
		t.Errorf("copyUsdc = %v, want 10.00 (2000 × 0.005)", order.CopyUsdc)
	}
	if !approx(order.Shares, 18.8679) {
		t.Errorf("shares = %v, want ≈18.8679", order.Shares)
	}
	if order.Side != types.BUY || order.TokenID != "tok1" {
		t.Errorf("order = %+v", order)
	}
}

func TestFixedSellCrossesBid(t *testing.T) {
	t.Parallel()
	s := fixedSizer()

	item := types.TradeItem{
		TransactionHash: "0x2",
		Asset:           "tok1",
		Side:            "SELL",
		Price:           0.71,
		Size:            5,
	}

	order, rej := s.Build(item, book(0.70, 0.72))
	if rej != RejectNone {
		t.Fatalf("rejected: %q", rej)
	}
	if order.Price != 0.69 {
		t.Errorf("px = %v, want 0.69 (bid − cross tick)", order.Price)
	}
	if !approx(order.SrcUsdc, 3.45) {
		t.Errorf("srcUsdc = %v, want 3.45 (5 × 0.69)", order.SrcUsdc)
	}
	if !approx(order.CopyUsdc, 1.0) {
		t.Errorf("copyUsdc = %v, want fixed 1.0", order.CopyUsdc)
	}
	if !approx(order.Shares, 1.4493) {
		t.Errorf("shares = %v, want ≈1.4493", order.Shares)
	}
}

func TestPriceClampedToBand(t *testing.T) {
	t.Parallel()
	s := percentSizer()

	// Ask at the ceiling: crossing must not exceed maxPrice.
	px, rej := s.Price(types.BUY, book(0.97, 0.99))
	if rej != RejectNone || px != 0.99 {
		t.Errorf("BUY at ceiling: (%v, %q), want 0.99", px, rej)
	}

	// Bid at the floor: crossing must not fall below minPrice.
	px, rej = s.Price(types.SELL, book(0.01, 0.03))
	if rej != RejectNone || px != 0.01 {
		t.Errorf("SELL at floor: (%v, %q), want 0.01", px, rej)
	}
}

func TestMissingSideRejected(t *testing.T) {
	t.Parallel()
	s := percentSizer()

	if _, rej := s.Price(types.BUY, book(0.50, 0)); rej != RejectNoAsk {
		t.Errorf("BUY with no ask: %q, want no_ask", rej)
	}
	if _, rej := s.Price(types.SELL, book(0, 0.52)); rej != RejectNoBid {
		t.Errorf("SELL with no bid: %q, want no_bid", rej)
	}
}

func TestSourceNotionalFallsBackToSizeTimesPx(t *testing.T) {
	t.Parallel()
	s := percentSizer()

	v, rej := s.SourceNotional(9.98, 19.2, 0.53)
	if rej != RejectNone || v != 9.98 {
		t.Errorf("usdcSize present: (%v, %q)", v, rej)
	}

	v, rej = s.SourceNotional(0, 5, 0.69)
	if rej != RejectNone || !approx(v, 3.45) {
		t.Errorf("size fallback: (%v, %q), want 3.45", v, rej)
	}

	if _, rej = s.SourceNotional(0, 0, 0.69); rej != RejectNotional {
		t.Errorf("empty notional: %q, want notional reject", rej)
	}
}

func TestMaxOrderCap(t *testing.T) {
	t.Parallel()
	s := NewSizer(&config.Config{
		SizeMode:          config.SizePercent,
		MyBalanceUSDC:     100,
		SourceBalanceUSDC: 100, // scale 1.0
		MaxOrderUSDC:      5,
		MinPrice:          0.01,
		MaxPrice:          0.99,
		CrossTick:         0.01,
	})

	copyUsdc, rej := s.CopyNotional(2000)
	if rej != RejectNone || copyUsdc != 5 {
		t.Errorf("cap: (%v, %q), want 5", copyUsdc, rej)
	}

	copyUsdc, rej = s.CopyNotional(3)
	if rej != RejectNone || copyUsdc != 3 {
		t.Errorf("under cap: (%v, %q), want 3", copyUsdc, rej)
	}
}

func TestZeroNotionalRejected(t *testing.T) {
	t.Parallel()
	s := percentSizer()

	if _, rej := s.CopyNotional(0); rej != RejectSizing {
		t.Errorf("zero notional: %q, want sizing reject", rej)
	}
}
