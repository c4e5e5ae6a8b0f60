package risk

import (
	"testing"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/pkg/types"
)

func newTestGuard() *Guard {
	return NewGuard(&config.Config{
		MinPrice:  0.01,
		MaxPrice:  0.99,
		MaxLagMs:  2000,
		MaxSpread: 0.05,
	})
}

func TestCheckTrade(t *testing.T) {
	t.Parallel()
	g := newTestGuard()

	cases := []struct {
		name  string
		side  types.Side
		asset string
		price float64
		want  Rejection
	}{
		{"valid buy", types.BUY, "tok1", 0.52, RejectNone},
		{"valid sell", types.SELL, "tok1", 0.48, RejectNone},
		{"bad side", types.Side("HOLD"), "tok1", 0.52, RejectSide},
		{"empty side", types.Side(""), "tok1", 0.52, RejectSide},
		{"missing asset", types.BUY, "", 0.52, RejectSide},
		{"below band", types.BUY, "tok1", 0.005, RejectPriceBand},
		{"above band", types.BUY, "tok1", 0.995, RejectPriceBand},
		{"at band floor", types.BUY, "tok1", 0.01, RejectNone},
		{"at band ceiling", types.BUY, "tok1", 0.99, RejectNone},
	}

	for _, c := range cases {
		if got := g.CheckTrade(c.side, c.asset, c.price); got != c.want {
			t.Errorf("%s: CheckTrade = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestCheckLag(t *testing.T) {
	t.Parallel()
	g := newTestGuard()

	lag, rej := g.CheckLag(10_000, 11_500)
	if rej != RejectNone || lag != 1500 {
		t.Errorf("1.5s lag: got (%d, %q), want pass", lag, rej)
	}

	lag, rej = g.CheckLag(10_000, 12_500)
	if rej != RejectLag || lag != 2500 {
		t.Errorf("2.5s lag: got (%d, %q), want reject", lag, rej)
	}

	// Unknown event timestamp passes with zero lag.
	lag, rej = g.CheckLag(0, 12_500)
	if rej != RejectNone || lag != 0 {
		t.Errorf("unknown eventTs: got (%d, %q), want (0, pass)", lag, rej)
	}
}

func TestCheckSpread(t *testing.T) {
	t.Parallel()
	g := newTestGuard()

	tight := 0.03
	if rej := g.CheckSpread(types.BookSnapshot{Spread: &tight}); rej != RejectNone {
		t.Errorf("3c spread: got %q, want pass", rej)
	}

	wide := 0.08
	if rej := g.CheckSpread(types.BookSnapshot{Spread: &wide}); rej != RejectSpread {
		t.Errorf("8c spread: got %q, want reject", rej)
	}

	// Unknown spread passes; the sizer rejects missing sides.
	if rej := g.CheckSpread(types.BookSnapshot{}); rej != RejectNone {
		t.Errorf("nil spread: got %q, want pass", rej)
	}
}
