package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/telemetry"
	"polymarket-copytrader/pkg/types"
)

func paperConfig() *config.Config {
	return &config.Config{
		Source:            "@maker",
		Mode:              config.ModePaper,
		Profile:           config.ProfileFast,
		SizeMode:          config.SizePercent,
		MyBalanceUSDC:     100,
		SourceBalanceUSDC: 20000,
		MinPrice:          0.01,
		MaxPrice:          0.99,
		MaxLagMs:          2000,
		MaxSpread:         0.05,
		CrossTick:         0.01,
		TradeFetchLimit:   50,
		MaxParallel:       4,
		BookTTLMs:         60_000,
		LiveExec:          "python-bridge",
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(paperConfig(), testLogger())
	t.Cleanup(func() { e.cancel() })
	return e
}

func levels(px string) []types.PriceLevel {
	return []types.PriceLevel{{Price: px, Size: "10"}}
}

func TestMarkSeenAtMostOnce(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	item := trade("0x1", "A")
	if !e.markSeen(item.Key()) {
		t.Fatal("first sighting should be new")
	}
	// The same identity arriving from any later channel is a duplicate.
	for i := 0; i < 3; i++ {
		if e.markSeen(item.Key()) {
			t.Fatal("duplicate identity must not be reprocessed")
		}
	}

	if !e.markSeen(trade("0x2", "A").Key()) {
		t.Error("a different identity should be new")
	}
}

func TestDedupDispatchProcessesOnce(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	item := trade("0x1", "A")
	now := time.Now().UnixMilli()
	item.UsdcSize = 2000
	meta := types.TriggerMeta{EventTs: now - 100, RecvTs: now}

	// Same trade from bootstrap, reconcile, and a WS-triggered pull.
	e.dedupDispatch(item, "ws", meta)
	e.dedupDispatch(item, "reconcile", meta)
	e.dedupDispatch(item, "ws", meta)

	waitForTotal(t, e, 1)
	time.Sleep(30 * time.Millisecond)

	if n := e.recorder.Total(); n != 1 {
		t.Errorf("recorded %d dispatches, want exactly 1", n)
	}
}

func waitForTotal(t *testing.T, e *Engine, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.recorder.Total() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("recorder total = %d, want %d", e.recorder.Total(), want)
}

func TestTrackedSetGrowsMonotonically(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	e.trackAssets("A")
	e.trackAssets("B", "A")
	e.trackAssets()

	if n := e.trackedCount(); n != 2 {
		t.Errorf("tracked = %d, want 2", n)
	}
	if !e.feed.Tracked("A") || !e.feed.Tracked("B") {
		t.Error("tracked assets must reach the WS subscription set")
	}
}

func TestProcessTradePaperDispatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.Price = 0.51
	item.UsdcSize = 2000

	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if n := e.recorder.Total(); n != 1 {
		t.Fatalf("paper dispatch not recorded, total = %d", n)
	}
}

func TestProcessTradeSpreadReject(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	// 20c spread against a 5c limit.
	e.books.Apply("A", levels("0.40"), levels("0.60"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.UsdcSize = 2000

	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if n := e.recorder.Total(); n != 0 {
		t.Errorf("wide spread should reject, total = %d", n)
	}
}

func TestProcessTradeLagReject(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.UsdcSize = 2000

	// Event 5s old against a 2s limit.
	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 5000, RecvTs: now})

	if n := e.recorder.Total(); n != 0 {
		t.Errorf("stale event should reject, total = %d", n)
	}
}

func TestProcessTradeMissingBookReject(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	// No book applied and no HTTP fallback configured.

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.UsdcSize = 2000

	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if n := e.recorder.Total(); n != 0 {
		t.Errorf("missing book should reject, total = %d", n)
	}
}

// gateExecutor tracks peak concurrent placements.
type gateExecutor struct {
	mu        sync.Mutex
	cur, peak int
}

func (g *gateExecutor) PlaceOrder(ctx context.Context, order types.MirrorOrder) executor.Result {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
	return executor.Result{Success: true, Message: "ok"}
}

func TestParallelismCappedBySemaphore(t *testing.T) {
	t.Parallel()

	cfg := paperConfig()
	cfg.Mode = config.ModeLive
	cfg.MaxParallel = 2

	e := New(cfg, testLogger())
	t.Cleanup(func() { e.cancel() })
	gate := &gateExecutor{}
	e.exec = gate
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	for i := 0; i < 8; i++ {
		item := trade(fmt.Sprintf("0x%d", i), "A")
		item.Price = 0.51
		item.UsdcSize = 2000
		e.dedupDispatch(item, "ws", types.TriggerMeta{EventTs: now, RecvTs: now})
	}

	waitForTotal(t, e, 8)

	gate.mu.Lock()
	peak := gate.peak
	gate.mu.Unlock()
	if peak > 2 {
		t.Errorf("observed %d concurrent placements, cap is 2", peak)
	}
	if peak == 0 {
		t.Error("executor never ran")
	}
}

type failExec struct{}

func (failExec) PlaceOrder(ctx context.Context, order types.MirrorOrder) executor.Result {
	return executor.Result{Success: false, Message: "rejected upstream"}
}

// counterValue sums one counter family across its label combinations.
func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatal(err)
	}
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestLiveFailureNotCountedAsDispatch(t *testing.T) {
	t.Parallel()

	cfg := paperConfig()
	cfg.Mode = config.ModeLive
	e := New(cfg, testLogger())
	t.Cleanup(func() { e.cancel() })
	e.exec = failExec{}
	e.metrics = telemetry.NewMetrics()
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.Price = 0.51
	item.UsdcSize = 2000
	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if v := counterValue(t, e.metrics.Gatherer(), "copytrader_trades_total"); v != 0 {
		t.Errorf("trades_total = %v after a failed placement, want 0", v)
	}
	if v := counterValue(t, e.metrics.Gatherer(), "copytrader_exec_failures_total"); v != 1 {
		t.Errorf("exec_failures_total = %v, want 1", v)
	}
	// Failures are still latency-sampled.
	if n := e.recorder.Total(); n != 1 {
		t.Errorf("sample count = %d, want 1", n)
	}
}

func TestPaperDispatchCounted(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.metrics = telemetry.NewMetrics()
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.Price = 0.51
	item.UsdcSize = 2000
	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if v := counterValue(t, e.metrics.Gatherer(), "copytrader_trades_total"); v != 1 {
		t.Errorf("trades_total = %v, want 1", v)
	}
}

func TestBootstrapReplaysWindowAndUnknownTimestamps(t *testing.T) {
	t.Parallel()

	nowSec := time.Now().Unix()
	body := fmt.Sprintf(`[
		{"transactionHash":"0xrecent","asset":"A","side":"BUY","timestamp":%d,"price":0.51,"usdcSize":2000},
		{"transactionHash":"0xnots","asset":"A","side":"BUY","timestamp":0,"price":0.51,"usdcSize":2000},
		{"transactionHash":"0xold","asset":"A","side":"BUY","timestamp":%d,"price":0.51,"usdcSize":2000}
	]`, nowSec, nowSec-1000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	cfg := paperConfig()
	cfg.BootstrapSeconds = 120
	cfg.Endpoints.DataBaseURL = srv.URL

	e := New(cfg, testLogger())
	t.Cleanup(func() { e.cancel() })
	e.wallet = "0xw"
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	if err := e.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// The recent item and the unknown-timestamp item replay; the item
	// known to predate the window does not.
	waitForTotal(t, e, 2)
	time.Sleep(30 * time.Millisecond)
	if n := e.recorder.Total(); n != 2 {
		t.Errorf("replayed %d items, want 2", n)
	}

	if e.trackedCount() != 1 {
		t.Errorf("tracked = %d, want 1", e.trackedCount())
	}

	// All history is marked seen regardless of replay.
	e.seenMu.Lock()
	seen := len(e.seen)
	e.seenMu.Unlock()
	if seen != 3 {
		t.Errorf("seen = %d, want all 3 history items", seen)
	}
}

func TestProcessTradeLowercaseSide(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.books.Apply("A", levels("0.50"), levels("0.52"))

	now := time.Now().UnixMilli()
	item := trade("0x1", "A")
	item.Side = "buy"
	item.UsdcSize = 2000

	e.processTrade(item, "ws", types.TriggerMeta{EventTs: now - 100, RecvTs: now})

	if n := e.recorder.Total(); n != 1 {
		t.Errorf("lowercase side should normalize and dispatch, total = %d", n)
	}
}
