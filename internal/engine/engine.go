// Package engine is the central orchestrator of the copy trader.
//
// It wires together all subsystems:
//
//  1. The identity resolver maps --source to a wallet address (once).
//  2. Bootstrap seeds the seen-set and tracked assets from recent history,
//     replaying only trades inside the bootstrap window.
//  3. The market WebSocket feed updates the book cache and emits refresh
//     triggers that the debounced refresher coalesces into activity pulls.
//  4. The reconcile loop is the safety net for WS gaps and the discovery
//     channel for new assets (growing the WS subscription as it goes).
//  5. Every unseen trade flows through the processor under a counting
//     semaphore that caps concurrent trade tasks at maxParallel.
//
// Lifecycle: New() → Start() → [runs until SIGINT/SIGTERM or benchmark
// expiry] → Stop(). The seen-set and tracked-asset set grow monotonically
// for the process lifetime; nothing is persisted across restarts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/market"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/strategy"
	"polymarket-copytrader/internal/telemetry"
	"polymarket-copytrader/pkg/types"
)

// State is the lifecycle state machine position.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

const reconcileFetchLimit = 100 // items per reconcile/bootstrap pull

// Engine orchestrates the streaming replication pipeline.
type Engine struct {
	cfg      *config.Config
	client   *exchange.Client
	feed     *exchange.MarketFeed
	books    *market.Cache
	guard    *risk.Guard
	sizer    *strategy.Sizer
	exec     executor.Executor
	recorder *telemetry.Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	wallet string // resolved source wallet, constant after Start

	// seen holds trade identity keys already processed. Guarded by seenMu;
	// grows monotonically for the run.
	seenMu sync.Mutex
	seen   map[string]struct{}

	// tracked holds asset IDs whose books and trades are of interest.
	trackedMu sync.Mutex
	tracked   map[string]struct{}

	refresher *refresher
	sem       *semaphore.Weighted // sole parallelism gate for trade tasks

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	selfStop chan struct{} // closed when the benchmark timer fires
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	client := exchange.NewClient(cfg.Endpoints, logger)
	feed := exchange.NewMarketFeed(cfg.Endpoints.WSMarketURL, cfg.MinAssetRefreshMs, logger)

	var prober market.Prober
	if cfg.BookHTTPFallback {
		prober = client
	}
	books := market.NewCache(prober, cfg.BookHTTPFallback, cfg.BookTTLMs, logger)

	var metrics *telemetry.Metrics
	if cfg.MetricsAddr != "" {
		metrics = telemetry.NewMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:      cfg,
		client:   client,
		feed:     feed,
		books:    books,
		guard:    risk.NewGuard(cfg),
		sizer:    strategy.NewSizer(cfg),
		exec:     executor.New(cfg.LiveExec, cfg.PythonBin, cfg.BridgeScript),
		recorder: telemetry.NewRecorder(),
		metrics:  metrics,
		logger:   logger.With("component", "engine"),
		seen:     make(map[string]struct{}),
		tracked:  make(map[string]struct{}),
		sem:      semaphore.NewWeighted(int64(cfg.MaxParallel)),
		ctx:      ctx,
		cancel:   cancel,
		selfStop: make(chan struct{}),
	}

	e.refresher = newRefresher(
		cfg.RefreshDebounceMs,
		cfg.ActivityCacheMs,
		cfg.TradeFetchLimit,
		func(ctx context.Context, limit int) ([]types.TradeItem, error) {
			return e.client.FetchActivity(ctx, e.wallet, limit)
		},
		e.dedupDispatch,
		logger,
	)

	return e
}

// Recorder exposes the latency recorder for the final shutdown summary.
func (e *Engine) Recorder() *telemetry.Recorder { return e.recorder }

// SelfStopped is closed when the benchmark timer asks for shutdown.
func (e *Engine) SelfStopped() <-chan struct{} { return e.selfStop }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Start resolves the source, runs bootstrap, and launches the WS loop,
// the reconcile loop, and the optional benchmark timer. Errors here are
// startup errors and fatal to the process.
func (e *Engine) Start() error {
	wallet, err := e.client.ResolveSource(e.ctx, e.cfg.Source)
	if err != nil {
		return err
	}
	e.wallet = wallet
	e.logger.Info("source resolved", "source", e.cfg.Source, "wallet", wallet)

	if err := e.bootstrap(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.eventLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.reconcileLoop()
	}()

	if e.metrics != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.metrics.Serve(e.ctx, e.cfg.MetricsAddr, e.logger)
		}()
	}

	if e.cfg.BenchmarkSeconds > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			select {
			case <-e.ctx.Done():
			case <-time.After(time.Duration(e.cfg.BenchmarkSeconds) * time.Second):
				e.logger.Info("benchmark window elapsed, stopping")
				close(e.selfStop)
			}
		}()
	}

	e.state.Store(int32(StateRunning))
	e.logger.Info("engine running",
		"mode", e.cfg.Mode,
		"profile", e.cfg.Profile,
		"sizing", e.cfg.SizeMode,
		"tracked", e.trackedCount(),
	)
	return nil
}

// Stop drains the pipeline: cancels timers and contexts, closes the WS,
// waits for in-flight trade tasks, and prints the final latency summary.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.state.Store(int32(StateStopping))
		e.logger.Info("shutting down...")

		e.refresher.stop()
		e.cancel()
		e.feed.Stop()
		e.wg.Wait()

		e.recorder.LogSummary(e.logger)
		e.state.Store(int32(StateStopped))
		e.logger.Info("shutdown complete")
	})
}

// bootstrap seeds the seen-set and tracked assets from the most recent
// history and replays only trades inside the bootstrap window, once.
func (e *Engine) bootstrap() error {
	items, err := e.client.FetchActivity(e.ctx, e.wallet, reconcileFetchLimit)
	if err != nil {
		return err
	}

	cutoffMs := e.now().UnixMilli() - int64(e.cfg.BootstrapSeconds)*1000
	replayed := 0

	// Oldest first so replays follow the source's execution order.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Asset != "" {
			e.trackAssets(item.Asset)
		}
		if !e.markSeen(item.Key()) {
			continue
		}
		// Items with no usable timestamp replay too; only items known to
		// predate the window are dropped.
		if ts := item.TimestampMs(); ts == 0 || ts >= cutoffMs {
			replayed++
			e.spawnProcess(item, "bootstrap", types.TriggerMeta{EventTs: ts, RecvTs: e.now().UnixMilli()})
		}
	}

	e.logger.Info("bootstrap complete",
		"history", len(items),
		"replayed", replayed,
		"tracked", e.trackedCount(),
	)
	return nil
}

// eventLoop routes WS events: book snapshots into the cache, trade
// triggers into the debounced refresher.
func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.feed.BookEvents():
			e.books.Apply(evt.AssetID, evt.BidLevels(), evt.AskLevels())
		case trig := <-e.feed.Triggers():
			e.refresher.Request(e.ctx, trig.AssetID, trig.Meta)
		}
	}
}

// reconcileLoop periodically pulls the activity feed as a safety net for
// WS gaps and to discover newly-traded assets.
func (e *Engine) reconcileLoop() {
	period := time.Duration(e.cfg.ReconcileSeconds) * time.Second
	if period < 2*time.Second {
		period = 2 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.reconcile()
		}
	}
}

func (e *Engine) reconcile() {
	items, err := e.client.FetchActivity(e.ctx, e.wallet, reconcileFetchLimit)
	if err != nil {
		e.logger.Warn("reconcile fetch failed", "error", err)
		return
	}

	assets := make([]string, 0, 4)
	for _, item := range items {
		if item.Asset != "" {
			assets = append(assets, item.Asset)
		}
	}
	e.trackAssets(assets...)

	nowMs := e.now().UnixMilli()
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if !e.markSeen(item.Key()) {
			continue
		}
		e.spawnProcess(item, "reconcile", types.TriggerMeta{EventTs: item.TimestampMs(), RecvTs: nowMs})
	}
}

// dedupDispatch is the refresher's sink: the seen-set gates dispatch so a
// trade identity is processed at most once per run.
func (e *Engine) dedupDispatch(item types.TradeItem, reason string, meta types.TriggerMeta) {
	if !e.markSeen(item.Key()) {
		return
	}
	e.spawnProcess(item, reason, meta)
}

// spawnProcess runs the trade processor on its own goroutine under the
// parallelism semaphore.
func (e *Engine) spawnProcess(item types.TradeItem, reason string, meta types.TriggerMeta) {
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		return // shutting down
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		e.processTrade(item, reason, meta)
	}()
}

// markSeen inserts a trade identity key, reporting whether it was new.
func (e *Engine) markSeen(key string) bool {
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if _, ok := e.seen[key]; ok {
		return false
	}
	e.seen[key] = struct{}{}
	return true
}

// trackAssets grows the tracked set and, when it actually grew,
// re-subscribes the WS feed with the full set. Membership is monotonic.
func (e *Engine) trackAssets(ids ...string) {
	e.trackedMu.Lock()
	grew := false
	for _, id := range ids {
		if _, ok := e.tracked[id]; !ok {
			e.tracked[id] = struct{}{}
			grew = true
		}
	}
	all := make([]string, 0, len(e.tracked))
	for id := range e.tracked {
		all = append(all, id)
	}
	e.trackedMu.Unlock()

	if !grew {
		return
	}
	if err := e.feed.SetAssets(all); err != nil {
		// Not connected yet; the connect path subscribes with the full set.
		e.logger.Debug("ws resubscribe deferred", "error", err, "tracked", len(all))
	} else {
		e.logger.Info("tracked assets updated", "tracked", len(all))
	}
}

func (e *Engine) trackedCount() int {
	e.trackedMu.Lock()
	defer e.trackedMu.Unlock()
	return len(e.tracked)
}

func (e *Engine) now() time.Time { return time.Now() }
