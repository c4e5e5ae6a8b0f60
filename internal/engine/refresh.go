// refresh.go coalesces WebSocket trade triggers into debounced activity
// pulls.
//
// A last_trade_price trigger never pulls the activity feed directly.
// Instead it lands in a pending set and arms a one-shot timer; a storm of
// triggers across many assets collapses into a single HTTP pull while the
// per-trigger (eventTs, recvTs) metadata is preserved so each dispatched
// trade is attributed to the WS event that caused it.
//
// The state machine has four fields — {timerArmed, inFlight, pending,
// lastFetchAt} — and four transitions: trigger (Request), timerFire,
// fetchStart, and fetchEnd. At most one pull is in flight; triggers that
// arrive during a pull accumulate and cause exactly one follow-up pull.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-copytrader/pkg/types"
)

// fetchFunc pulls the newest activity items, newest first.
type fetchFunc func(ctx context.Context, limit int) ([]types.TradeItem, error)

// dispatchFunc hands one unfiltered item to the dedup gate.
type dispatchFunc func(item types.TradeItem, reason string, meta types.TriggerMeta)

type refresher struct {
	mu          sync.Mutex
	pending     map[string]types.TriggerMeta // assets awaiting a pull
	timerArmed  bool
	inFlight    bool
	lastFetchAt time.Time
	timer       *time.Timer

	// Last activity payload, reused when young enough.
	lastItems   []types.TradeItem
	lastItemsAt time.Time

	debounce time.Duration
	cacheAge time.Duration
	limit    int

	fetch    fetchFunc
	dispatch dispatchFunc

	now    func() time.Time // test hook
	logger *slog.Logger
}

func newRefresher(debounceMs, cacheMs int64, limit int, fetch fetchFunc, dispatch dispatchFunc, logger *slog.Logger) *refresher {
	return &refresher{
		pending:  make(map[string]types.TriggerMeta),
		debounce: time.Duration(debounceMs) * time.Millisecond,
		cacheAge: time.Duration(cacheMs) * time.Millisecond,
		limit:    limit,
		fetch:    fetch,
		dispatch: dispatch,
		now:      time.Now,
		logger:   logger.With("component", "refresh"),
	}
}

// Request registers a refresh trigger for one asset. The first trigger for
// an asset keeps its metadata; later triggers for the same asset within
// one debounce window are redundant and dropped.
func (r *refresher) Request(ctx context.Context, assetID string, meta types.TriggerMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[assetID]; !ok {
		r.pending[assetID] = meta
	}
	r.armLocked(ctx)
}

// armLocked arms the one-shot timer unless it is already armed. The delay
// honors the debounce horizon relative to the last fetch start.
func (r *refresher) armLocked(ctx context.Context) {
	if r.timerArmed {
		return
	}
	delay := r.debounce - r.now().Sub(r.lastFetchAt)
	if delay < 0 {
		delay = 0
	}
	r.timerArmed = true
	r.timer = time.AfterFunc(delay, func() { r.timerFire(ctx) })
}

func (r *refresher) timerFire(ctx context.Context) {
	r.mu.Lock()
	r.timerArmed = false
	if r.inFlight || ctx.Err() != nil {
		// fetchEnd rearms if pending refilled during the run.
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	r.mu.Unlock()

	r.run(ctx)
}

// run executes one activity refresh: snapshot-and-clear the pending set,
// obtain a payload (cached or fresh), dispatch focused unseen items, and
// re-arm if new triggers arrived during the pull.
func (r *refresher) run(ctx context.Context) {
	r.mu.Lock()
	focus := r.pending
	r.pending = make(map[string]types.TriggerMeta)
	r.lastFetchAt = r.now()
	reuse := r.lastItems != nil && r.now().Sub(r.lastItemsAt) <= r.cacheAge
	items := r.lastItems
	r.mu.Unlock()

	if !reuse {
		fetched, err := r.fetch(ctx, r.limit)
		if err != nil {
			r.logger.Warn("activity refresh failed", "error", err)
			r.finish(ctx)
			return
		}
		items = fetched
		r.mu.Lock()
		r.lastItems = fetched
		r.lastItemsAt = r.now()
		r.mu.Unlock()
	}

	nowMs := r.now().UnixMilli()

	// Feed is newest-first; replay oldest-first so dispatch order follows
	// the source's execution order.
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if len(focus) > 0 {
			if _, ok := focus[item.Asset]; !ok {
				continue
			}
		}
		meta, ok := focus[item.Asset]
		if !ok || meta.RecvTs == 0 {
			meta = types.TriggerMeta{EventTs: item.TimestampMs(), RecvTs: nowMs}
		}
		r.dispatch(item, "ws", meta)
	}

	r.finish(ctx)
}

// finish is the fetchEnd transition: clear the in-flight sentinel and
// schedule exactly one follow-up pull if triggers arrived during the run.
func (r *refresher) finish(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	if len(r.pending) > 0 && ctx.Err() == nil {
		r.armLocked(ctx)
	}
}

// stop cancels a pending timer.
func (r *refresher) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timerArmed = false
}
