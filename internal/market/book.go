// Package market maintains the per-asset top-of-book cache.
//
// The cache is fed by WebSocket "book" snapshots and, when enabled, by
// lazy one-shot HTTP probes. TopOfBook is the resolver the trade processor
// uses: a fresh cached entry is returned as-is; a stale or missing entry
// triggers an HTTP probe when the fallback is enabled; when the probe
// fails (or the fallback is disabled) the stale entry — or a null-filled
// snapshot — is returned so the processor can reject rather than crash.
package market

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"polymarket-copytrader/pkg/types"
)

// Prober is the one-shot HTTP book fetch the cache falls back to.
// Satisfied by exchange.Client.
type Prober interface {
	FetchBook(ctx context.Context, tokenID string) (bids, asks []types.PriceLevel, err error)
}

// Cache stores one BookSnapshot per asset.
type Cache struct {
	mu    sync.RWMutex
	books map[string]types.BookSnapshot

	prober       Prober
	httpFallback bool
	ttlMs        int64

	now    func() time.Time // test hook
	logger *slog.Logger
}

// NewCache creates a book cache. prober may be nil when httpFallback is
// disabled.
func NewCache(prober Prober, httpFallback bool, ttlMs int64, logger *slog.Logger) *Cache {
	return &Cache{
		books:        make(map[string]types.BookSnapshot),
		prober:       prober,
		httpFallback: httpFallback,
		ttlMs:        ttlMs,
		now:          time.Now,
		logger:       logger.With("component", "books"),
	}
}

// Apply updates the snapshot for one asset from bid/ask levels (best at
// index 0). UpdatedAtMs is monotonic per asset: an update never moves the
// timestamp backwards.
func (c *Cache) Apply(assetID string, bids, asks []types.PriceLevel) {
	snap := buildSnapshot(assetID, bids, asks, c.now().UnixMilli())

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.books[assetID]; ok && prev.UpdatedAtMs > snap.UpdatedAtMs {
		snap.UpdatedAtMs = prev.UpdatedAtMs
	}
	c.books[assetID] = snap
}

// Get returns the cached snapshot without freshness checks or probes.
func (c *Cache) Get(assetID string) (types.BookSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.books[assetID]
	return snap, ok
}

// TopOfBook resolves the best available snapshot for an asset:
//
//  1. Fresh cached entry → returned unmodified.
//  2. Stale/missing + HTTP fallback enabled → one-shot probe; on success
//     the result is stored and returned.
//  3. Otherwise → stale entry if any, else a null-filled snapshot.
func (c *Cache) TopOfBook(ctx context.Context, assetID string) types.BookSnapshot {
	nowMs := c.now().UnixMilli()

	c.mu.RLock()
	cached, ok := c.books[assetID]
	c.mu.RUnlock()

	if ok && cached.Fresh(nowMs, c.ttlMs) {
		return cached
	}

	if c.httpFallback && c.prober != nil {
		bids, asks, err := c.prober.FetchBook(ctx, assetID)
		if err == nil {
			c.Apply(assetID, bids, asks)
			snap, _ := c.Get(assetID)
			return snap
		}
		c.logger.Warn("book probe failed, using cached entry", "asset", types.Truncate(assetID), "error", err)
	}

	if ok {
		return cached
	}
	return types.BookSnapshot{AssetID: assetID}
}

// buildSnapshot derives top-of-book values from raw levels. A missing or
// unparseable best level leaves that side nil, which the trade processor
// treats as a rejection for the corresponding order side.
func buildSnapshot(assetID string, bids, asks []types.PriceLevel, nowMs int64) types.BookSnapshot {
	snap := types.BookSnapshot{AssetID: assetID, UpdatedAtMs: nowMs}

	if len(bids) > 0 {
		if v, err := strconv.ParseFloat(bids[0].Price, 64); err == nil && v > 0 {
			snap.BestBid = &v
		}
	}
	if len(asks) > 0 {
		if v, err := strconv.ParseFloat(asks[0].Price, 64); err == nil && v > 0 {
			snap.BestAsk = &v
		}
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := *snap.BestAsk - *snap.BestBid
		snap.Spread = &spread
	}
	return snap
}
