// ws.go implements the market WebSocket feed.
//
// The feed subscribes to the market channel with the current tracked asset
// set and handles two event types:
//
//   - "book": full top-of-book snapshot for one asset. Forwarded to the
//     book cache; never triggers replication by itself.
//
//   - "last_trade_price": the source market printed a trade. If the asset
//     is tracked and its per-asset cooldown has elapsed, a refresh trigger
//     is emitted carrying the event timestamp and the local receive time
//     so downstream latency can be attributed per trigger.
//
// On disconnect the feed reconnects after a fixed 3 seconds unless it was
// stopped. Re-subscription always sends the full tracked set. A read
// deadline detects silent server failures within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-copytrader/pkg/types"
)

const (
	reconnectWait  = 3 * time.Second
	pingInterval   = 50 * time.Second // how often we send PING to keep alive
	readTimeout    = 90 * time.Second // ~2 missed pings triggers reconnect
	writeTimeout   = 10 * time.Second
	bookBufferSize = 256
	triggerBufSize = 256
)

// RefreshTrigger asks the engine to pull the activity feed for one asset.
type RefreshTrigger struct {
	AssetID string
	Meta    types.TriggerMeta
}

// MarketFeed manages the market-channel WebSocket connection: lifecycle,
// subscription tracking, message routing, and reconnection.
type MarketFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	stopped atomic.Bool

	// Tracked asset IDs; the full set is re-sent on every (re)subscribe.
	assetsMu sync.Mutex
	assets   map[string]bool

	// Per-asset trigger cooldown.
	cooldownMs  int64
	triggerMu   sync.Mutex
	lastTrigger map[string]int64 // assetID → last trigger unix ms

	bookCh    chan types.WSBookEvent
	triggerCh chan RefreshTrigger

	now    func() time.Time // test hook
	logger *slog.Logger
}

// NewMarketFeed creates a feed for the market channel.
func NewMarketFeed(wsURL string, cooldownMs int64, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:         wsURL,
		assets:      make(map[string]bool),
		cooldownMs:  cooldownMs,
		lastTrigger: make(map[string]int64),
		bookCh:      make(chan types.WSBookEvent, bookBufferSize),
		triggerCh:   make(chan RefreshTrigger, triggerBufSize),
		now:         time.Now,
		logger:      logger.With("component", "ws_market"),
	}
}

// BookEvents returns a read-only channel of book snapshot events.
func (f *MarketFeed) BookEvents() <-chan types.WSBookEvent { return f.bookCh }

// Triggers returns a read-only channel of refresh triggers.
func (f *MarketFeed) Triggers() <-chan RefreshTrigger { return f.triggerCh }

// Run connects and maintains the connection, reconnecting after a fixed
// 3 seconds on failure. Blocks until ctx is cancelled or Stop is called.
func (f *MarketFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.stopped.Load() {
			return nil
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "wait", reconnectWait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

// SetAssets replaces the tracked set and, if connected, re-subscribes with
// the full set. The engine only ever grows the set.
func (f *MarketFeed) SetAssets(ids []string) error {
	f.assetsMu.Lock()
	for _, id := range ids {
		f.assets[id] = true
	}
	all := make([]string, 0, len(f.assets))
	for id := range f.assets {
		all = append(all, id)
	}
	f.assetsMu.Unlock()

	if len(all) == 0 {
		return nil
	}
	return f.writeJSON(types.WSSubscribeMsg{AssetIDs: all, Type: "MARKET"})
}

// Tracked reports whether an asset is in the subscription set.
func (f *MarketFeed) Tracked(assetID string) bool {
	f.assetsMu.Lock()
	defer f.assetsMu.Unlock()
	return f.assets[assetID]
}

// Stop closes the connection and suppresses reconnection.
func (f *MarketFeed) Stop() error {
	f.stopped.Store(true)
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Subscribe with the current set; an empty set stays idle until the
	// reconcile loop discovers the first asset.
	f.assetsMu.Lock()
	ids := make([]string, 0, len(f.assets))
	for id := range f.assets {
		ids = append(ids, id)
	}
	f.assetsMu.Unlock()
	if len(ids) > 0 {
		if err := f.writeJSON(types.WSSubscribeMsg{AssetIDs: ids, Type: "MARKET"}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("websocket connected", "assets", len(ids))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *MarketFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route. Malformed frames are dropped silently.
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Debug("dropping malformed book event", "error", err)
			return
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "asset", evt.AssetID)
		}

	case "last_trade_price":
		var evt types.WSTradePriceEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Debug("dropping malformed trade price event", "error", err)
			return
		}
		f.handleTradePrice(evt)

	default:
		f.logger.Debug("ignoring ws event", "type", envelope.EventType)
	}
}

// handleTradePrice turns a last_trade_price event into a refresh trigger,
// subject to the asset being tracked and its cooldown having elapsed.
func (f *MarketFeed) handleTradePrice(evt types.WSTradePriceEvent) {
	if evt.AssetID == "" || !f.Tracked(evt.AssetID) {
		return
	}

	recvMs := f.now().UnixMilli()

	f.triggerMu.Lock()
	if last, ok := f.lastTrigger[evt.AssetID]; ok && recvMs-last < f.cooldownMs {
		f.triggerMu.Unlock()
		return
	}
	f.lastTrigger[evt.AssetID] = recvMs
	f.triggerMu.Unlock()

	trig := RefreshTrigger{
		AssetID: evt.AssetID,
		Meta: types.TriggerMeta{
			EventTs: evt.EventTimestampMs(),
			RecvTs:  recvMs,
		},
	}
	select {
	case f.triggerCh <- trig:
	default:
		f.logger.Warn("trigger channel full, dropping trigger", "asset", evt.AssetID)
	}
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
