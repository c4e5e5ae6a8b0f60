// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the copy trader — source
// activity items, top-of-book snapshots, WebSocket event payloads, and
// latency samples. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Side represents the direction of a trade: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == BUY || s == SELL }

// ————————————————————————————————————————————————————————————————————————
// Defensive JSON numerics
// ————————————————————————————————————————————————————————————————————————
// The Data API serializes numbers inconsistently: price and size arrive as
// JSON numbers on some deployments and as quoted strings on others, and
// optional fields may be null or absent entirely. FlexFloat and FlexInt
// absorb all of those shapes instead of failing the whole decode.

// FlexFloat is a float64 that unmarshals from a JSON number, a quoted
// numeric string, or null (zero value). Malformed numerics decode to zero;
// the trade processor rejects zero-valued required fields instead of the
// decoder crashing the pipeline.
type FlexFloat float64

var _ json.Unmarshaler = (*FlexFloat)(nil)

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexFloat(v)
	return nil
}

// FlexInt is an int64 with the same tolerance as FlexFloat.
type FlexInt int64

var _ json.Unmarshaler = (*FlexInt)(nil)

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(v)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Source activity
// ————————————————————————————————————————————————————————————————————————

// TradeItem is one entry from the source trader's activity feed
// (GET /activity with type=TRADE).
type TradeItem struct {
	TransactionHash string    `json:"transactionHash"`
	Asset           string    `json:"asset"` // CLOB token ID
	Side            string    `json:"side"`
	Timestamp       FlexInt   `json:"timestamp"` // seconds or milliseconds since epoch
	Price           FlexFloat `json:"price"`     // probability in [0, 1]
	Size            FlexFloat `json:"size"`      // shares
	UsdcSize        FlexFloat `json:"usdcSize"`  // notional, optional
}

// Key returns the identity tuple used for deduplication. Two feed entries
// with the same key are the same trade regardless of which channel
// (bootstrap, reconcile, WS-triggered refresh) delivered them.
func (t TradeItem) Key() string {
	return strings.Join([]string{
		t.TransactionHash,
		t.Asset,
		t.Side,
		strconv.FormatInt(int64(t.Timestamp), 10),
		strconv.FormatFloat(float64(t.Price), 'f', -1, 64),
		strconv.FormatFloat(float64(t.Size), 'f', -1, 64),
	}, "|")
}

// TimestampMs normalizes the feed timestamp to milliseconds. The Data API
// has served both second and millisecond precision; anything below 1e10 is
// treated as seconds.
func (t TradeItem) TimestampMs() int64 {
	return normalizeMs(int64(t.Timestamp))
}

func normalizeMs(ts int64) int64 {
	if ts == 0 {
		return 0
	}
	if ts < 10_000_000_000 {
		return ts * 1000
	}
	return ts
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Price and Size are strings
// because the CLOB API returns them as strings to preserve precision.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookSnapshot is the cached top of book for one asset. BestBid/BestAsk
// are nil when that side of the book is empty; Spread is nil when either
// side is absent.
type BookSnapshot struct {
	AssetID     string
	BestBid     *float64
	BestAsk     *float64
	Spread      *float64
	UpdatedAtMs int64
}

// Fresh reports whether the snapshot is within ttlMs of nowMs.
func (b BookSnapshot) Fresh(nowMs, ttlMs int64) bool {
	return b.UpdatedAtMs > 0 && nowMs-b.UpdatedAtMs <= ttlMs
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————

// WSSubscribeMsg is the subscription frame for the market channel. The
// same frame is re-sent with the full tracked set whenever it grows.
type WSSubscribeMsg struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"` // always "MARKET"
}

// WSBookEvent is a full order book snapshot from the market channel.
// The current gateway sends bids/asks; older frames used buys/sells,
// so both shapes are accepted.
type WSBookEvent struct {
	EventType string       `json:"event_type"` // always "book"
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Buys      []PriceLevel `json:"buys"`
	Sells     []PriceLevel `json:"sells"`
}

// BidLevels returns the bid side regardless of which field name the
// server used.
func (e WSBookEvent) BidLevels() []PriceLevel {
	if len(e.Bids) > 0 {
		return e.Bids
	}
	return e.Buys
}

// AskLevels returns the ask side regardless of field name.
func (e WSBookEvent) AskLevels() []PriceLevel {
	if len(e.Asks) > 0 {
		return e.Asks
	}
	return e.Sells
}

// WSTradePriceEvent is a last_trade_price notification from the market
// channel. The server's canonical timestamp field is unclear — frames have
// been observed carrying timestamp, ts, created_at, and createdAt — so all
// four are decoded and the first non-empty one wins.
type WSTradePriceEvent struct {
	EventType string    `json:"event_type"` // always "last_trade_price"
	AssetID   string    `json:"asset_id"`
	Price     FlexFloat `json:"price"`
	Timestamp FlexInt   `json:"timestamp"`
	Ts        FlexInt   `json:"ts"`
	CreatedAt FlexInt   `json:"created_at"`
	Created   FlexInt   `json:"createdAt"`
}

// EventTimestampMs returns the event timestamp in milliseconds, or 0 if no
// candidate field was present.
func (e WSTradePriceEvent) EventTimestampMs() int64 {
	for _, ts := range []int64{int64(e.Timestamp), int64(e.Ts), int64(e.CreatedAt), int64(e.Created)} {
		if ts != 0 {
			return normalizeMs(ts)
		}
	}
	return 0
}

// ————————————————————————————————————————————————————————————————————————
// Latency telemetry
// ————————————————————————————————————————————————————————————————————————

// TriggerMeta attributes a refresh trigger to the WS event that caused it.
// EventTs is the exchange-side timestamp of the last_trade_price event;
// RecvTs is the local clock at message receipt. Both in milliseconds.
type TriggerMeta struct {
	EventTs int64
	RecvTs  int64
}

// LatencySample records per-stage timestamps for one processed trade,
// plus the derived stage durations. All timestamps are unix milliseconds.
type LatencySample struct {
	Reason string
	Side   Side

	EventTs    int64
	RecvTs     int64
	DecisionTs int64
	SubmitTs   int64
	AckTs      int64

	IngestMs   int64 // recv - event (0 if event unknown)
	DecisionMs int64 // decision - recv
	SubmitMs   int64 // submit - decision
	AckMs      int64 // ack - submit
	TotalMs    int64 // ack - event (ack - recv if event unknown)
}

// Finalize computes the derived durations from the raw timestamps.
func (s *LatencySample) Finalize() {
	if s.EventTs > 0 {
		s.IngestMs = s.RecvTs - s.EventTs
		s.TotalMs = s.AckTs - s.EventTs
	} else {
		s.TotalMs = s.AckTs - s.RecvTs
	}
	s.DecisionMs = s.DecisionTs - s.RecvTs
	s.SubmitMs = s.SubmitTs - s.DecisionTs
	s.AckMs = s.AckTs - s.SubmitTs
}

// MirrorOrder is the priced and sized order the processor hands to the
// execution adapter.
type MirrorOrder struct {
	TokenID  string
	Side     Side
	Price    float64 // rounded to tick (0.01)
	Shares   float64
	SrcPrice float64
	SrcUsdc  float64
	CopyUsdc float64
}

// Truncate shortens a token ID for log lines.
func Truncate(tokenID string) string {
	if len(tokenID) <= 14 {
		return tokenID
	}
	return tokenID[:14] + ".."
}
