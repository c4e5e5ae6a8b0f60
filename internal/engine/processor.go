// processor.go evaluates one source trade and, when it survives every
// gate, dispatches the mirror order.
//
// Each step that fails is a silent reject — the trade is dropped with a
// debug log and a metrics tick, never an error. The pipeline is:
// validate → price band → lag → top-of-book + spread → price/size →
// dispatch (paper print or live placement) → latency sample.
package engine

import (
	"strings"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/strategy"
	"polymarket-copytrader/pkg/types"
)

// processTrade runs the full filter/price/dispatch pipeline for one trade.
// Called on its own goroutine under the parallelism semaphore.
func (e *Engine) processTrade(item types.TradeItem, reason string, meta types.TriggerMeta) {
	recvTs := meta.RecvTs
	if recvTs == 0 {
		recvTs = e.now().UnixMilli()
	}

	item.Side = strings.ToUpper(item.Side)
	side := types.Side(item.Side)

	if rej := e.guard.CheckTrade(side, item.Asset, float64(item.Price)); rej != risk.RejectNone {
		e.reject(item, reason, string(rej))
		return
	}

	lagMs, rej := e.guard.CheckLag(meta.EventTs, recvTs)
	if rej != risk.RejectNone {
		e.reject(item, reason, string(rej))
		return
	}

	book := e.books.TopOfBook(e.ctx, item.Asset)
	if rej := e.guard.CheckSpread(book); rej != risk.RejectNone {
		e.reject(item, reason, string(rej))
		return
	}

	order, srej := e.sizer.Build(item, book)
	if srej != strategy.RejectNone {
		e.reject(item, reason, string(srej))
		return
	}

	sample := types.LatencySample{
		Reason:     reason,
		Side:       side,
		EventTs:    meta.EventTs,
		RecvTs:     recvTs,
		DecisionTs: e.now().UnixMilli(),
	}

	spread := 0.0
	if book.Spread != nil {
		spread = *book.Spread
	}

	placed := true
	if e.cfg.Mode == config.ModePaper {
		sample.SubmitTs = sample.DecisionTs
		sample.AckTs = e.now().UnixMilli()
		sample.Finalize()
		e.logger.Info("[PAPER COPY]",
			"reason", reason,
			"side", order.Side,
			"token", types.Truncate(order.TokenID),
			"px", order.Price,
			"srcPx", order.SrcPrice,
			"srcUsdc", order.SrcUsdc,
			"copyUsdc", order.CopyUsdc,
			"shares", order.Shares,
			"lagMs", lagMs,
			"spread", spread,
			"totalMs", sample.TotalMs,
		)
	} else {
		sample.SubmitTs = e.now().UnixMilli()
		res := e.exec.PlaceOrder(e.ctx, order)
		sample.AckTs = e.now().UnixMilli()
		sample.Finalize()
		if res.Success {
			e.logger.Info("[LIVE COPY]",
				"reason", reason,
				"side", order.Side,
				"token", types.Truncate(order.TokenID),
				"px", order.Price,
				"srcPx", order.SrcPrice,
				"srcUsdc", order.SrcUsdc,
				"copyUsdc", order.CopyUsdc,
				"shares", order.Shares,
				"lagMs", lagMs,
				"spread", spread,
				"ackMs", sample.AckMs,
				"totalMs", sample.TotalMs,
				"msg", res.Message,
			)
		} else {
			placed = false
			e.metrics.ObserveExecFailure()
			e.logger.Error("[LIVE FAIL]",
				"reason", reason,
				"side", order.Side,
				"token", types.Truncate(order.TokenID),
				"px", order.Price,
				"shares", order.Shares,
				"error", res.Message,
			)
		}
	}

	// Failed placements count as exec failures, not dispatched trades.
	if placed {
		e.metrics.ObserveDispatch(reason, side, sample)
	}
	n := e.recorder.Record(sample)
	if e.cfg.StatsEvery > 0 && n%int64(e.cfg.StatsEvery) == 0 {
		e.recorder.LogSummary(e.logger)
	}
}

// reject drops a trade without error. The gate name feeds metrics and the
// debug log.
func (e *Engine) reject(item types.TradeItem, reason, gate string) {
	e.metrics.ObserveReject(gate)
	e.logger.Debug("trade rejected",
		"gate", gate,
		"reason", reason,
		"side", item.Side,
		"token", types.Truncate(item.Asset),
		"srcPx", float64(item.Price),
	)
}
