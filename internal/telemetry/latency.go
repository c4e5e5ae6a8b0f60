// Package telemetry collects per-trade latency samples and rolls them up
// into percentile summaries.
//
// Samples live in a fixed-capacity ring buffer (5,000 slots) so a long run
// never grows memory; the summary covers whatever the ring currently
// holds. A summary is emitted every statsEvery samples and once more at
// shutdown. Prometheus exposition lives in metrics.go.
package telemetry

import (
	"log/slog"
	"sort"
	"sync"

	"polymarket-copytrader/pkg/types"
)

const ringCapacity = 5000

// Recorder keeps the most recent latency samples.
type Recorder struct {
	mu      sync.Mutex
	samples [ringCapacity]types.LatencySample
	next    int   // next write slot
	filled  int   // number of valid slots, caps at ringCapacity
	total   int64 // samples recorded over the whole run
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores one sample and returns the run-total sample count.
func (r *Recorder) Record(s types.LatencySample) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = s
	r.next = (r.next + 1) % ringCapacity
	if r.filled < ringCapacity {
		r.filled++
	}
	r.total++
	return r.total
}

// Total returns the run-total sample count.
func (r *Recorder) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Stats is a percentile rollup over the ring contents.
type Stats struct {
	Count int

	TotalP50 int64
	TotalP90 int64
	TotalP99 int64

	DecisionP50 int64
	DecisionP90 int64

	SubmitP50 int64
	AckP50    int64
}

// Summary computes percentiles over the samples currently in the ring.
func (r *Recorder) Summary() Stats {
	r.mu.Lock()
	totals := make([]int64, 0, r.filled)
	decisions := make([]int64, 0, r.filled)
	submits := make([]int64, 0, r.filled)
	acks := make([]int64, 0, r.filled)
	for i := 0; i < r.filled; i++ {
		s := r.samples[i]
		totals = append(totals, s.TotalMs)
		decisions = append(decisions, s.DecisionMs)
		submits = append(submits, s.SubmitMs)
		acks = append(acks, s.AckMs)
	}
	r.mu.Unlock()

	return Stats{
		Count:       len(totals),
		TotalP50:    percentile(totals, 50),
		TotalP90:    percentile(totals, 90),
		TotalP99:    percentile(totals, 99),
		DecisionP50: percentile(decisions, 50),
		DecisionP90: percentile(decisions, 90),
		SubmitP50:   percentile(submits, 50),
		AckP50:      percentile(acks, 50),
	}
}

// LogSummary emits the rollup as one structured log line.
func (r *Recorder) LogSummary(logger *slog.Logger) {
	st := r.Summary()
	if st.Count == 0 {
		logger.Info("latency summary", "count", 0)
		return
	}
	logger.Info("latency summary",
		"count", st.Count,
		"total_p50_ms", st.TotalP50,
		"total_p90_ms", st.TotalP90,
		"total_p99_ms", st.TotalP99,
		"decision_p50_ms", st.DecisionP50,
		"decision_p90_ms", st.DecisionP90,
		"submit_p50_ms", st.SubmitP50,
		"ack_p50_ms", st.AckP50,
	)
}

// percentile returns the nearest-rank percentile of values. The slice is
// sorted in place.
func percentile(values []int64, p int) int64 {
	if len(values) == 0 {
		return 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	rank := (p*len(values) + 99) / 100 // ceil(p/100 * n)
	if rank < 1 {
		rank = 1
	}
	if rank > len(values) {
		rank = len(values)
	}
	return values[rank-1]
}
