package probe

import (
	"sort"

	"github.com/mmr-tortoise/udp-portcheck/internal/model"
)

// failure is a single failed port as pushed by a probe task.
type failure struct {
	port   uint16
	reason model.FailureReason
}

// Aggregator collects failed ports from concurrent probe tasks.
//
// Tasks push into a channel buffered to the number of ports in the run, so
// Add never blocks as long as each port is added at most once. The owner
// calls Drain exactly once, after every task has returned.
type Aggregator struct {
	ch chan failure
}

// NewAggregator creates an aggregator able to hold capacity failures
// without blocking.
func NewAggregator(capacity int) *Aggregator {
	return &Aggregator{ch: make(chan failure, capacity)}
}

// Add records a failed port. Safe for concurrent use until Drain is called.
func (a *Aggregator) Add(port uint16, reason model.FailureReason) {
	a.ch <- failure{port: port, reason: reason}
}

// Drain closes the aggregator and returns the failed ports in ascending
// order together with per-reason counts. A port added more than once is
// reported once, under the reason it was first added with.
func (a *Aggregator) Drain() ([]uint16, map[model.FailureReason]int) {
	close(a.ch)

	seen := make(map[uint16]struct{}, len(a.ch))
	failed := make([]uint16, 0, len(a.ch))
	reasons := make(map[model.FailureReason]int)

	for f := range a.ch {
		if _, dup := seen[f.port]; dup {
			continue
		}
		seen[f.port] = struct{}{}
		failed = append(failed, f.port)
		reasons[f.reason]++
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return failed, reasons
}
