package probe

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// Admission is a counting gate that caps how many probes are in flight.
//
// It also tracks the number of currently admitted probes and the highest
// value that number has reached, which lets callers and tests observe the
// concurrency bound.
type Admission struct {
	sem    *semaphore.Weighted
	max    int
	active *atomic.Int64
	peak   *atomic.Int64
}

// Permit represents one occupied slot. Release is idempotent so a permit
// can be released from a defer without double-counting.
type Permit struct {
	admission *Admission
	once      sync.Once
}

// NewAdmission creates a gate with the given capacity. A capacity below 1
// can never admit anything and is rejected.
func NewAdmission(max int) (*Admission, error) {
	if max < 1 {
		return nil, fmt.Errorf("admission capacity must be >= 1, got %d", max)
	}
	return &Admission{
		sem:    semaphore.NewWeighted(int64(max)),
		max:    max,
		active: atomic.NewInt64(0),
		peak:   atomic.NewInt64(0),
	}, nil
}

// Acquire blocks until a slot is free or ctx is done. The returned error
// is ctx.Err() when the wait was abandoned.
func (a *Admission) Acquire(ctx context.Context) (*Permit, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	// Raise peak to n unless a concurrent Acquire already pushed it at
	// least that high. A plain Store could overwrite a larger value written
	// between our Load and Store, so retry the swap until either peak is
	// already >= n or our value wins.
	n := a.active.Inc()
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Permit{admission: a}, nil
}

// Release frees the slot held by the permit. Calls after the first are
// no-ops: semaphore.Weighted panics when released more than it holds, and
// a second Dec would let active drift below the real count.
func (p *Permit) Release() {
	p.once.Do(func() {
		p.admission.active.Dec()
		p.admission.sem.Release(1)
	})
}

// Capacity returns the configured maximum.
func (a *Admission) Capacity() int {
	return a.max
}

// Active returns the number of permits currently held.
func (a *Admission) Active() int {
	return int(a.active.Load())
}

// Peak returns the highest number of permits held at the same time.
func (a *Admission) Peak() int {
	return int(a.peak.Load())
}
