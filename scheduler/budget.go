package scheduler

import (
	"fmt"
	"math"
	"sync"
)

// DefaultMinFailures is the number of failing units always tolerated,
// scaled by the attempts per unit, before a failure budget can stop a run.
const DefaultMinFailures = 2

// Budget decides when a run has failed badly enough that scheduling more
// units is pointless. It counts failed attempts across all shards. A nil
// *Budget never stops.
type Budget struct {
	minTolerated int
	maxTolerated int

	mu       sync.Mutex
	failures int
	stopped  bool
}

// NewBudget sizes a budget for expected units retried up to retries times
// each. ratio is the tolerated share of failed attempts; maxFailures, when
// positive, caps the tolerance. It returns nil when neither limit is set.
func NewBudget(expected, retries, minFailures int, ratio float64, maxFailures int) (*Budget, error) {
	if ratio == 0 && maxFailures <= 0 {
		return nil, nil
	}
	if ratio < 0 || ratio >= 1 {
		return nil, fmt.Errorf("failure ratio %.3f must be in [0, 1)", ratio)
	}
	if expected <= 0 || retries < 0 || minFailures < 0 {
		return nil, fmt.Errorf("invalid failure budget for %d units, %d retries", expected, retries)
	}

	attempts := retries + 1
	b := &Budget{
		minTolerated: minFailures * attempts,
		maxTolerated: math.MaxInt,
	}
	if ratio > 0 {
		b.maxTolerated = int(math.Round(float64(expected*attempts) * ratio))
	}
	if maxFailures > 0 {
		b.maxTolerated = min(b.maxTolerated, maxFailures)
		b.minTolerated = min(b.minTolerated, maxFailures)
	}
	return b, nil
}

// Observe records the outcome of one attempt.
func (b *Budget) Observe(passed bool) {
	if b == nil || passed {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
}

// Stop reports whether the budget is spent. Once it returns true it keeps
// doing so.
func (b *Budget) Stop() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return true
	}
	if b.failures <= b.minTolerated {
		return false
	}
	if b.failures >= b.maxTolerated {
		b.stopped = true
	}
	return b.stopped
}

func (b *Budget) String() string {
	if b == nil {
		return "unlimited"
	}
	return fmt.Sprintf("failures in [%d, %d]", b.minTolerated, b.maxTolerated)
}
