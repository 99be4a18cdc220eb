// Package scheduler distributes test units across resources: the unit
// executor, the retry controller, the shard runners and the orchestrator
// that joins them.
package scheduler

import (
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/metrics"
	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/perf"
	"github.com/perfgo/perfshard/resource"
)

const (
	// DefaultMaxRetries is the number of attempts a unit gets.
	DefaultMaxRetries = 3
	// DefaultTimeout applies to units that set no timeout.
	DefaultTimeout = 30 * time.Minute
)

// Store persists final unit records. Distinct units may be saved
// concurrently.
type Store interface {
	Save(record *model.ResultRecord) error
}

// RunContext carries everything a run shares between its components.
// It replaces process-wide state: each invocation builds its own.
type RunContext struct {
	RunID  string
	Logger zerolog.Logger
	Clock  clock.Clock

	// Store receives every final record. Nil disables persistence.
	Store Store
	// Blacklist excludes resources before partitioning and collects the
	// ones blacklisted during the run.
	Blacklist *resource.Blacklist
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Budget may be nil, meaning the run never stops early.
	Budget *Budget

	// Flaky names units whose failures are reported as FLAKY.
	Flaky map[string]bool
	// MaxRetries is the maximum number of attempts per unit.
	MaxRetries int
	// RetryDelay is waited between attempts.
	RetryDelay time.Duration
	// DefaultTimeout applies to units without their own timeout.
	DefaultTimeout time.Duration
	// Deadline bounds the whole run; zero means no deadline.
	Deadline time.Duration
	// Perf wraps commands in perf stat when enabled.
	Perf perf.StatOptions
}

// withDefaults fills unset fields.
func (rc *RunContext) withDefaults() *RunContext {
	out := *rc
	if out.Clock == nil {
		out.Clock = clock.NewClock()
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.DefaultTimeout <= 0 {
		out.DefaultTimeout = DefaultTimeout
	}
	if out.Blacklist == nil {
		out.Blacklist, _ = resource.LoadBlacklist("")
	}
	return &out
}

// timeoutFor returns the per-attempt timeout of u.
func (rc *RunContext) timeoutFor(u *model.TestUnit) time.Duration {
	if u.Timeout > 0 {
		return u.Timeout
	}
	return rc.DefaultTimeout
}
