// Package resource defines the execution resources test units run on:
// remote devices behind a control-plane transport and local subprocess
// workers, both behind the Resource interface.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/perfgo/perfshard/model"
)

// DefaultMaxRecoveryFailures is the number of consecutive failed
// recoveries after which a resource is blacklisted.
const DefaultMaxRecoveryFailures = 3

// Resource is an execution context that runs one command at a time.
type Resource interface {
	// Identity returns a stable name such as "ssh:host" or "local:0".
	Identity() string
	// Execute runs command within timeout. A command that overruns returns
	// *model.ExecutionTimeoutError after its process group was killed. A
	// non-zero exit is reported through Execution, not as an error.
	Execute(ctx context.Context, command string, timeout time.Duration) (*Execution, error)
	// IsHealthy probes the resource and updates its state.
	IsHealthy(ctx context.Context) bool
	// Recover makes a best-effort attempt to return the resource to health.
	// Failures are *model.RecoveryFailedError.
	Recover(ctx context.Context) error
	// State returns the current health state.
	State() State
	// Blacklist excludes the resource for the rest of the run.
	Blacklist()
}

// Execution is the raw result of one command.
type Execution struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// Workspace is implemented by resources that can provide scratch output
// directories for units that archive their output.
type Workspace interface {
	MakeScratchDir(ctx context.Context, name string) (string, error)
	// ArchiveDir packs dir into a gzipped tarball.
	ArchiveDir(ctx context.Context, dir string) ([]byte, error)
	RemoveDir(ctx context.Context, dir string) error
}

// State is the health state of a resource.
type State int

const (
	StateOnline State = iota
	StateOffline
	StateRecovering
	StateBlacklisted
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	case StateRecovering:
		return "recovering"
	case StateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// Health tracks the state machine shared by every resource variant.
// Blacklisted is sticky; every other state follows probes and recoveries.
type Health struct {
	mu       sync.Mutex
	state    State
	failures int

	// MaxRecoveryFailures overrides DefaultMaxRecoveryFailures when set.
	MaxRecoveryFailures int
}

// State returns the current health state.
func (h *Health) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState moves to s unless the resource is blacklisted.
func (h *Health) SetState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateBlacklisted {
		h.state = s
	}
}

// Blacklist excludes the resource for the rest of the run.
func (h *Health) Blacklist() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateBlacklisted
}

// Probed records the result of a health probe.
func (h *Health) Probed(healthy bool) bool {
	if healthy {
		h.SetState(StateOnline)
	} else {
		h.SetState(StateOffline)
	}
	return healthy && h.State() == StateOnline
}

// Recovered records the result of a recovery and converts a failure into
// *model.RecoveryFailedError. Too many consecutive failures blacklist the
// resource.
func (h *Health) Recovered(identity string, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures = 0
		if h.state != StateBlacklisted {
			h.state = StateOnline
		}
		return nil
	}

	h.failures++
	limit := h.MaxRecoveryFailures
	if limit <= 0 {
		limit = DefaultMaxRecoveryFailures
	}
	switch {
	case h.state == StateBlacklisted:
	case h.failures >= limit:
		h.state = StateBlacklisted
	default:
		h.state = StateOffline
	}
	return errors.WithStack(&model.RecoveryFailedError{Resource: identity, Err: err})
}

// beginRecovery moves to Recovering and reports whether recovery may run.
func (h *Health) beginRecovery(identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateBlacklisted {
		return errors.WithStack(&model.RecoveryFailedError{
			Resource: identity,
			Err:      errors.New("resource is blacklisted"),
		})
	}
	h.state = StateRecovering
	return nil
}

// timeoutError builds the error returned when an execution overran.
func timeoutError(timeout time.Duration) error {
	return errors.WithStack(&model.ExecutionTimeoutError{Timeout: timeout})
}
