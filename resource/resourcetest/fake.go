// Package resourcetest provides scripted resources for scheduler tests.
package resourcetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource"
)

// Step scripts one Execute call.
type Step struct {
	ExitCode int
	Output   string
	// Delay is how long the command runs. A delay beyond the timeout
	// produces a timeout.
	Delay time.Duration
	// Err is returned as a transport failure.
	Err error
	// Panic makes Execute panic with this value.
	Panic any
}

// Fake is a resource whose executions follow a script. Commands are looked
// up in Scripts first; the last step of a script repeats.
type Fake struct {
	resource.Health

	ID      string
	Scripts map[string][]Step
	// Default is used for commands without a script.
	Default Step
	// Unhealthy makes IsHealthy fail.
	Unhealthy bool
	// RecoverErr is returned by every Recover call.
	RecoverErr error

	mu         sync.Mutex
	calls      []string
	recoveries int
	active     int
	maxActive  int
	dirs       map[string]bool
	removed    []string
}

// New returns a healthy fake named id.
func New(id string) *Fake {
	return &Fake{ID: id, Scripts: map[string][]Step{}}
}

// Script sets the steps for command and returns f.
func (f *Fake) Script(command string, steps ...Step) *Fake {
	f.Scripts[command] = steps
	return f
}

func (f *Fake) Identity() string {
	return f.ID
}

func (f *Fake) Execute(ctx context.Context, command string, timeout time.Duration) (*resource.Execution, error) {
	f.mu.Lock()
	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	f.calls = append(f.calls, command)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	step := f.Default
	if steps, ok := f.Scripts[command]; ok && len(steps) > 0 {
		if n >= len(steps) {
			n = len(steps) - 1
		}
		step = steps[n]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if step.Panic != nil {
		panic(step.Panic)
	}

	delay := step.Delay
	timedOut := delay > timeout
	if timedOut {
		delay = timeout
	}
	start := time.Now()
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	exec := &resource.Execution{ExitCode: step.ExitCode, Output: step.Output, Duration: time.Since(start)}
	if timedOut {
		exec.ExitCode = -1
		return exec, &model.ExecutionTimeoutError{Timeout: timeout}
	}
	if step.Err != nil {
		exec.ExitCode = -1
		return exec, step.Err
	}
	return exec, nil
}

func (f *Fake) IsHealthy(ctx context.Context) bool {
	if f.State() == resource.StateBlacklisted {
		return false
	}
	return f.Probed(!f.Unhealthy)
}

func (f *Fake) Recover(ctx context.Context) error {
	f.mu.Lock()
	f.recoveries++
	f.mu.Unlock()
	return f.Recovered(f.ID, f.RecoverErr)
}

// Calls returns every command executed so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Recoveries returns how often Recover was called.
func (f *Fake) Recoveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recoveries
}

// MaxConcurrent returns the highest number of overlapping executions.
func (f *Fake) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *Fake) MakeScratchDir(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs == nil {
		f.dirs = map[string]bool{}
	}
	dir := fmt.Sprintf("/scratch/%s.%d", name, len(f.dirs))
	f.dirs[dir] = true
	return dir, nil
}

func (f *Fake) ArchiveDir(ctx context.Context, dir string) ([]byte, error) {
	return []byte("archive:" + dir), nil
}

func (f *Fake) RemoveDir(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, dir)
	f.removed = append(f.removed, dir)
	return nil
}

// LiveDirs returns the number of scratch directories not yet removed.
func (f *Fake) LiveDirs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dirs)
}
