// Package transport holds the pieces shared by the device control-plane
// transports and the local worker: process-group aware command execution
// and exit-code extraction.
package transport

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Run waits for output pipes after the process
// group was killed.
const WaitDelay = 5 * time.Second

// Command creates a command that runs in its own process group. When ctx is
// done the whole group is killed, not just the direct child.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = WaitDelay
	return cmd
}

// Run executes cmd with stdout and stderr merged and returns the output and
// exit code. A non-zero exit is not an error. When ctx ended the command,
// ctx.Err() is returned along with whatever output was captured.
func Run(ctx context.Context, cmd *exec.Cmd) (string, int, error) {
	var out bytes.Buffer
	if cmd.Stdout == nil {
		cmd.Stdout = &out
	}
	if cmd.Stderr == nil {
		cmd.Stderr = &out
	}

	err := cmd.Run()
	if ctx.Err() != nil {
		return out.String(), -1, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode(), nil
		}
		return out.String(), -1, err
	}
	return out.String(), 0, nil
}
