package perf

// stat.go wraps unit commands with perf stat so that hardware counters
// end up next to the test output.

import (
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/urfave/cli/v2"
)

// StatOptions contains options for perf stat command.
type StatOptions struct {
	Events []string // Events to measure
	Detail bool     // Add detailed statistics (-d flag)
	// CSV switches to machine readable output with the given separator.
	CSV string
}

// Enabled reports whether any counter collection was requested.
func (o StatOptions) Enabled() bool {
	return len(o.Events) > 0 || o.Detail
}

// BuildStatArgs builds the perf stat arguments that wrap command.
func BuildStatArgs(opts StatOptions, command string) []string {
	args := []string{"stat"}

	if opts.Detail {
		args = append(args, "-d")
	}
	if opts.CSV != "" {
		args = append(args, "-x", opts.CSV)
	}
	for _, event := range opts.Events {
		if event = strings.TrimSpace(event); event != "" {
			args = append(args, "-e", event)
		}
	}

	return append(args, "--", "sh", "-c", command)
}

// Wrap returns command unchanged when no counters were requested, and the
// shell-escaped perf stat invocation running it otherwise.
func Wrap(opts StatOptions, command string) string {
	if !opts.Enabled() {
		return command
	}

	args := BuildStatArgs(opts, command)
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, "perf")
	for _, arg := range args {
		parts = append(parts, shellescape.Quote(arg))
	}

	return strings.Join(parts, " ")
}

// StatEventFlag returns the event flag for perf stat (multiple events).
func StatEventFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "perf-event",
		Usage: "Wrap every unit in perf stat measuring this event (can be specified multiple times)",
	}
}

// StatDetailFlag returns the detail flag for perf stat.
func StatDetailFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "perf-detail",
		Usage: "Wrap every unit in perf stat -d",
	}
}

// StatOptionsFromContext reads the perf stat flags.
func StatOptionsFromContext(c *cli.Context) StatOptions {
	return StatOptions{
		Events: c.StringSlice("perf-event"),
		Detail: c.Bool("perf-detail"),
	}
}
