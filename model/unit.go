package model

import "time"

// TestUnit is a single named test step with the command that runs it.
// Units are immutable once loaded from the configuration.
type TestUnit struct {
	// Name of the step, unique within a configuration
	Name string `json:"name"`
	// Command template, rendered with text/template before execution
	Command string `json:"cmd"`
	// Per-unit timeout; zero falls back to the run default
	Timeout time.Duration `json:"timeout,omitempty"`
	// Affinity binds the unit to a bucket index across runs (nil = none)
	Affinity *int `json:"device_affinity,omitempty"`
	// ArchiveOutput requests a scratch output directory that is archived
	// into the result record after a passing attempt
	ArchiveOutput bool `json:"archive_output_dir,omitempty"`
	// ExpectedExitCode is the exit code that counts as a pass
	ExpectedExitCode int `json:"expected_exit_code,omitempty"`
}

// HasAffinity reports whether the unit carries an explicit affinity key.
func (u *TestUnit) HasAffinity() bool {
	return u.Affinity != nil
}

// ShardAssignment pairs a resource identity with the units it will drain,
// in execution order. It is fixed at partition time.
type ShardAssignment struct {
	Resource string
	Units    []*TestUnit
}
