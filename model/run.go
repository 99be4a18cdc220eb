package model

import "time"

// Run is the manifest written next to the per-unit records of one
// invocation.
type Run struct {
	// Unique ID for this run (UUID)
	ID string `json:"id"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Wall-clock duration of the run
	Duration time.Duration `json:"duration"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Git information of the working directory, if any
	Git *Git `json:"git,omitempty"`
	// Resources that received a shard
	Resources []string `json:"resources,omitempty"`
	// Result counts
	Counts Counts `json:"counts"`
	// Whether every unit passed
	Passed bool `json:"passed"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// Counts mirrors the tallies of a RunSummary.
type Counts struct {
	Pass       int `json:"pass"`
	Flaky      int `json:"flaky"`
	Fail       int `json:"fail"`
	Timeout    int `json:"timeout"`
	Incomplete int `json:"incomplete"`
	Exhausted  int `json:"exhausted"`
}

// Counts returns the summary tallies in manifest form.
func (s *RunSummary) Counts() Counts {
	return Counts{
		Pass:       s.Pass,
		Flaky:      s.Flaky,
		Fail:       s.Fail,
		Timeout:    s.Timeout,
		Incomplete: s.Incomplete,
		Exhausted:  s.Exhausted,
	}
}
