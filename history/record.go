package history

import (
	"time"

	"github.com/perfgo/perfshard/model"
)

// Record is the persisted form of a unit's results. Output holds one entry
// per attempt, oldest first, across every run merged into the record.
type Record struct {
	// Unit name
	Name string `json:"name"`
	// Captured output of every attempt, oldest first
	Output []string `json:"output"`
	// Reported exit code (0 for known flaky units)
	ExitCode int `json:"exit_code"`
	// Exit code of the most recent attempt
	ActualExitCode int `json:"actual_exit_code"`
	// Reported result of the most recent run
	ResultType model.Outcome `json:"result_type"`
	// Start of the earliest attempt
	StartTime time.Time `json:"start_time"`
	// End of the most recent attempt
	EndTime time.Time `json:"end_time"`
	// Seconds spent across all attempts
	TotalTime float64 `json:"total_time"`
	// Resource the most recent run used
	ResourceIdentity string `json:"resource_identity"`
	// Rendered command of the most recent attempt
	Cmd string `json:"cmd"`
	// Archived scratch output directory (tar.gz, base64 in JSON)
	ArchiveBytes []byte `json:"archive_bytes,omitempty"`
	// Attempt metadata, oldest first
	Attempts []*model.Attempt `json:"attempts,omitempty"`
	// Whether the reported result was forced by the known flaky list
	KnownFlaky bool `json:"known_flaky,omitempty"`
	// Whether the most recent run used every allowed attempt
	Exhausted bool `json:"exhausted,omitempty"`
	// Number of runs merged into this record
	Runs int `json:"runs"`
}

// FromResult converts a run's result into its persisted form.
func FromResult(r *model.ResultRecord) *Record {
	return &Record{
		Name:             r.Name,
		Output:           r.Output(),
		ExitCode:         r.ExitCode,
		ActualExitCode:   r.ActualExitCode,
		ResultType:       r.ResultType,
		StartTime:        r.Start,
		EndTime:          r.End,
		TotalTime:        r.TotalTime().Seconds(),
		ResourceIdentity: r.Resource,
		Cmd:              r.Command,
		ArchiveBytes:     r.Archive,
		Attempts:         r.Attempts,
		KnownFlaky:       r.KnownFlaky,
		Exhausted:        r.Exhausted,
		Runs:             1,
	}
}

// Merge appends next after prior. Outputs and attempts are concatenated in
// that order so that nothing recorded earlier is lost; the scalar fields
// describe the most recent run.
func Merge(prior, next *Record) *Record {
	merged := *next

	merged.Output = make([]string, 0, len(prior.Output)+len(next.Output))
	merged.Output = append(merged.Output, prior.Output...)
	merged.Output = append(merged.Output, next.Output...)

	merged.Attempts = make([]*model.Attempt, 0, len(prior.Attempts)+len(next.Attempts))
	merged.Attempts = append(merged.Attempts, prior.Attempts...)
	merged.Attempts = append(merged.Attempts, next.Attempts...)

	if !prior.StartTime.IsZero() && (next.StartTime.IsZero() || prior.StartTime.Before(next.StartTime)) {
		merged.StartTime = prior.StartTime
	}
	merged.TotalTime = prior.TotalTime + next.TotalTime
	if len(next.ArchiveBytes) == 0 {
		merged.ArchiveBytes = prior.ArchiveBytes
	}
	merged.Runs = prior.Runs + next.Runs

	return &merged
}

// Passed reports whether the most recent run passed.
func (r *Record) Passed() bool {
	return r.ResultType.Passing()
}

// Duration returns the total time as a duration.
func (r *Record) Duration() time.Duration {
	return time.Duration(r.TotalTime * float64(time.Second))
}
