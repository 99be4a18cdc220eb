package model

import "time"

// Attempt is one concrete execution try of a unit on a resource.
type Attempt struct {
	// Unit name
	Unit string `json:"unit"`
	// Identity of the resource the attempt ran on
	Resource string `json:"resource"`
	// Rendered command
	Command string `json:"cmd"`
	// Start of the attempt
	Start time.Time `json:"start_time"`
	// End of the attempt
	End time.Time `json:"end_time"`
	// Exit code returned by the command (-1 when none was observed)
	ExitCode int `json:"exit_code"`
	// Captured and normalised output
	Output string `json:"-"`
	// Classification of this attempt
	Outcome Outcome `json:"result_type"`
	// Packed scratch output directory of a passing attempt
	Archive []byte `json:"-"`
}

// Duration returns the wall-clock time spent on the attempt.
func (a *Attempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// ResultRecord is the result of one unit in one run. Attempts are ordered
// oldest first.
type ResultRecord struct {
	// Unit name
	Name string
	// Rendered command of the last attempt
	Command string
	// Attempts made, oldest first
	Attempts []*Attempt
	// Final raw outcome (Pass, Fail, Timeout or Incomplete)
	Outcome Outcome
	// Reported result after flaky classification
	ResultType Outcome
	// Reported exit code
	ExitCode int
	// Exit code of the last attempt
	ActualExitCode int
	// Identity of the resource the unit ran on
	Resource string
	// Start of the first attempt and end of the last one
	Start time.Time
	End   time.Time
	// Archived scratch output directory (tar.gz)
	Archive []byte
	// KnownFlaky is set when the reported result was forced by the known
	// flaky list
	KnownFlaky bool
	// Exhausted is set when every allowed attempt was used without a pass
	Exhausted bool
	// Message is a scheduler note appended after the attempt outputs, such
	// as the reason a unit is incomplete
	Message string
}

// Output returns every captured output entry, oldest first.
func (r *ResultRecord) Output() []string {
	out := make([]string, 0, len(r.Attempts)+1)
	for _, a := range r.Attempts {
		out = append(out, a.Output)
	}
	if r.Message != "" {
		out = append(out, r.Message)
	}
	return out
}

// TotalTime returns the time spent across all attempts.
func (r *ResultRecord) TotalTime() time.Duration {
	var total time.Duration
	for _, a := range r.Attempts {
		total += a.Duration()
	}
	return total
}

// LastAttempt returns the most recent attempt, or nil.
func (r *ResultRecord) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}
	return r.Attempts[len(r.Attempts)-1]
}

// NewIncompleteRecord builds the marker record for a unit that never
// reached a terminal outcome.
func NewIncompleteRecord(u *TestUnit, resource string, at time.Time, reason string) *ResultRecord {
	return &ResultRecord{
		Name:           u.Name,
		Command:        u.Command,
		Message:        reason,
		Outcome:        OutcomeIncomplete,
		ResultType:     OutcomeIncomplete,
		ExitCode:       -1,
		ActualExitCode: -1,
		Resource:       resource,
		Start:          at,
		End:            at,
	}
}
