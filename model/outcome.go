package model

// Outcome classifies an attempt or the final result of a unit.
type Outcome string

const (
	OutcomePass       Outcome = "PASS"
	OutcomeFail       Outcome = "FAIL"
	OutcomeTimeout    Outcome = "TIMEOUT"
	OutcomeFlaky      Outcome = "FLAKY"
	OutcomeIncomplete Outcome = "INCOMPLETE"
)

// Passing reports whether the outcome lets the run succeed. A flaky result
// is a pass that needed more than one attempt or was forced by the known
// flaky list.
func (o Outcome) Passing() bool {
	return o == OutcomePass || o == OutcomeFlaky
}

// Symbol returns the one-character marker used in listings.
func (o Outcome) Symbol() string {
	switch o {
	case OutcomePass:
		return "✓"
	case OutcomeFlaky:
		return "~"
	case OutcomeIncomplete:
		return "?"
	default:
		return "✗"
	}
}
