package model

import (
	"sort"
	"time"
)

// RunSummary aggregates every record of one run. It is built once, after
// all shards joined or the deadline expired.
type RunSummary struct {
	// Run identifier
	RunID string
	// Records grouped by resource identity
	Records map[string][]*ResultRecord
	// Wall-clock start of the run
	Start time.Time
	// Wall-clock duration of the run
	Duration time.Duration

	Pass       int
	Flaky      int
	Fail       int
	Timeout    int
	Incomplete int
	// Units that used every allowed attempt, including known flaky units
	// whose reported result was forced
	Exhausted int
}

// NewRunSummary counts the records by reported result.
func NewRunSummary(runID string, start time.Time, duration time.Duration, records map[string][]*ResultRecord) *RunSummary {
	s := &RunSummary{
		RunID:    runID,
		Records:  records,
		Start:    start,
		Duration: duration,
	}
	for _, rs := range records {
		for _, r := range rs {
			switch r.ResultType {
			case OutcomePass:
				s.Pass++
			case OutcomeFlaky:
				s.Flaky++
			case OutcomeTimeout:
				s.Timeout++
			case OutcomeIncomplete:
				s.Incomplete++
			default:
				s.Fail++
			}
			if r.Exhausted {
				s.Exhausted++
			}
		}
	}
	return s
}

// Total returns the number of units in the run.
func (s *RunSummary) Total() int {
	return s.Pass + s.Flaky + s.Fail + s.Timeout + s.Incomplete
}

// Passed reports whether every unit ended with a passing result.
func (s *RunSummary) Passed() bool {
	return s.Total() > 0 && s.Pass+s.Flaky == s.Total()
}

// Percent returns n as a percentage of the total.
func (s *RunSummary) Percent(n int) float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(n) * 100 / float64(s.Total())
}

// Throughput returns completed units per minute of wall-clock time.
func (s *RunSummary) Throughput() float64 {
	if s.Duration <= 0 {
		return 0
	}
	done := s.Total() - s.Incomplete
	return float64(done) / s.Duration.Minutes()
}

// Sorted returns all records ordered by resource, then by unit name.
func (s *RunSummary) Sorted() []*ResultRecord {
	resources := make([]string, 0, len(s.Records))
	for id := range s.Records {
		resources = append(resources, id)
	}
	sort.Strings(resources)

	var out []*ResultRecord
	for _, id := range resources {
		rs := append([]*ResultRecord(nil), s.Records[id]...)
		sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })
		out = append(out, rs...)
	}
	return out
}
