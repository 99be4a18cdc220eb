// Package report renders run results as console tables.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/perfgo/perfshard/history"
	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource"
)

// Printer writes result tables to out. Colour is meant for terminals only.
type Printer struct {
	out   io.Writer
	color bool
}

// New creates a Printer.
func New(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

func (p *Printer) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

// style colours the table after the overall result.
func (p *Printer) style(t table.Writer, passed bool) {
	if !p.color {
		return
	}
	if passed {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}
}

// Results prints one row per unit, grouped by resource.
func (p *Printer) Results(s *model.RunSummary) {
	t := p.newTable(fmt.Sprintf("Results (%s)", formatDuration(s.Duration)))
	t.AppendHeader(table.Row{"Unit", "Result", "Attempts", "Duration", "Resource"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Unit", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Resource", AutoMerge: true},
	})

	attempts := 0
	var busy time.Duration
	for _, r := range s.Sorted() {
		attempts += len(r.Attempts)
		busy += r.TotalTime()
		t.AppendRow(table.Row{
			r.Name,
			resultString(r.ResultType, r.KnownFlaky),
			len(r.Attempts),
			formatDuration(r.TotalTime()),
			r.Resource,
		})
	}

	t.AppendFooter(table.Row{
		fmt.Sprintf("TOTAL %d", s.Total()),
		resultString(overall(s.Passed()), false),
		attempts,
		formatDuration(busy),
		fmt.Sprintf("%d resources", len(s.Records)),
	})
	p.style(t, s.Passed())
	t.Render()
}

// Summary prints the result counts with their share of the run.
func (p *Printer) Summary(s *model.RunSummary) {
	t := p.newTable("Summary")
	t.AppendHeader(table.Row{"Result", "Units", "Share"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Units", Align: text.AlignRight},
		{Name: "Share", Align: text.AlignRight},
	})

	for _, c := range []struct {
		outcome model.Outcome
		n       int
	}{
		{model.OutcomePass, s.Pass},
		{model.OutcomeFlaky, s.Flaky},
		{model.OutcomeFail, s.Fail},
		{model.OutcomeTimeout, s.Timeout},
		{model.OutcomeIncomplete, s.Incomplete},
	} {
		t.AppendRow(table.Row{resultString(c.outcome, false), c.n, fmt.Sprintf("%.1f%%", s.Percent(c.n))})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Exhausted retries", s.Exhausted, fmt.Sprintf("%.1f%%", s.Percent(s.Exhausted))})
	t.AppendRow(table.Row{"Wall clock", formatDuration(s.Duration), ""})
	t.AppendRow(table.Row{"Throughput", fmt.Sprintf("%.2f/min", s.Throughput()), ""})

	t.AppendFooter(table.Row{"TOTAL", s.Total(), resultString(overall(s.Passed()), false)})
	p.style(t, s.Passed())
	t.Render()
}

// Records prints persisted records, failures first.
func (p *Printer) Records(records []*history.Record) {
	sorted := append([]*history.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Passed() != sorted[j].Passed() {
			return !sorted[i].Passed()
		}
		return sorted[i].Name < sorted[j].Name
	})

	t := p.newTable(fmt.Sprintf("Records (%d)", len(sorted)))
	t.AppendHeader(table.Row{"Unit", "Result", "Exit", "Attempts", "Runs", "Duration", "Resource", "Finished"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Unit", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Attempts", Align: text.AlignRight},
		{Name: "Runs", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	passed := true
	for _, r := range sorted {
		passed = passed && r.Passed()
		t.AppendRow(table.Row{
			r.Name,
			resultString(r.ResultType, r.KnownFlaky),
			r.ActualExitCode,
			len(r.Attempts),
			r.Runs,
			formatDuration(r.Duration()),
			r.ResourceIdentity,
			r.EndTime.Local().Format("2006-01-02 15:04:05"),
		})
	}
	p.style(t, passed)
	t.Render()
}

// Attempts prints one row per attempt, oldest first.
func (p *Printer) Attempts(attempts []*model.Attempt) {
	t := p.newTable("Attempts")
	t.AppendHeader(table.Row{"#", "Outcome", "Exit", "Duration", "Resource", "Started"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})
	for i, a := range attempts {
		t.AppendRow(table.Row{
			i + 1,
			resultString(a.Outcome, false),
			a.ExitCode,
			formatDuration(a.Duration()),
			a.Resource,
			a.Start.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}

// Resources prints the identity and health state of each resource.
func (p *Printer) Resources(resources []resource.Resource) {
	t := p.newTable("Resources")
	t.AppendHeader(table.Row{"Resource", "State"})

	healthy := true
	for _, r := range resources {
		healthy = healthy && r.State() == resource.StateOnline
		t.AppendRow(table.Row{r.Identity(), r.State()})
	}
	p.style(t, healthy)
	t.Render()
}

func overall(passed bool) model.Outcome {
	if passed {
		return model.OutcomePass
	}
	return model.OutcomeFail
}

func resultString(o model.Outcome, knownFlaky bool) string {
	s := fmt.Sprintf("%s %s", o.Symbol(), o)
	if knownFlaky {
		s += " (known)"
	}
	return s
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
