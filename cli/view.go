package cli

// This file contains the view command for displaying a single unit's
// persisted result.

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/perfshard/history"
	"github.com/perfgo/perfshard/report"
)

// selectRecord resolves a view argument. Zero and negative integers count
// back from the unit that finished last; anything else is a unit name or an
// unambiguous prefix of one.
func selectRecord(records []*history.Record, arg string) (*history.Record, error) {
	if arg == "" {
		arg = "0"
	}

	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			// a positive number can still be a unit name
			if r := findByName(records, arg); r != nil {
				return r, nil
			}
			return nil, fmt.Errorf("invalid index: %s (use 0 for the last finished unit, -1 for the one before, etc.)", arg)
		}

		byEnd := append([]*history.Record(nil), records...)
		sort.SliceStable(byEnd, func(i, j int) bool {
			return byEnd[i].EndTime.After(byEnd[j].EndTime)
		})
		index := int(-parsed)
		if index >= len(byEnd) {
			return nil, fmt.Errorf("index %s out of range (only %d units)", arg, len(byEnd))
		}
		return byEnd[index], nil
	}

	if r := findByName(records, arg); r != nil {
		return r, nil
	}

	var matches []*history.Record
	for _, r := range records {
		if strings.HasPrefix(r.Name, arg) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no unit found matching: %s", arg)
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, r := range matches {
		names[i] = r.Name
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%s matches several units: %s", arg, strings.Join(names, ", "))
}

func findByName(records []*history.Record, name string) *history.Record {
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (a *App) view(ctx *cli.Context) error {
	_, records, err := a.loadRecords(ctx.String("output-dir"))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no results found in %s", ctx.String("output-dir"))
	}

	record, err := selectRecord(records, ctx.Args().First())
	if err != nil {
		return err
	}

	if path := ctx.String("extract-archive"); path != "" {
		if len(record.ArchiveBytes) == 0 {
			return fmt.Errorf("unit %s has no archived output", record.Name)
		}
		if err := os.WriteFile(path, record.ArchiveBytes, 0644); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		a.logger.Info().Str("unit", record.Name).Str("path", path).Int("bytes", len(record.ArchiveBytes)).Msg("Extracted archive")
		return nil
	}

	a.displayRecord(record)
	return nil
}

func (a *App) displayRecord(r *history.Record) {
	// Print header
	fmt.Printf("=== Unit: %s ===\n", r.Name)
	fmt.Printf("Result: %s %s", r.ResultType.Symbol(), r.ResultType)
	if r.KnownFlaky {
		fmt.Printf(" (known flaky, exit code %d)", r.ActualExitCode)
	}
	fmt.Println()
	fmt.Printf("Exit Code: %d\n", r.ActualExitCode)
	fmt.Printf("Command: %s\n", r.Cmd)
	fmt.Printf("Resource: %s\n", r.ResourceIdentity)
	fmt.Printf("Time: %s - %s\n", r.StartTime.Local().Format("2006-01-02 15:04:05"), r.EndTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Duration: %s across %d attempts in %d runs\n", r.Duration().Round(1e6), len(r.Attempts), r.Runs)
	if r.Exhausted {
		fmt.Println("Retries: exhausted")
	}
	if len(r.ArchiveBytes) > 0 {
		fmt.Printf("Archive: %.1f KB (extract with --extract-archive FILE)\n", float64(len(r.ArchiveBytes))/1024)
	}
	fmt.Println()

	if len(r.Attempts) > 0 {
		report.New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())).Attempts(r.Attempts)
		fmt.Println()
	}

	for i, output := range r.Output {
		fmt.Printf("--- Output %d/%d ---\n", i+1, len(r.Output))
		fmt.Println(strings.TrimRight(output, "\n"))
	}
}
