package cli

// This file contains the list command for displaying persisted results.

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/perfshard/history"
	"github.com/perfgo/perfshard/report"
)

// loadRecords opens an existing store without modifying it.
func (a *App) loadRecords(outputDir string) (*history.Store, []*history.Record, error) {
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		return nil, nil, nil
	}

	store, err := history.Open(a.logger, outputDir, false)
	if err != nil {
		return nil, nil, err
	}
	records, err := store.LoadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load records: %w", err)
	}
	return store, records, nil
}

func (a *App) list(ctx *cli.Context) error {
	outputDir := ctx.String("output-dir")

	store, records, err := a.loadRecords(outputDir)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No results found")
		fmt.Printf("Results are saved to %s/records/<unit>.json\n", outputDir)
		return nil
	}

	if ctx.Bool("failed") {
		var failed []*history.Record
		for _, r := range records {
			if !r.Passed() {
				failed = append(failed, r)
			}
		}
		if len(failed) == 0 {
			fmt.Printf("All %d units passed\n", len(records))
			return nil
		}
		records = failed
	}

	if run, err := store.LoadRun(); err == nil {
		fmt.Printf("Run %s at %s, %s\n", shortID(run.ID), run.Timestamp.Local().Format("2006-01-02 15:04:05"), run.Duration.Round(1e6))
		if run.Git != nil && run.Git.Commit != "" {
			fmt.Printf("Commit: %s (%s)\n", shortID(run.Git.Commit), run.Git.Branch)
		}
	}

	report.New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())).Records(records)

	fmt.Println("\nView a unit: perfshard view <unit>")
	return nil
}

// shortID returns the first 8 characters of an ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
