package cli

// This file contains the run command, which wires configuration, resources,
// the scheduler and the result store together.

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/perfshard/config"
	"github.com/perfgo/perfshard/history"
	"github.com/perfgo/perfshard/metrics"
	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/partition"
	"github.com/perfgo/perfshard/perf"
	"github.com/perfgo/perfshard/report"
	"github.com/perfgo/perfshard/resource"
	"github.com/perfgo/perfshard/scheduler"
)

const (
	exitFailed        = 1
	exitConfiguration = 2
)

// configExit turns err into exit status 2.
func configExit(err error) error {
	return cli.Exit(fmt.Sprintf("configuration error: %v", err), exitConfiguration)
}

func (a *App) run(c *cli.Context) error {
	units, err := config.Load(c.String("config"))
	if err != nil {
		return configExit(err)
	}

	flaky := map[string]bool{}
	if path := c.String("flaky-steps"); path != "" {
		if flaky, err = config.LoadFlaky(path); err != nil {
			return configExit(err)
		}
	}

	if total := c.Int("total-shards"); total > 0 {
		if units, err = partition.Contiguous(units, c.Int("shard-index"), total); err != nil {
			return configExit(err)
		}
		if len(units) == 0 {
			a.logger.Info().Int("shardIndex", c.Int("shard-index")).Int("totalShards", total).Msg("No units in this slice")
			return nil
		}
	}

	maxRetries := c.Int("max-retries")
	if maxRetries < 1 {
		return configExit(fmt.Errorf("--max-retries must be at least 1, got %d", maxRetries))
	}
	budget, err := scheduler.NewBudget(len(units), maxRetries-1, scheduler.DefaultMinFailures, c.Float64("failure-ratio"), c.Int("max-failures"))
	if err != nil {
		return configExit(err)
	}

	resources, err := a.openResources(c)
	if err != nil {
		return configExit(err)
	}
	defer closeResources(resources)

	blacklist, err := resource.LoadBlacklist(c.String("blacklist-file"))
	if err != nil {
		return configExit(err)
	}

	store, err := history.Open(a.logger, c.String("output-dir"), !c.Bool("resume"))
	if err != nil {
		return err
	}

	m := metrics.New()
	rc := &scheduler.RunContext{
		RunID:          uuid.NewString(),
		Logger:         a.logger,
		Clock:          clock.NewClock(),
		Store:          store,
		Blacklist:      blacklist,
		Metrics:        m,
		Budget:         budget,
		Flaky:          flaky,
		MaxRetries:     maxRetries,
		RetryDelay:     c.Duration("retry-delay"),
		DefaultTimeout: c.Duration("timeout"),
		Deadline:       c.Duration("deadline"),
		Perf:           perf.StatOptionsFromContext(c),
	}

	a.logger.Info().
		Str("runID", rc.RunID).
		Int("units", len(units)).
		Int("resources", len(resources)).
		Str("budget", budget.String()).
		Str("outputDir", store.Root()).
		Msg("Loaded configuration")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := scheduler.NewOrchestrator(rc).Run(ctx, units, resources)
	if err != nil {
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			return configExit(err)
		}
		return err
	}
	if result.Warnings != nil {
		a.logger.Warn().Err(result.Warnings).Msg("Some results were not persisted")
	}

	summary := result.Summary
	printer := report.New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
	printer.Results(summary)
	printer.Summary(summary)

	a.finishRun(c, store, blacklist, m, result)

	if !summary.Passed() {
		return cli.Exit(fmt.Sprintf("%d of %d units did not pass", summary.Total()-summary.Pass-summary.Flaky, summary.Total()), exitFailed)
	}
	return nil
}

// finishRun writes everything that outlives the run. Failures here are
// logged and do not change the exit status.
func (a *App) finishRun(c *cli.Context, store *history.Store, blacklist *resource.Blacklist, m *metrics.Metrics, result *scheduler.Result) {
	summary := result.Summary

	if path := c.String("metrics-file"); path != "" {
		if err := m.WriteToTextfile(path); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}

	if err := blacklist.Save(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save blacklist")
	}

	run := &model.Run{
		ID:        summary.RunID,
		Timestamp: summary.Start,
		Duration:  summary.Duration,
		Args:      os.Args,
		Git:       a.getGitInfo(c.Context),
		Counts:    summary.Counts(),
		Passed:    summary.Passed(),
	}
	for _, assignment := range result.Assignments {
		run.Resources = append(run.Resources, assignment.Resource)
	}
	if err := store.SaveRun(run); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to save run manifest")
	}

	a.logger.Info().
		Str("runID", summary.RunID).
		Int("pass", summary.Pass).
		Int("flaky", summary.Flaky).
		Int("fail", summary.Fail).
		Int("timeout", summary.Timeout).
		Int("incomplete", summary.Incomplete).
		Dur("duration", summary.Duration).
		Msg("Run finished")
}

func (a *App) openResources(c *cli.Context) ([]resource.Resource, error) {
	resources, err := resource.Open(c.StringSlice("device"), c.Int("workers"), resource.Options{
		Logger:         a.logger,
		IdentityFile:   c.String("identity-file"),
		KnownHostsFile: c.String("known-hosts-file"),
		ProxyCommand:   c.String("proxy-command"),
		SSHOptions:     c.StringSlice("ssh-option"),
		KubeContext:    c.String("kube-context"),
		Container:      c.String("container"),
		ScratchRoot:    c.String("scratch-dir"),
	})
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, errors.New("no resources, pass --device or --workers")
	}
	return resources, nil
}

func closeResources(resources []resource.Resource) {
	for _, r := range resources {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
