package scheduler

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/partition"
	"github.com/perfgo/perfshard/resource"
)

// Result is what a run produced.
type Result struct {
	Summary *model.RunSummary
	// Assignments lists the shards that were launched.
	Assignments []model.ShardAssignment
	// Warnings collects persistence failures. The summary is complete
	// regardless.
	Warnings error
}

// Orchestrator runs one shard per healthy resource concurrently and joins
// them subject to the run deadline.
type Orchestrator struct {
	rc *RunContext
}

// NewOrchestrator returns an orchestrator for the run.
func NewOrchestrator(rc *RunContext) *Orchestrator {
	return &Orchestrator{rc: rc.withDefaults()}
}

// Run partitions units over the healthy resources and executes them. Only
// configuration errors are returned; every per-unit and per-resource
// failure ends up in the summary.
func (o *Orchestrator) Run(ctx context.Context, units []*model.TestUnit, resources []resource.Resource) (*Result, error) {
	logger := o.rc.Logger
	start := o.rc.Clock.Now()

	healthy := o.healthy(ctx, resources)
	o.rc.Metrics.SetHealthyResources(len(healthy))

	p := partition.Partitioner{Configured: len(resources), Logger: logger}
	buckets, err := p.Partition(units, len(healthy))
	if err != nil {
		return nil, err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.rc.Deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.rc.Deadline)
	}
	defer cancel()

	var shards []*ShardRunner
	var assignments []model.ShardAssignment
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			logger.Debug().Str("resource", healthy[i].Identity()).Msg("No units assigned")
			continue
		}
		shards = append(shards, NewShardRunner(o.rc, healthy[i], bucket))
		assignments = append(assignments, model.ShardAssignment{Resource: healthy[i].Identity(), Units: bucket})
	}

	logger.Info().
		Int("units", len(units)).
		Int("shards", len(shards)).
		Int("maxRetries", o.rc.MaxRetries).
		Dur("deadline", o.rc.Deadline).
		Msg("Starting run")

	workers := pool.New().WithMaxGoroutines(len(shards))
	for _, shard := range shards {
		workers.Go(func() {
			shard.Run(runCtx)
		})
	}

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	reason := "run stopped before the unit started"
	select {
	case <-done:
		if o.rc.Budget.Stop() {
			reason = "failure budget exhausted before the unit started"
		}
	case <-runCtx.Done():
		reason = "run deadline reached"
		if ctx.Err() != nil {
			reason = "run canceled"
		}
		logger.Warn().Str("reason", reason).Msg("Not waiting for running shards")
	}

	var warnings *multierror.Error
	records := make(map[string][]*model.ResultRecord, len(shards))
	for _, shard := range shards {
		rs, errs := shard.freeze(reason)
		records[shard.resource.Identity()] = rs
		warnings = multierror.Append(warnings, errs...)
	}

	o.rc.Blacklist.Collect(resources)

	duration := o.rc.Clock.Since(start)
	o.rc.Metrics.SetRunDuration(duration)

	return &Result{
		Summary:     model.NewRunSummary(o.rc.RunID, start, duration, records),
		Assignments: assignments,
		Warnings:    warnings.ErrorOrNil(),
	}, nil
}

// healthy probes resources concurrently and returns the usable ones sorted
// by identity, so that bucket indexes map to the same resources across
// runs.
func (o *Orchestrator) healthy(ctx context.Context, resources []resource.Resource) []resource.Resource {
	o.rc.Blacklist.Apply(resources)

	ok := iter.Map(resources, func(r *resource.Resource) bool {
		if (*r).State() == resource.StateBlacklisted {
			return false
		}
		return (*r).IsHealthy(ctx)
	})

	var healthy []resource.Resource
	for i, r := range resources {
		if !ok[i] {
			err := &model.ResourceUnavailableError{Resource: r.Identity(), State: r.State().String()}
			o.rc.Logger.Warn().Err(err).Msg("Dropping resource")
			continue
		}
		healthy = append(healthy, r)
	}

	sort.Slice(healthy, func(i, j int) bool { return healthy[i].Identity() < healthy[j].Identity() })
	return healthy
}
