package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/panics"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource"
)

// ShardRunner drains the units of one assignment on its resource, one at a
// time, in assignment order.
type ShardRunner struct {
	rc         *RunContext
	controller *RetryController
	resource   resource.Resource
	units      []*model.TestUnit

	mu       sync.Mutex
	next     int
	records  []*model.ResultRecord
	warnings []error
	frozen   bool
}

// NewShardRunner returns a runner owning r for the units of one bucket.
func NewShardRunner(rc *RunContext, r resource.Resource, units []*model.TestUnit) *ShardRunner {
	rc = rc.withDefaults()
	return &ShardRunner{
		rc:         rc,
		controller: NewRetryController(rc),
		resource:   r,
		units:      units,
	}
}

// Run executes the units until all are done, ctx is done, the failure
// budget is spent or the runner is frozen. Units it did not finish stay
// outstanding.
func (s *ShardRunner) Run(ctx context.Context) {
	logger := s.rc.Logger.With().Str("resource", s.resource.Identity()).Logger()
	logger.Info().Int("units", len(s.units)).Msg("Starting shard")

	for _, u := range s.units {
		if ctx.Err() != nil {
			logger.Warn().Msg("Run stopped, leaving remaining units outstanding")
			return
		}
		if s.rc.Budget.Stop() {
			logger.Warn().Str("budget", s.rc.Budget.String()).Msg("Failure budget exhausted, leaving remaining units outstanding")
			return
		}

		record := s.runUnit(ctx, u)
		if !s.complete(record) {
			logger.Debug().Str("unit", u.Name).Msg("Shard frozen, discarding late result")
			return
		}
	}

	logger.Info().Msg("Shard finished")
}

// runUnit contains panics raised while driving u so that the shard can
// carry on with the next unit.
func (s *ShardRunner) runUnit(ctx context.Context, u *model.TestUnit) *model.ResultRecord {
	var record *model.ResultRecord
	var pc panics.Catcher
	pc.Try(func() {
		record = s.controller.Run(ctx, s.resource, u)
	})

	if r := pc.Recovered(); r != nil {
		s.rc.Logger.Error().
			Str("unit", u.Name).
			Str("resource", s.resource.Identity()).
			Str("panic", fmt.Sprint(r.Value)).
			Msg("Unit execution panicked")

		now := s.rc.Clock.Now()
		record = &model.ResultRecord{
			Name:           u.Name,
			Command:        u.Command,
			Outcome:        model.OutcomeFail,
			ResultType:     model.OutcomeFail,
			ExitCode:       -1,
			ActualExitCode: -1,
			Resource:       s.resource.Identity(),
			Start:          now,
			End:            now,
			Message:        r.String(),
		}
	}
	return record
}

// complete records and persists a final record unless the shard is
// frozen. Persisting under the lock keeps freeze from returning while a
// save is in progress.
func (s *ShardRunner) complete(record *model.ResultRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false
	}
	s.records = append(s.records, record)
	s.next++
	s.save(record)
	return true
}

// save persists record, keeping failures as warnings. The caller holds mu.
func (s *ShardRunner) save(record *model.ResultRecord) {
	s.rc.Metrics.ObserveRecord(record)
	if s.rc.Store == nil {
		return
	}
	if err := s.rc.Store.Save(record); err != nil {
		var perr *model.PersistenceError
		if !errors.As(err, &perr) {
			err = &model.PersistenceError{Op: "save", Path: record.Name, Err: err}
		}
		s.rc.Logger.Warn().Err(err).Str("unit", record.Name).Msg("Failed to persist result")
		s.warnings = append(s.warnings, err)
	}
}

// freeze stops the shard from accepting results and marks every unit it
// did not finish as incomplete.
func (s *ShardRunner) freeze(reason string) ([]*model.ResultRecord, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.frozen {
		s.frozen = true
		now := s.rc.Clock.Now()
		for _, u := range s.units[s.next:] {
			record := model.NewIncompleteRecord(u, s.resource.Identity(), now, reason)
			s.records = append(s.records, record)
			s.save(record)
		}
		s.next = len(s.units)
	}

	return s.records, s.warnings
}
