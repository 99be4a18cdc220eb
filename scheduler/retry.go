package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource"
)

// recoverTimeout bounds one recovery between attempts.
const recoverTimeout = 5 * time.Minute

// RetryController runs a unit until it passes or its attempts are used up,
// recovering the resource between attempts.
type RetryController struct {
	rc   *RunContext
	exec *Executor
}

// NewRetryController returns a controller for the run.
func NewRetryController(rc *RunContext) *RetryController {
	rc = rc.withDefaults()
	return &RetryController{rc: rc, exec: &Executor{rc: rc}}
}

// Run drives u on r to a terminal outcome. ctx is the run context: once it
// is done no further attempt starts and the unit ends Incomplete. Attempts
// already running are not interrupted by it.
func (c *RetryController) Run(ctx context.Context, r resource.Resource, u *model.TestUnit) *model.ResultRecord {
	logger := c.rc.Logger.With().Str("unit", u.Name).Str("resource", r.Identity()).Logger()
	attemptCtx := context.WithoutCancel(ctx)

	var attempts []*model.Attempt
	canceled := false

	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				canceled = true
				return ctx.Err()
			}
			if len(attempts) > 0 {
				c.recover(attemptCtx, r, logger)
				if ctx.Err() != nil {
					canceled = true
					return ctx.Err()
				}
			}

			a := c.exec.Run(attemptCtx, r, u)
			attempts = append(attempts, a)
			c.rc.Budget.Observe(a.Outcome == model.OutcomePass)
			if a.Outcome == model.OutcomePass {
				return nil
			}
			return &model.ExecutionFailedError{
				Outcome:  a.Outcome,
				ExitCode: a.ExitCode,
				Expected: u.ExpectedExitCode,
			}
		},
		retry.Attempts(uint(c.rc.MaxRetries)),
		retry.Delay(c.rc.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var failed *model.ExecutionFailedError
			return errors.As(err, &failed)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Info().Uint("attempt", n+1).Int("maxRetries", c.rc.MaxRetries).Err(err).Msg("Attempt did not pass")
		}),
	)

	// the delay between attempts ends early with ctx's error
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		canceled = true
	}

	record := c.finalize(r, u, attempts, canceled)

	switch {
	case err == nil:
		logger.Info().Int("attempts", len(attempts)).Str("result", string(record.ResultType)).Msg("Unit passed")
	case canceled:
		logger.Warn().Int("attempts", len(attempts)).Msg("Run deadline reached, unit incomplete")
	default:
		logger.Error().Err(err).Int("attempts", len(attempts)).Str("result", string(record.ResultType)).Msg("Unit failed")
	}
	return record
}

// recover runs one recovery. Failures are logged and never abort the loop.
func (c *RetryController) recover(ctx context.Context, r resource.Resource, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, recoverTimeout)
	defer cancel()

	err := r.Recover(ctx)
	c.rc.Metrics.ObserveRecovery(err)
	if err != nil {
		logger.Warn().Err(err).Str("state", r.State().String()).Msg("Recovery failed, retrying anyway")
		return
	}
	logger.Debug().Msg("Resource recovered")
}

// finalize classifies the unit from its attempts.
func (c *RetryController) finalize(r resource.Resource, u *model.TestUnit, attempts []*model.Attempt, canceled bool) *model.ResultRecord {
	record := &model.ResultRecord{
		Name:     u.Name,
		Command:  u.Command,
		Attempts: attempts,
		Resource: r.Identity(),
	}

	last := record.LastAttempt()
	if last == nil {
		return model.NewIncompleteRecord(u, r.Identity(), c.rc.Clock.Now(), "run deadline reached before the first attempt")
	}

	record.Command = last.Command
	record.Start = attempts[0].Start
	record.End = last.End
	record.ActualExitCode = last.ExitCode
	record.ExitCode = last.ExitCode
	record.Archive = last.Archive

	switch {
	case canceled && last.Outcome != model.OutcomePass:
		record.Outcome = model.OutcomeIncomplete
		record.ResultType = model.OutcomeIncomplete
		record.Message = fmt.Sprintf("run deadline reached after %d of %d attempts", len(attempts), c.rc.MaxRetries)
		return record
	case last.Outcome == model.OutcomePass && len(attempts) == 1:
		record.Outcome = model.OutcomePass
		record.ResultType = model.OutcomePass
	case last.Outcome == model.OutcomePass:
		record.Outcome = model.OutcomePass
		record.ResultType = model.OutcomeFlaky
	default:
		record.Outcome = last.Outcome
		record.ResultType = last.Outcome
		record.Exhausted = len(attempts) >= c.rc.MaxRetries
	}

	if c.rc.Flaky[u.Name] && !record.Outcome.Passing() {
		record.KnownFlaky = true
		record.ResultType = model.OutcomeFlaky
		record.ExitCode = 0
	}
	return record
}
