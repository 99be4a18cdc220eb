package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/pkg/errors"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/perf"
	"github.com/perfgo/perfshard/resource"
)

// cleanupTimeout bounds removal of a scratch directory.
const cleanupTimeout = time.Minute

// templateData is what unit command templates can reference.
type templateData struct {
	OutputDir string
	Resource  string
	Name      string
}

// Executor runs one unit on one resource and produces exactly one attempt.
type Executor struct {
	rc *RunContext
}

// NewExecutor returns an executor for the run.
func NewExecutor(rc *RunContext) *Executor {
	return &Executor{rc: rc.withDefaults()}
}

// Run executes u on r. Execution problems never escape as errors: they are
// folded into the attempt's outcome and output.
func (e *Executor) Run(ctx context.Context, r resource.Resource, u *model.TestUnit) *model.Attempt {
	logger := e.rc.Logger.With().Str("unit", u.Name).Str("resource", r.Identity()).Logger()

	attempt := &model.Attempt{
		Unit:     u.Name,
		Resource: r.Identity(),
		Command:  u.Command,
		ExitCode: -1,
		Outcome:  model.OutcomeFail,
	}

	var outputDir string
	ws, hasWorkspace := r.(resource.Workspace)
	if u.ArchiveOutput {
		if !hasWorkspace {
			logger.Warn().Msg("Resource has no workspace, output will not be archived")
		} else {
			dir, err := ws.MakeScratchDir(ctx, u.Name)
			if err != nil {
				return e.failed(attempt, fmt.Errorf("failed to create scratch directory: %w", err))
			}
			outputDir = dir
			defer func() {
				cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
				defer cancel()
				if err := ws.RemoveDir(cctx, dir); err != nil {
					logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove scratch directory")
				}
			}()
		}
	}

	command, err := render(u, templateData{OutputDir: outputDir, Resource: r.Identity(), Name: u.Name})
	if err != nil {
		return e.failed(attempt, err)
	}
	command = perf.Wrap(e.rc.Perf, command)
	attempt.Command = command

	timeout := e.rc.timeoutFor(u)
	logger.Debug().Str("command", command).Dur("timeout", timeout).Msg("Starting attempt")

	attempt.Start = e.rc.Clock.Now()
	exec, err := r.Execute(ctx, command, timeout)
	attempt.End = e.rc.Clock.Now()

	if exec != nil {
		attempt.ExitCode = exec.ExitCode
		attempt.Output = normalizeOutput(exec.Output)
	}

	var timeoutErr *model.ExecutionTimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		attempt.Outcome = model.OutcomeTimeout
		attempt.Output = appendLine(attempt.Output, err.Error())
	case err != nil:
		attempt.Outcome = model.OutcomeFail
		attempt.Output = appendLine(attempt.Output, err.Error())
	case attempt.ExitCode == u.ExpectedExitCode:
		attempt.Outcome = model.OutcomePass
	default:
		attempt.Outcome = model.OutcomeFail
	}

	if attempt.Outcome == model.OutcomePass && outputDir != "" {
		data, err := ws.ArchiveDir(ctx, outputDir)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to archive output directory")
		} else {
			attempt.Archive = data
		}
	}

	logger.Debug().
		Str("outcome", string(attempt.Outcome)).
		Int("exitCode", attempt.ExitCode).
		Dur("duration", attempt.Duration()).
		Msg("Attempt finished")

	e.rc.Metrics.ObserveAttempt(attempt.Outcome)
	return attempt
}

// failed finishes an attempt that could not be started.
func (e *Executor) failed(attempt *model.Attempt, err error) *model.Attempt {
	now := e.rc.Clock.Now()
	attempt.Start = now
	attempt.End = now
	attempt.Output = err.Error()
	e.rc.Logger.Warn().Err(err).Str("unit", attempt.Unit).Msg("Attempt could not start")
	e.rc.Metrics.ObserveAttempt(attempt.Outcome)
	return attempt
}

// render expands the command template of u.
func render(u *model.TestUnit, data templateData) (string, error) {
	tmpl, err := template.New(u.Name).Option("missingkey=error").Parse(u.Command)
	if err != nil {
		return "", errors.WithStack(&model.ConfigurationError{Reason: fmt.Sprintf("invalid cmd template of %q: %v", u.Name, err)})
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "failed to render cmd of %q", u.Name)
	}
	return buf.String(), nil
}

// normalizeOutput makes captured output valid UTF-8 without terminal
// escape sequences.
func normalizeOutput(s string) string {
	return stripansi.Strip(strings.ToValidUTF8(s, "\uFFFD"))
}

func appendLine(s, line string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}
