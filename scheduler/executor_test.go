package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource/resourcetest"
)

func TestExecutorClassifies(t *testing.T) {
	tests := []struct {
		name     string
		step     resourcetest.Step
		unit     model.TestUnit
		outcome  model.Outcome
		exitCode int
	}{
		{
			name:     "pass",
			step:     resourcetest.Step{ExitCode: 0, Output: "ok"},
			unit:     model.TestUnit{Name: "u", Command: "u"},
			outcome:  model.OutcomePass,
			exitCode: 0,
		},
		{
			name:     "fail",
			step:     resourcetest.Step{ExitCode: 1},
			unit:     model.TestUnit{Name: "u", Command: "u"},
			outcome:  model.OutcomeFail,
			exitCode: 1,
		},
		{
			name:     "expected exit code",
			step:     resourcetest.Step{ExitCode: 3},
			unit:     model.TestUnit{Name: "u", Command: "u", ExpectedExitCode: 3},
			outcome:  model.OutcomePass,
			exitCode: 3,
		},
		{
			name:     "timeout",
			step:     resourcetest.Step{Delay: time.Second},
			unit:     model.TestUnit{Name: "u", Command: "u", Timeout: 10 * time.Millisecond},
			outcome:  model.OutcomeTimeout,
			exitCode: -1,
		},
		{
			name:     "transport error",
			step:     resourcetest.Step{Err: errors.New("device disconnected")},
			unit:     model.TestUnit{Name: "u", Command: "u"},
			outcome:  model.OutcomeFail,
			exitCode: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := testRunContext()
			r := resourcetest.New("dev-a")
			r.Default = tt.step
			unit := tt.unit

			a := NewExecutor(rc).Run(context.Background(), r, &unit)
			assert.Equal(t, tt.outcome, a.Outcome)
			assert.Equal(t, tt.exitCode, a.ExitCode)
			assert.Equal(t, "dev-a", a.Resource)
			assert.Equal(t, rc.Clock.Now(), a.Start)
		})
	}
}

func TestExecutorErrorDetailInOutput(t *testing.T) {
	r := resourcetest.New("dev-a")
	r.Default = resourcetest.Step{Output: "partial", Err: errors.New("device disconnected")}

	a := NewExecutor(testRunContext()).Run(context.Background(), r, unit("u"))
	assert.Equal(t, "partial\ndevice disconnected", a.Output)
}

func TestExecutorArchivesScratchDir(t *testing.T) {
	r := resourcetest.New("dev-a")
	r.Script("bench --out /scratch/speedometer.0 --dev dev-a", resourcetest.Step{ExitCode: 0})
	r.Default = resourcetest.Step{ExitCode: 127}

	u := &model.TestUnit{
		Name:          "speedometer",
		Command:       "bench --out {{.OutputDir}} --dev {{.Resource}}",
		ArchiveOutput: true,
	}
	a := NewExecutor(testRunContext()).Run(context.Background(), r, u)

	require.Equal(t, model.OutcomePass, a.Outcome)
	assert.Equal(t, "bench --out /scratch/speedometer.0 --dev dev-a", a.Command)
	assert.Equal(t, []byte("archive:/scratch/speedometer.0"), a.Archive)
	assert.Zero(t, r.LiveDirs())
}

func TestExecutorCleansUpOnPanic(t *testing.T) {
	r := resourcetest.New("dev-a")
	r.Default = resourcetest.Step{Panic: "driver crashed"}

	u := &model.TestUnit{Name: "u", Command: "u", ArchiveOutput: true}
	assert.Panics(t, func() {
		NewExecutor(testRunContext()).Run(context.Background(), r, u)
	})
	assert.Zero(t, r.LiveDirs())
}

func TestExecutorPerfWrap(t *testing.T) {
	rc := testRunContext()
	rc.Perf.Events = []string{"cycles"}
	r := resourcetest.New("dev-a")

	a := NewExecutor(rc).Run(context.Background(), r, unit("bench"))
	assert.Equal(t, "perf stat -e cycles -- sh -c bench", a.Command)
	assert.Equal(t, []string{"perf stat -e cycles -- sh -c bench"}, r.Calls())
}

func TestExecutorBadTemplate(t *testing.T) {
	r := resourcetest.New("dev-a")
	u := &model.TestUnit{Name: "u", Command: "run {{.Missing}}"}

	a := NewExecutor(testRunContext()).Run(context.Background(), r, u)
	assert.Equal(t, model.OutcomeFail, a.Outcome)
	assert.Empty(t, r.Calls())
}

func TestNormalizeOutput(t *testing.T) {
	assert.Equal(t, "red �", normalizeOutput("\x1b[31mred\x1b[0m \xff"))
}
