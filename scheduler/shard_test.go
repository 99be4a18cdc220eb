package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
	"github.com/perfgo/perfshard/resource/resourcetest"
)

func TestShardContainsPanics(t *testing.T) {
	rc := testRunContext()
	store := newMemStore()
	rc.Store = store

	r := resourcetest.New("dev-a").
		Script("a", resourcetest.Step{Panic: "adb protocol error"}).
		Script("b", resourcetest.Step{ExitCode: 0})

	s := NewShardRunner(rc, r, []*model.TestUnit{unit("a"), unit("b")})
	s.Run(context.Background())
	records, warnings := s.freeze("unused")

	require.Len(t, records, 2)
	assert.Empty(t, warnings)
	assert.Equal(t, model.OutcomeFail, records[0].ResultType)
	assert.Contains(t, records[0].Message, "adb protocol error")
	assert.Equal(t, model.OutcomePass, records[1].ResultType)
	assert.NotNil(t, store.get("a"))
	assert.NotNil(t, store.get("b"))
}

func TestShardRunsSequentially(t *testing.T) {
	r := resourcetest.New("dev-a")

	s := NewShardRunner(testRunContext(), r, []*model.TestUnit{unit("c"), unit("a"), unit("b")})
	s.Run(context.Background())

	assert.Equal(t, []string{"c", "a", "b"}, r.Calls())
	assert.Equal(t, 1, r.MaxConcurrent())
}

func TestShardFreezeMarksOutstanding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewShardRunner(testRunContext(), resourcetest.New("dev-a"), []*model.TestUnit{unit("a"), unit("b")})
	s.Run(ctx)
	records, _ := s.freeze("run deadline reached")

	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, model.OutcomeIncomplete, rec.ResultType)
		assert.Equal(t, []string{"run deadline reached"}, rec.Output())
	}

	// Late results are discarded once frozen.
	assert.False(t, s.complete(&model.ResultRecord{Name: "a"}))
}

func TestShardStopsOnBudget(t *testing.T) {
	rc := testRunContext()
	rc.MaxRetries = 1
	budget, err := NewBudget(3, 0, 0, 0, 2)
	require.NoError(t, err)
	rc.Budget = budget

	r := resourcetest.New("dev-a")
	r.Default = resourcetest.Step{ExitCode: 1}

	s := NewShardRunner(rc, r, []*model.TestUnit{unit("a"), unit("b"), unit("c")})
	s.Run(context.Background())
	records, _ := s.freeze("failure budget exhausted")

	require.Len(t, records, 3)
	assert.Equal(t, []string{"a", "b"}, r.Calls())
	assert.Equal(t, model.OutcomeIncomplete, records[2].ResultType)
}

func TestShardPersistenceWarnings(t *testing.T) {
	rc := testRunContext()
	rc.Store = &memStore{fail: true}

	s := NewShardRunner(rc, resourcetest.New("dev-a"), []*model.TestUnit{unit("a")})
	s.Run(context.Background())
	records, warnings := s.freeze("unused")

	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomePass, records[0].ResultType)
	require.Len(t, warnings, 1)
	var perr *model.PersistenceError
	assert.ErrorAs(t, warnings[0], &perr)
}
