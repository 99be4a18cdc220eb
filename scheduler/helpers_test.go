package scheduler

import (
	"errors"
	"sync"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/model"
)

func testRunContext() *RunContext {
	return &RunContext{
		RunID:          "test-run",
		Logger:         zerolog.Nop(),
		Clock:          fakeclock.NewFakeClock(time.Unix(1700000000, 0)),
		MaxRetries:     3,
		DefaultTimeout: time.Minute,
	}
}

func unit(name string, affinity ...int) *model.TestUnit {
	u := &model.TestUnit{Name: name, Command: name}
	if len(affinity) > 0 {
		u.Affinity = &affinity[0]
	}
	return u
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*model.ResultRecord
	fail    bool
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*model.ResultRecord{}}
}

func (s *memStore) Save(r *model.ResultRecord) error {
	if s.fail {
		return &model.PersistenceError{Op: "write", Path: r.Name, Err: errors.New("disk full")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Name] = r
	return nil
}

func (s *memStore) get(name string) *model.ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[name]
}
