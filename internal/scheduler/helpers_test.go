package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/database"
)

// jan1 is Monday 2024-01-01T00:00:00Z.
var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testDB creates a test database with migrations.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Open(&cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

type harness struct {
	db         *database.DB
	store      *SQLStore
	calc       *Calculator
	registry   *Registry
	clock      *fakeClock
	executor   *Executor
	manager    *Manager
	dispatcher *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testDB(t)
	h := &harness{
		db:       db,
		store:    NewSQLStore(db),
		calc:     NewCalculator(),
		registry: NewRegistry(),
		clock:    newFakeClock(jan1),
	}
	h.executor = NewExecutor(h.store, h.calc, h.registry, h.clock, time.Minute)
	h.manager = NewManager(h.store, h.calc, h.executor, h.clock)
	h.dispatcher = NewDispatcher(h.store, h.executor, h.clock, DispatcherConfig{
		PollInterval: 10 * time.Millisecond,
		ClaimLease:   time.Minute,
	})

	return h
}

func intPtr(n int) *int {
	return &n
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func dailySpec(name string) ScheduleSpec {
	return ScheduleSpec{
		Name:       name,
		Type:       ScheduleTypeDaily,
		ActionType: "noop",
		Config:     ScheduleConfig{Interval: 1},
	}
}
