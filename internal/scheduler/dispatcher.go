package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/staybook/schedulerd/internal/metrics"
)

// DispatcherConfig holds configuration for Dispatcher.
type DispatcherConfig struct {
	// PollInterval is how often to poll for due schedules (default: 30 seconds).
	PollInterval time.Duration
	// BatchSize caps the schedules claimed per tick (default: 100).
	BatchSize int
	// ClaimLease is how long a claimed schedule is hidden from later ticks
	// (default: 10 minutes).
	ClaimLease time.Duration
	// Rate limits executions started per second. Zero means unlimited.
	Rate  float64
	Burst int
}

// Dispatcher polls for due schedules and hands each to the executor
// without waiting for it to finish.
type Dispatcher struct {
	store    Store
	executor *Executor
	clock    Clock
	cfg      DispatcherConfig
	limiter  *rate.Limiter

	mu         sync.Mutex
	cancel     context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc
	loopWG     sync.WaitGroup
	execWG     sync.WaitGroup

	running   map[string]struct{}
	runningMu sync.Mutex
}

// NewDispatcher creates a dispatcher. Zero config values take defaults.
func NewDispatcher(store Store, executor *Executor, clock Clock, cfg DispatcherConfig) *Dispatcher {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}

	d := &Dispatcher{
		store:    store,
		executor: executor,
		clock:    clock,
		cfg:      cfg,
		running:  make(map[string]struct{}),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	d.execCtx, d.execCancel = context.WithCancel(context.Background())

	return d
}

// Start begins polling. Starting a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		return
	}
	if d.execCtx.Err() != nil {
		d.execCtx, d.execCancel = context.WithCancel(context.Background())
	}

	var loopCtx context.Context
	loopCtx, d.cancel = context.WithCancel(ctx)

	d.loopWG.Add(1)
	go d.pollLoop(loopCtx)

	log.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Dur("claim_lease", d.cfg.ClaimLease).
		Float64("dispatch_rate", d.cfg.Rate).
		Msg("Dispatcher started")
}

// Stop halts polling and waits for in-flight executions until ctx is done,
// after which their handlers are cancelled. Stopping a stopped dispatcher
// is a no-op.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	execCancel := d.execCancel
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	d.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		d.execWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("Shutdown deadline reached, cancelling in-flight executions")
		execCancel()
		<-done
		err = ctx.Err()
	}
	execCancel()

	log.Info().Msg("Dispatcher stopped")
	return err
}

// Running reports whether the poll loop is active.
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel != nil
}

// Wait blocks until every dispatched execution has finished.
func (d *Dispatcher) Wait() {
	d.execWG.Wait()
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	defer d.loopWG.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to dispatch due schedules")
			}
		}
	}
}

// Tick claims due schedules and dispatches each in its own goroutine. It
// returns how many were dispatched.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	now := d.clock.Now()

	schedules, err := d.store.ClaimDue(ctx, now, now.Add(d.cfg.ClaimLease), d.cfg.BatchSize)
	metrics.RecordTick(len(schedules), err)
	if err != nil {
		return 0, fmt.Errorf("claiming due schedules: %w", err)
	}

	d.mu.Lock()
	execCtx := d.execCtx
	d.mu.Unlock()

	dispatched := 0
	for _, schedule := range schedules {
		// The lease expired while a previous run is still going. That run
		// clears the claim when it records its outcome.
		if !d.markRunning(schedule.ID) {
			metrics.RecordSkipped()
			log.Warn().
				Str("schedule_id", schedule.ID).
				Str("schedule_name", schedule.Name).
				Msg("Skipping schedule still running from a previous tick")
			continue
		}

		d.execWG.Add(1)
		go d.dispatch(execCtx, schedule)
		dispatched++
	}

	if dispatched > 0 {
		log.Debug().Int("dispatched", dispatched).Msg("Dispatched due schedules")
	}

	return dispatched, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, schedule *Schedule) {
	defer d.execWG.Done()
	defer d.unmarkRunning(schedule.ID)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			if releaseErr := d.store.ReleaseClaim(context.WithoutCancel(ctx), schedule.ID); releaseErr != nil {
				log.Error().Err(releaseErr).Str("schedule_id", schedule.ID).Msg("Failed to release claim")
			}
			return
		}
	}

	if _, err := d.executor.Execute(ctx, schedule); err != nil {
		log.Error().
			Err(err).
			Str("schedule_id", schedule.ID).
			Str("schedule_name", schedule.Name).
			Msg("Failed to execute schedule")
	}
}

func (d *Dispatcher) markRunning(scheduleID string) bool {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()

	if _, ok := d.running[scheduleID]; ok {
		return false
	}
	d.running[scheduleID] = struct{}{}
	return true
}

func (d *Dispatcher) unmarkRunning(scheduleID string) {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()
	delete(d.running, scheduleID)
}
