// Package scheduler computes, stores and dispatches recurring schedules.
package scheduler

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/database"
	"github.com/staybook/schedulerd/internal/executions"
)

// Scheduler wires the store, calculator, executor, dispatcher and
// maintenance jobs for one database.
type Scheduler struct {
	Store      *SQLStore
	Calculator *Calculator
	Registry   *Registry
	Manager    *Manager
	Executor   *Executor
	Dispatcher *Dispatcher
	Recoverer  *Recoverer
	Pruner     *executions.Pruner

	cfg config.SchedulerConfig
}

// New creates a scheduler. A nil clock uses the system clock.
func New(db *database.DB, registry *Registry, cfg config.SchedulerConfig, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}

	store := NewSQLStore(db)
	calc := NewCalculator()
	executor := NewExecutor(store, calc, registry, clock, cfg.HandlerTimeout)

	return &Scheduler{
		Store:      store,
		Calculator: calc,
		Registry:   registry,
		Manager:    NewManager(store, calc, executor, clock),
		Executor:   executor,
		Dispatcher: NewDispatcher(store, executor, clock, DispatcherConfig{
			PollInterval: cfg.PollInterval,
			BatchSize:    cfg.BatchSize,
			ClaimLease:   cfg.ClaimLease,
			Rate:         cfg.DispatchRate,
			Burst:        cfg.DispatchBurst,
		}),
		Recoverer: NewRecoverer(store, clock),
		Pruner:    executions.NewPruner(store.Executions(), cfg.ExecutionRetention, cfg.CleanupInterval),
		cfg:       cfg,
	}
}

// Start recovers stale state when configured, then starts the dispatcher
// and the execution pruner.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.RecoverStale {
		if _, err := s.Recoverer.RecoverStale(ctx, s.cfg.ClaimLease); err != nil {
			return err
		}
	}

	s.Dispatcher.Start(ctx)
	s.Pruner.Start(ctx)
	return nil
}

// Stop stops the pruner and the dispatcher, waiting for in-flight
// executions until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.Pruner.Stop()
	err := s.Dispatcher.Stop(ctx)
	log.Info().Msg("Scheduler stopped")
	return err
}
