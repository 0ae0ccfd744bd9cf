package executions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/staybook/schedulerd/internal/metrics"
)

// Pruner periodically removes settled executions past their retention.
type Pruner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPruner creates a pruner. A zero retention defaults to 30 days and a
// zero interval to one hour.
func NewPruner(store *Store, retention, interval time.Duration) *Pruner {
	if retention == 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval == 0 {
		interval = time.Hour
	}

	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins background cleanup. Calling Start twice is a no-op.
func (p *Pruner) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.cleanupLoop(ctx)

	log.Info().
		Dur("retention", p.retention).
		Dur("interval", p.interval).
		Msg("Execution pruner started")
}

// Stop halts background cleanup and waits for an in-progress pass.
func (p *Pruner) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

// Prune deletes settled executions older than the retention window.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	deleted, err := p.store.DeleteOlderThan(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		metrics.RecordPruned(deleted)
		log.Info().Int64("deleted", deleted).Msg("Pruned old executions")
	}

	return deleted, nil
}

func (p *Pruner) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Prune(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to prune old executions")
			}
		}
	}
}
