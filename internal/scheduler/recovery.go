package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// AbandonedMessage is the error recorded on executions closed by recovery.
const AbandonedMessage = "abandoned by previous process"

// RecoveryReport counts what RecoverStale cleaned up.
type RecoveryReport struct {
	AbandonedExecutions int64
	ReleasedClaims      int64
}

// Recoverer repairs state left behind by a process that stopped without
// settling its executions.
type Recoverer struct {
	store Store
	clock Clock
}

// NewRecoverer creates a recoverer.
func NewRecoverer(store Store, clock Clock) *Recoverer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Recoverer{store: store, clock: clock}
}

// RecoverStale fails executions that have been running longer than
// olderThan and clears claims whose lease has expired, making their
// schedules due again.
func (r *Recoverer) RecoverStale(ctx context.Context, olderThan time.Duration) (RecoveryReport, error) {
	var report RecoveryReport
	now := r.clock.Now()

	abandoned, err := r.store.FailStaleExecutions(ctx, now.Add(-olderThan), now, AbandonedMessage)
	if err != nil {
		return report, fmt.Errorf("failing stale executions: %w", err)
	}
	report.AbandonedExecutions = abandoned

	released, err := r.store.ClearExpiredClaims(ctx, now)
	if err != nil {
		return report, fmt.Errorf("clearing expired claims: %w", err)
	}
	report.ReleasedClaims = released

	if abandoned > 0 || released > 0 {
		log.Info().
			Int64("abandoned_executions", abandoned).
			Int64("released_claims", released).
			Msg("Recovered state from previous process")
	}

	return report, nil
}
