package cli

import (
	"fmt"

	"github.com/staybook/schedulerd/internal/actions"
	"github.com/staybook/schedulerd/internal/config"
	"github.com/staybook/schedulerd/internal/database"
	"github.com/staybook/schedulerd/internal/scheduler"
)

// openScheduler opens the configured database and builds a scheduler with
// the built-in actions registered. The caller closes the database.
func openScheduler(cfg *config.Config) (*scheduler.Scheduler, *database.DB, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	registry := scheduler.NewRegistry()
	actions.Register(registry)

	return scheduler.New(db, registry, cfg.Scheduler, nil), db, nil
}
