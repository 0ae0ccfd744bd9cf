package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/staybook/schedulerd/internal/database"
	"github.com/staybook/schedulerd/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Database migration commands for schedulerd.

The schema is embedded in the binary and applied automatically whenever
the database is opened.

Examples:
  schedulerd migrate status   Show applied migrations`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Args:  cobra.NoArgs,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	db, err := database.Open(&appConfig.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	status, err := migrations.Status(cmd.Context(), db.DB)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	return render(cmd.OutOrStdout(), status, func(w io.Writer) {
		for _, m := range status {
			if m.Applied {
				fmt.Fprintf(w, "  ✓ %s (applied %s)\n", m.ID, formatTime(m.AppliedAt))
			} else {
				fmt.Fprintf(w, "  ○ %s\n", m.ID)
			}
		}
	})
}
