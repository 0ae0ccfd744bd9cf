package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show schedule and execution statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := s.Manager.GetScheduleStatistics(cmd.Context())
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "Schedules:   %d total, %d active, %d paused\n",
			stats.TotalSchedules, stats.ActiveSchedules, stats.PausedSchedules)
		fmt.Fprintf(w, "Executions:  %d total, %d succeeded, %d failed, %d timed out\n",
			stats.TotalExecutions, stats.SuccessfulExecutions, stats.FailedExecutions, stats.TimedOutExecutions)
		fmt.Fprintf(w, "Success:     %.1f%%\n", stats.SuccessRate)
	})
}
