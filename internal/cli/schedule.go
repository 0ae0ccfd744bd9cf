package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/staybook/schedulerd/internal/executions"
	"github.com/staybook/schedulerd/internal/scheduler"
)

var (
	scheduleFile       string
	listStatus         string
	listType           string
	listName           string
	listLimit          int
	executionsSchedule string
	executionsLimit    int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage schedules",
	Long: `Create, inspect and control schedules.

Examples:
  schedulerd schedule create -f nightly.yaml
  schedulerd schedule list --status active --name 'report-*'
  schedulerd schedule pause 7f0c...
  schedulerd schedule executions --schedule 7f0c... --limit 20`,
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule from a YAML or JSON file",
	Long: `Create a schedule from a YAML or JSON document ("-" reads stdin).

Example:
  name: nightly-report
  type: daily
  action_type: webhook
  action_config:
    url: https://example.com/hooks/report
  config:
    timezone: Europe/Berlin
    start_date: 2024-01-01T02:00:00+01:00
    recurrence_pattern: weekdays`,
	Args: cobra.NoArgs,
	RunE: runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runScheduleList,
}

var scheduleGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleGet,
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Apply a partial update from a YAML or JSON file",
	Long: `Apply a partial update. Only the fields present in the document change.
Changing type or config recomputes next_run.`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleUpdate,
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleTransition("pause", (*scheduler.Manager).Pause),
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleTransition("resume", (*scheduler.Manager).Resume),
}

var scheduleCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a schedule permanently",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleTransition("cancel", (*scheduler.Manager).Cancel),
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a schedule and its execution history",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "Run a schedule now, outside the dispatch loop",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleTrigger,
}

var scheduleExecutionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List executions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runScheduleExecutions,
}

func init() {
	scheduleCreateCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "schedule file (YAML or JSON, - for stdin)")
	_ = scheduleCreateCmd.MarkFlagRequired("file")
	scheduleUpdateCmd.Flags().StringVarP(&scheduleFile, "file", "f", "", "update file (YAML or JSON, - for stdin)")
	_ = scheduleUpdateCmd.MarkFlagRequired("file")

	scheduleListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (active, paused, completed, cancelled)")
	scheduleListCmd.Flags().StringVar(&listType, "type", "", "filter by schedule type")
	scheduleListCmd.Flags().StringVar(&listName, "name", "", "filter by name glob, e.g. 'report-*'")
	scheduleListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of schedules (0 for all)")

	scheduleExecutionsCmd.Flags().StringVar(&executionsSchedule, "schedule", "", "only executions of this schedule")
	scheduleExecutionsCmd.Flags().IntVar(&executionsLimit, "limit", 50, "maximum number of executions (0 for all)")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleGetCmd)
	scheduleCmd.AddCommand(scheduleUpdateCmd)
	scheduleCmd.AddCommand(schedulePauseCmd)
	scheduleCmd.AddCommand(scheduleResumeCmd)
	scheduleCmd.AddCommand(scheduleCancelCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleCmd.AddCommand(scheduleTriggerCmd)
	scheduleCmd.AddCommand(scheduleExecutionsCmd)

	rootCmd.AddCommand(scheduleCmd)
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	var spec scheduler.ScheduleSpec
	if err := decodeFile(scheduleFile, cmd.InOrStdin(), &spec); err != nil {
		return err
	}

	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	schedule, err := s.Manager.Create(cmd.Context(), spec)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), schedule, func(w io.Writer) {
		printSchedule(w, schedule)
	})
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	filter := scheduler.ScheduleFilter{
		Status:   scheduler.Status(listStatus),
		Type:     scheduler.ScheduleType(listType),
		NameGlob: listName,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return fmt.Errorf("unknown schedule type %q", listType)
	}

	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	schedules, err := s.Manager.GetSchedules(cmd.Context(), filter, listLimit)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), schedules, func(w io.Writer) {
		if len(schedules) == 0 {
			fmt.Fprintln(w, "No schedules found.")
			return
		}
		fmt.Fprintf(w, "%-36s %-24s %-8s %-10s %-20s %-6s\n", "ID", "NAME", "TYPE", "STATUS", "NEXT RUN", "RUNS")
		for _, sc := range schedules {
			fmt.Fprintf(w, "%-36s %-24s %-8s %-10s %-20s %-6d\n",
				sc.ID, truncate(sc.Name, 24), sc.Type, sc.Status, formatTime(sc.NextRun), sc.RunCount)
		}
	})
}

func runScheduleGet(cmd *cobra.Command, args []string) error {
	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	schedule, err := s.Manager.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), schedule, func(w io.Writer) {
		printSchedule(w, schedule)
	})
}

func runScheduleUpdate(cmd *cobra.Command, args []string) error {
	var update scheduler.ScheduleUpdate
	if err := decodeFile(scheduleFile, cmd.InOrStdin(), &update); err != nil {
		return err
	}

	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	schedule, err := s.Manager.Update(cmd.Context(), args[0], update)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), schedule, func(w io.Writer) {
		printSchedule(w, schedule)
	})
}

type transitionFunc func(m *scheduler.Manager, ctx context.Context, id string) (bool, error)

// runScheduleTransition adapts a lifecycle method to a command. A false
// result means the schedule was not in a state the transition applies to.
func runScheduleTransition(verb string, fn transitionFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, db, err := openScheduler(appConfig)
		if err != nil {
			return err
		}
		defer db.Close()

		id := args[0]
		ok, err := fn(s.Manager, cmd.Context(), id)
		if err != nil {
			return err
		}

		schedule, err := s.Manager.Get(cmd.Context(), id)
		if err != nil {
			return err
		}

		result := struct {
			Changed  bool                `json:"changed" yaml:"changed"`
			Schedule *scheduler.Schedule `json:"schedule" yaml:"schedule"`
		}{ok, schedule}

		return render(cmd.OutOrStdout(), result, func(w io.Writer) {
			if ok {
				fmt.Fprintf(w, "✓ Schedule %s: %s succeeded (status %s)\n", id, verb, schedule.Status)
			} else {
				fmt.Fprintf(w, "○ Schedule %s: nothing to %s (status %s)\n", id, verb, schedule.Status)
			}
		})
	}
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := s.Manager.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Schedule %s deleted\n", args[0])
	return nil
}

func runScheduleTrigger(cmd *cobra.Command, args []string) error {
	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	exec, err := s.Manager.TriggerNow(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), exec, func(w io.Writer) {
		printExecutions(w, []*executions.Execution{exec})
	})
}

func runScheduleExecutions(cmd *cobra.Command, args []string) error {
	s, db, err := openScheduler(appConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	execs, err := s.Manager.GetScheduleExecutions(cmd.Context(), executionsSchedule, executionsLimit)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), execs, func(w io.Writer) {
		if len(execs) == 0 {
			fmt.Fprintln(w, "No executions found.")
			return
		}
		printExecutions(w, execs)
	})
}

func printSchedule(w io.Writer, s *scheduler.Schedule) {
	fmt.Fprintf(w, "ID:          %s\n", s.ID)
	fmt.Fprintf(w, "Name:        %s\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", s.Description)
	}
	fmt.Fprintf(w, "Type:        %s\n", s.Type)
	fmt.Fprintf(w, "Status:      %s\n", s.Status)
	fmt.Fprintf(w, "Action:      %s\n", s.ActionType)
	fmt.Fprintf(w, "Timezone:    %s\n", s.Config.Timezone)
	if s.Config.CronExpression != "" {
		fmt.Fprintf(w, "Cron:        %s\n", s.Config.CronExpression)
	}
	fmt.Fprintf(w, "Next run:    %s\n", formatTime(s.NextRun))
	fmt.Fprintf(w, "Last run:    %s\n", formatTime(s.LastRun))
	if s.MaxRuns != nil {
		fmt.Fprintf(w, "Runs:        %d of %d\n", s.RunCount, *s.MaxRuns)
	} else {
		fmt.Fprintf(w, "Runs:        %d\n", s.RunCount)
	}
	if s.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "Failures:    %d consecutive\n", s.ConsecutiveFailures)
	}
}

func printExecutions(w io.Writer, execs []*executions.Execution) {
	fmt.Fprintf(w, "%-36s %-36s %-10s %-20s %-8s %s\n", "ID", "SCHEDULE", "STATUS", "STARTED", "MS", "ERROR")
	for _, e := range execs {
		started := e.StartedAt
		fmt.Fprintf(w, "%-36s %-36s %-10s %-20s %-8d %s\n",
			e.ID, e.ScheduleID, e.Status, formatTime(&started), e.DurationMs, truncate(e.ErrorMessage, 60))
	}
}
