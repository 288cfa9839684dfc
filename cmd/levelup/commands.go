package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"levelup/internal/model"
	"levelup/internal/tracker"
)

var trackerMonth string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show level, recent days and performance analytics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		renderDashboard(cmd.OutOrStdout(), s.store.Snapshot(), time.Now(), s.cfg.Tracker)
		return nil
	},
}

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Show the monthly habit matrix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		year, month, err := parseMonth(trackerMonth, time.Now())
		if err != nil {
			return err
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		renderTracker(cmd.OutOrStdout(), s.store.Snapshot(), year, month)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a new habit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		h, err := s.store.AddHabit(cmd.Context(), args[0])
		if errors.Is(err, tracker.ErrEmptyName) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Habit added: %s (%s)\n", h.Name, h.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <habit-id>",
	Short: "Delete a habit and all of its check marks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.store.DeleteHabit(cmd.Context(), model.HabitID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Habit deleted: %s\n", args[0])
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <habit-id> [date]",
	Short: "Toggle the check mark of a habit (default: today)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := model.FormatDate(time.Now())
		if len(args) == 2 {
			date = args[1]
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		id := model.HabitID(args[0])
		// 进程即将退出，这里等待远端结果
		if err := <-s.store.ToggleCheck(cmd.Context(), id, date); err != nil {
			return err
		}
		state := "unchecked"
		if s.store.Snapshot().Checked(id, date) {
			state = "checked"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s on %s: %s\n", id, date, state)
		return nil
	},
}

func init() {
	trackerCmd.Flags().StringVarP(&trackerMonth, "month", "m", "", "Month to show as YYYY-MM (default: current month)")
}

// parseMonth 解析 YYYY-MM，空串表示 now 所在月份
func parseMonth(s string, now time.Time) (int, time.Month, error) {
	if s == "" {
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}
