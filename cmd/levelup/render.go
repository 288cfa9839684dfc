package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"levelup/internal/calendar"
	"levelup/internal/stats"
	"levelup/internal/tracker"
	"levelup/pkg/config"
)

// renderDashboard 等级卡片、最近几天的完成情况以及分析面板
func renderDashboard(w io.Writer, snap tracker.Snapshot, now time.Time, cfg config.TrackerConfig) {
	lvl := stats.ComputeLevel(snap.Checks)
	fmt.Fprintf(w, "LEVEL %d  %d XP  [%s] %d/%d  %d XP to Level %d\n",
		lvl.Level, lvl.CurrentXP, bar(lvl.Progress, 20), lvl.Progress, stats.XPPerLevel,
		lvl.XPToNextLevel(), lvl.Level+1)
	if snap.Cached {
		fmt.Fprintln(w, "(offline: showing cached data)")
	}
	fmt.Fprintln(w)

	for _, d := range calendar.RecentDaysFrom(now, cfg.RecentDays) {
		marker := ""
		if calendar.IsToday(d.Date, now) {
			marker = "  (today)"
		}
		fmt.Fprintf(w, "%s %s%s  %d%%\n", d.Weekday, d.Date, marker,
			stats.DailyCompletionPct(snap.Habits, snap.Checks, d.Date))
		for _, h := range snap.Habits {
			box := "[ ]"
			if snap.Checked(h.ID, d.Date) {
				box = "[x]"
			}
			fmt.Fprintf(w, "  %s %s\n", box, h.Name)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Habit Consistency (Lifetime)")
	for _, st := range stats.HabitConsistency(snap.Habits, snap.Checks, cfg.BenchmarkDays, cfg.ConsistencyLimit) {
		fmt.Fprintf(w, "  %-20s [%s] %3d%%\n", truncate(st.Habit.Name, 20), bar(st.Pct, 20), st.Pct)
	}

	overall := stats.OverallProgressPct(snap.Habits, snap.Checks, cfg.BenchmarkDays)
	fmt.Fprintf(w, "Overall %d%%  %s\n", overall, stats.Verdict(overall))
	if top, n, ok := stats.RankTopPerformer(snap.Habits, snap.Checks); ok {
		fmt.Fprintf(w, "Top performer: %s (%d checks, current streak %d)\n",
			top.Name, n, stats.CurrentStreak(snap.Checks, top.ID, now))
	}
}

// renderTracker 月视图：每个习惯一行，每天一列，最后是完成率
func renderTracker(w io.Writer, snap tracker.Snapshot, year int, month time.Month) {
	days := calendar.MonthDays(year, month)
	dates := calendar.MonthDates(days)

	fmt.Fprintln(w, calendar.MonthTitle(year, month))

	var head, nums strings.Builder
	for _, d := range days {
		fmt.Fprintf(&head, "%-3s", calendar.ShortWeekday(d.DayOfWeek))
		fmt.Fprintf(&nums, "%-3d", d.Day)
	}
	fmt.Fprintf(w, "%-24s%s %%\n", "", head.String())
	fmt.Fprintf(w, "%-24s%s\n", "TASK / HABIT", nums.String())

	for _, h := range snap.Habits {
		var row strings.Builder
		for _, d := range dates {
			if snap.Checked(h.ID, d) {
				row.WriteString("x  ")
			} else {
				row.WriteString(".  ")
			}
		}
		label := fmt.Sprintf("%s %s", h.ID, truncate(h.Name, 18))
		fmt.Fprintf(w, "%-24s%s%d%%\n", label, row.String(), stats.HabitCompletionPct(snap.Checks, h.ID, dates))
	}
}

func bar(pct, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
