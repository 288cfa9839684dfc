package stats

import "levelup/internal/model"

// DailyCompletionPct 某天完成的习惯占比；没有习惯时为 0
func DailyCompletionPct(habits []model.Habit, checks model.CheckMarks, date string) int {
	completed := 0
	for _, h := range habits {
		if checks.Has(model.CheckKey(h.ID, date)) {
			completed++
		}
	}
	return roundPct(completed, len(habits))
}

// HabitCompletionPct 某习惯在给定日期区间内的完成率；区间为空时为 0
func HabitCompletionPct(checks model.CheckMarks, id model.HabitID, days []string) int {
	done := 0
	for _, d := range days {
		if checks.Has(model.CheckKey(id, d)) {
			done++
		}
	}
	return roundPct(done, len(days))
}

// OverallProgressPct 全部打卡数 / (习惯数 * 基准天数)，分母最小为 1
func OverallProgressPct(habits []model.Habit, checks model.CheckMarks, benchmarkDaysPerHabit int) int {
	den := len(habits) * benchmarkDaysPerHabit
	if den < 1 {
		den = 1
	}
	return roundPct(checks.Count(), den)
}

// Verdict 总体表现评语
func Verdict(overallPct int) string {
	if overallPct > 50 {
		return "Solid performance."
	}
	return "Needs improvement."
}
