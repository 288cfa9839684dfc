package stats

import (
	"sort"
	"time"

	"levelup/internal/model"
)

// HabitStat 单个习惯的终身统计
type HabitStat struct {
	Habit  model.Habit
	Checks int
	Pct    int // 相对基准天数，截断到 [0,100]
}

// RankTopPerformer 终身打卡最多的习惯，并列时取迭代顺序中的第一个。
// 只有习惯列表为空时 ok 为 false。
func RankTopPerformer(habits []model.Habit, checks model.CheckMarks) (top model.Habit, count int, ok bool) {
	best := -1
	for _, h := range habits {
		n := checks.CountFor(h.ID)
		if n > best {
			best = n
			top = h
			ok = true
		}
	}
	if !ok {
		return model.Habit{}, 0, false
	}
	return top, best, true
}

// HabitConsistency 前 limit 个习惯的终身打卡数及其相对 benchmarkDays 的占比。
// limit <= 0 表示不限。
func HabitConsistency(habits []model.Habit, checks model.CheckMarks, benchmarkDays, limit int) []HabitStat {
	if limit <= 0 || limit > len(habits) {
		limit = len(habits)
	}
	out := make([]HabitStat, 0, limit)
	for _, h := range habits[:limit] {
		n := checks.CountFor(h.ID)
		pct := roundPct(n, benchmarkDays)
		if pct > 100 {
			pct = 100
		}
		out = append(out, HabitStat{Habit: h, Checks: n, Pct: pct})
	}
	return out
}

// CurrentStreak 截至 today 的连续打卡天数。今天尚未打卡时从昨天开始算。
func CurrentStreak(checks model.CheckMarks, id model.HabitID, today time.Time) int {
	today = today.In(time.Local)
	d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.Local)
	if !checks.Has(model.CheckKey(id, model.FormatDate(d))) {
		d = d.AddDate(0, 0, -1)
	}
	streak := 0
	for checks.Has(model.CheckKey(id, model.FormatDate(d))) {
		streak++
		d = d.AddDate(0, 0, -1)
	}
	return streak
}

// LongestStreak 历史最长连续打卡天数
func LongestStreak(checks model.CheckMarks, id model.HabitID) int {
	var days []time.Time
	for _, s := range checks.DatesFor(id) {
		t, err := model.ParseDate(s)
		if err != nil {
			continue
		}
		days = append(days, t)
	}
	if len(days) == 0 {
		return 0
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i-1].AddDate(0, 0, 1).Equal(days[i]) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
