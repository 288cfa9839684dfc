// Package calendar 生成看板使用的日期区间。所有函数都是纯函数，
// 依赖 wall-clock 的只有 RecentDays / CurrentMonthDays，它们在每次调用时读取当前时间。
package calendar

import (
	"fmt"
	"time"

	"levelup/internal/model"
)

var (
	// 周日为 0
	fullDayNames  = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	shortDayNames = [7]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}
)

// RecentDay 最近 N 天中的一天
type RecentDay struct {
	Weekday string // 完整星期名
	Date    string // YYYY-MM-DD
}

// MonthDay 某月中的一天
type MonthDay struct {
	Day       int    // 日 1..31
	Date      string // YYYY-MM-DD
	DayOfWeek int    // 0=Sunday .. 6=Saturday
}

// RecentDays 以今天结尾（含）的 n 天，旧的在前
func RecentDays(n int) []RecentDay {
	return RecentDaysFrom(time.Now(), n)
}

// RecentDaysFrom 以 now 所在日期结尾的 n 天
func RecentDaysFrom(now time.Time, n int) []RecentDay {
	if n <= 0 {
		return []RecentDay{}
	}
	now = now.In(time.Local)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

	days := make([]RecentDay, 0, n)
	for i := n - 1; i >= 0; i-- {
		// AddDate 处理跨月、跨年以及夏令时
		d := today.AddDate(0, 0, -i)
		days = append(days, RecentDay{
			Weekday: fullDayNames[d.Weekday()],
			Date:    model.FormatDate(d),
		})
	}
	return days
}

// DaysInMonth 返回某月天数（含闰年二月）
func DaysInMonth(year int, month time.Month) int {
	// 下个月第 0 天即本月最后一天，time.Date 会做归一化，12 月自动进位到下一年
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthDays 某月所有日期，按日期升序
func MonthDays(year int, month time.Month) []MonthDay {
	n := DaysInMonth(year, month)
	days := make([]MonthDay, 0, n)
	for i := 1; i <= n; i++ {
		d := time.Date(year, month, i, 0, 0, 0, 0, time.Local)
		days = append(days, MonthDay{
			Day:       i,
			Date:      fmt.Sprintf("%04d-%02d-%02d", year, int(month), i),
			DayOfWeek: int(d.Weekday()),
		})
	}
	return days
}

// CurrentMonthDays now 所在月份的全部日期
func CurrentMonthDays(now time.Time) []MonthDay {
	now = now.In(time.Local)
	return MonthDays(now.Year(), now.Month())
}

// IsToday 判断 date 是否为 now 所在日期
func IsToday(date string, now time.Time) bool {
	return date == model.FormatDate(now)
}

// ShortWeekday 两个字母的星期缩写，index 超出范围返回空串
func ShortWeekday(dayOfWeek int) string {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return ""
	}
	return shortDayNames[dayOfWeek]
}

// MonthTitle 例如 "October 2026"
func MonthTitle(year int, month time.Month) string {
	return fmt.Sprintf("%s %d", month.String(), year)
}

// RecentDates 提取日期字符串，供统计函数使用
func RecentDates(days []RecentDay) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Date)
	}
	return out
}

// MonthDates 同上，用于月视图
func MonthDates(days []MonthDay) []string {
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Date)
	}
	return out
}
