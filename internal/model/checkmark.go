package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout 打卡日期的规范格式（本地时区，无时间部分）
const DateLayout = "2006-01-02"

// 键的日期后缀 "-YYYY-MM-DD" 定长
const dateSuffixLen = len(DateLayout) + 1

// FormatDate 按本地时区格式化日期
func FormatDate(t time.Time) string {
	return t.In(time.Local).Format(DateLayout)
}

// ParseDate 解析 YYYY-MM-DD，返回本地时区零点
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// CheckKey 组合键: habitID + "-" + date
func CheckKey(id HabitID, date string) string {
	return string(id) + "-" + date
}

// ParseCheckKey 拆分组合键。日期后缀定长，所以 id 本身可以包含 "-"
func ParseCheckKey(key string) (HabitID, string, bool) {
	if len(key) <= dateSuffixLen || key[len(key)-dateSuffixLen] != '-' {
		return "", "", false
	}
	date := key[len(key)-dateSuffixLen+1:]
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", "", false
	}
	return HabitID(key[:len(key)-dateSuffixLen]), date, true
}

// CheckMarks 打卡映射。缺失的键等价于 false
type CheckMarks map[string]bool

// Has 读取 (habitID, date) 是否已打卡
func (c CheckMarks) Has(key string) bool {
	return c[key]
}

// Count 全部 true 的数量
func (c CheckMarks) Count() int {
	n := 0
	for _, v := range c {
		if v {
			n++
		}
	}
	return n
}

// CountFor 某个习惯全部 true 的数量（不限日期）
func (c CheckMarks) CountFor(id HabitID) int {
	n := 0
	for key, v := range c {
		if !v {
			continue
		}
		if hid, _, ok := ParseCheckKey(key); ok && hid == id {
			n++
		}
	}
	return n
}

// DatesFor 某个习惯所有已打卡日期
func (c CheckMarks) DatesFor(id HabitID) []string {
	var dates []string
	for key, v := range c {
		if !v {
			continue
		}
		if hid, date, ok := ParseCheckKey(key); ok && hid == id {
			dates = append(dates, date)
		}
	}
	return dates
}

// Clone 复制并丢弃 false 项
func (c CheckMarks) Clone() CheckMarks {
	out := make(CheckMarks, len(c))
	for k, v := range c {
		if v {
			out[k] = true
		}
	}
	return out
}

// With 返回设置了 key 的副本，value=false 时删除该键
func (c CheckMarks) With(key string, value bool) CheckMarks {
	out := c.Clone()
	if value {
		out[key] = true
	} else {
		delete(out, key)
	}
	return out
}

// WithoutHabit 返回去掉某习惯全部打卡的副本
func (c CheckMarks) WithoutHabit(id HabitID) CheckMarks {
	out := make(CheckMarks, len(c))
	for key, v := range c {
		if !v {
			continue
		}
		if hid, _, ok := ParseCheckKey(key); ok && hid == id {
			continue
		}
		// 兜底：无法解析的键按前缀匹配
		if strings.HasPrefix(key, string(id)+"-") && !isParsable(key) {
			continue
		}
		out[key] = true
	}
	return out
}

func isParsable(key string) bool {
	_, _, ok := ParseCheckKey(key)
	return ok
}
