// Package stats 根据习惯与打卡映射计算派生指标（XP/等级、完成率、排名、连续天数）。
// 结果从不缓存，每次渲染时重新计算。
package stats

import (
	"math"

	"levelup/internal/model"
)

const (
	XPPerCheck = 15
	XPPerLevel = 100
)

type Level struct {
	Level          int `json:"level"`
	CurrentXP      int `json:"current_xp"`
	XPForNextLevel int `json:"xp_for_next_level"`
	Progress       int `json:"progress"` // 0..99
}

// XPToNextLevel 距下一级还差的 XP
func (l Level) XPToNextLevel() int {
	return XPPerLevel - l.Progress
}

// ComputeLevel 统计全部 true 打卡（不限日期）换算等级，零打卡时等级为 1
func ComputeLevel(checks model.CheckMarks) Level {
	totalChecks := checks.Count()
	xp := totalChecks * XPPerCheck
	level := xp/XPPerLevel + 1
	return Level{
		Level:          level,
		CurrentXP:      xp,
		XPForNextLevel: level * XPPerLevel,
		Progress:       xp % XPPerLevel,
	}
}

// roundPct 四舍五入（远离零），入参非负
func roundPct(num, den int) int {
	if den <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(num) / float64(den)))
}
