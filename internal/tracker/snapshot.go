package tracker

import "levelup/internal/model"

// Snapshot 某一时刻习惯与打卡的只读视图。
// 每次变更都会整体替换 Snapshot，调用方不能原地修改其中的切片或映射。
type Snapshot struct {
	Habits []model.Habit    `json:"habits"`
	Checks model.CheckMarks `json:"checks"`

	// Cached 为 true 表示远端不可用，数据来自快照缓存
	Cached bool `json:"-"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Habits: []model.Habit{}, Checks: model.CheckMarks{}}
}

// Checked 读取某个习惯某天是否打卡
func (s Snapshot) Checked(id model.HabitID, date string) bool {
	return s.Checks.Has(model.CheckKey(id, date))
}

// pruneOrphans 丢弃不属于任何习惯的打卡键
func pruneOrphans(habits []model.Habit, checks model.CheckMarks) model.CheckMarks {
	known := make(map[model.HabitID]struct{}, len(habits))
	for _, h := range habits {
		known[h.ID] = struct{}{}
	}
	out := make(model.CheckMarks, len(checks))
	for key, v := range checks {
		if !v {
			continue
		}
		id, _, ok := model.ParseCheckKey(key)
		if !ok {
			continue
		}
		if _, exists := known[id]; exists {
			out[key] = true
		}
	}
	return out
}
