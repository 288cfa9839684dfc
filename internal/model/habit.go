package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// HabitID 远端存储分配的习惯 ID，对本地而言是不透明的
type HabitID string

// UnmarshalJSON 同时接受数字和字符串形式的 id（参考存储使用 INTEGER 主键）
func (id *HabitID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = HabitID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("habit id: %w", err)
	}
	*id = HabitID(n.String())
	return nil
}

// MarshalJSON 纯数字 id 按数字输出，其余按字符串输出
func (id HabitID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id HabitID) numeric() bool {
	if id == "" {
		return false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	// "007"、"+5" 这类不是规范的 JSON 数字
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

func (id HabitID) String() string {
	return string(id)
}

type Habit struct {
	ID    HabitID `json:"id"`
	Name  string  `json:"name"`
	Icon  string  `json:"icon,omitempty"`
	Color string  `json:"color,omitempty"`
}

// FindHabit 按 id 查找习惯，返回其在序列中的位置
func FindHabit(habits []Habit, id HabitID) (int, bool) {
	for i, h := range habits {
		if h.ID == id {
			return i, true
		}
	}
	return -1, false
}
