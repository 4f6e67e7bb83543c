package models

import "fmt"

// Status 分镜/角色的生成状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// transitions 合法状态迁移表
var transitions = map[Status][]Status{
	StatusPending:    {StatusGenerating, StatusCompleted},
	StatusGenerating: {StatusCompleted, StatusError},
	StatusCompleted:  {StatusPending, StatusCompleted},
	StatusError:      {StatusGenerating, StatusCompleted, StatusPending},
}

// Valid 是否为已知状态
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition 判断 s -> to 是否合法
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 校验并返回目标状态
func Transition(from, to Status) (Status, error) {
	if !from.CanTransition(to) {
		return from, NewValidationError(fmt.Sprintf("illegal status transition %s -> %s", from, to))
	}
	return to, nil
}

// Normalize 导入数据时未知/空状态按 pending 处理
func (s Status) Normalize() Status {
	if s.Valid() {
		return s
	}
	return StatusPending
}
