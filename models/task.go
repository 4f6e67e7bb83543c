package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// 任务类型
const (
	TaskTypeScenePreview   = "scene_preview"
	TaskTypeCharacterImage = "character_image"
	TaskTypeFinalVideo     = "final_video"
)

// 任务状态
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusSuccess    = "success"
	TaskStatusFailed     = "failed"
)

// Task 一次后台生成任务的记录
type Task struct {
	ID         string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SessionID  string     `gorm:"type:varchar(64);index" json:"sessionId"`
	TargetID   string     `gorm:"type:varchar(128)" json:"targetId"`
	Type       string     `gorm:"type:varchar(32)" json:"type"`
	Status     string     `gorm:"type:varchar(16)" json:"status"`
	Message    string     `json:"message"`
	Result     JSONMap    `gorm:"type:text" json:"result"`
	Error      string     `json:"error"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (Task) TableName() string {
	return "tasks"
}

// CreateTaskGorm 写入新任务
func CreateTaskGorm(db *gorm.DB, task *Task) error {
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if err := db.Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTaskByIDGorm 按 ID 查询任务
func GetTaskByIDGorm(db *gorm.DB, id string) (*Task, error) {
	var task Task
	if err := db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasksBySession 按创建时间倒序返回会话的任务
func ListTasksBySession(db *gorm.DB, sessionID string, limit int) ([]Task, error) {
	var tasks []Task
	q := db.Where("session_id = ?", sessionID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus 更新任务状态，终态时记录完成时间
func (t *Task) UpdateStatus(db *gorm.DB, status string, result JSONMap, errMsg string) error {
	now := time.Now()
	t.Status = status
	t.Error = errMsg
	if result != nil {
		t.Result = result
	}
	switch status {
	case TaskStatusProcessing:
		t.StartedAt = &now
	case TaskStatusSuccess, TaskStatusFailed:
		t.FinishedAt = &now
	}
	return db.Save(t).Error
}

// FailUnfinishedTasks 把 pending 和 processing 的任务置为 failed，返回影响行数。
// 会话只在内存里，重启后这些任务不可能再完成
func FailUnfinishedTasks(db *gorm.DB, reason string) (int64, error) {
	now := time.Now()
	res := db.Model(&Task{}).
		Where("status IN ?", []string{TaskStatusPending, TaskStatusProcessing}).
		Updates(map[string]any{"status": TaskStatusFailed, "error": reason, "finished_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("fail unfinished tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
