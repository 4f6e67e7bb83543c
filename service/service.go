// Package service 把向导、流水线、实体存储和任务记录串起来，供 HTTP 层调用。
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"storyboard-server/models"
	"storyboard-server/store"
	"storyboard-server/transfer"
	"storyboard-server/wizard"
)

const recentTaskLimit = 20

type Service struct {
	DB         *gorm.DB
	Store      *store.Store
	Sessions   *Sessions
	Dispatcher Dispatcher
	log        *zap.Logger
}

func New(db *gorm.DB, st *store.Store, sessions *Sessions, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{DB: db, Store: st, Sessions: sessions, log: log.Named("service")}
	s.Dispatcher = NewInlineDispatcher(s.RunTask, s.log)
	return s
}

// SubmitStory 提交故事，同时写入故事库
func (s *Service) SubmitStory(ctx context.Context, sessionID string, story models.Story) (wizard.State, error) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return wizard.State{}, err
	}
	st, err := sess.Wizard.SubmitStory(story)
	if err != nil {
		return st, err
	}
	if _, err := s.Store.SaveStory(ctx, *st.Project.Story); err != nil {
		s.log.Warn("Story not saved to library", zap.String("story_id", st.Project.Story.ID), zap.Error(err))
	}
	return st, nil
}

// SubmitCharacters 提交角色。ids 非空时从角色库中按 ID 选取
func (s *Service) SubmitCharacters(ctx context.Context, sessionID string, ids []string, chars []models.Character) (wizard.State, error) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return wizard.State{}, err
	}
	if len(ids) > 0 {
		chars, err = s.Store.CharactersByID(ctx, ids)
		if err != nil {
			return wizard.State{}, err
		}
		current := make(map[string]models.Character)
		for _, c := range sess.Wizard.Project().Characters {
			current[c.ID] = c
		}
		// 已选角色保留生成过的立绘
		for i, c := range chars {
			if prev, ok := current[c.ID]; ok && prev.Prompt == c.Prompt {
				chars[i] = prev
			}
		}
	}
	return sess.Wizard.SubmitCharacters(chars)
}

// ImportProject 整份替换会话项目
func (s *Service) ImportProject(sessionID string, data []byte) (wizard.State, error) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return wizard.State{}, err
	}
	project, err := transfer.ImportProject(data)
	if err != nil {
		return wizard.State{}, err
	}
	return sess.Wizard.Import(project), nil
}

func (s *Service) summarySession(sessionID string) (*Session, error) {
	sess, err := s.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Wizard.RequireSummary(); err != nil {
		return nil, err
	}
	return sess, nil
}

// SummarySession 返回处于汇总步骤的会话
func (s *Service) SummarySession(sessionID string) (*Session, error) {
	return s.summarySession(sessionID)
}

// StartScenePreview 提交分镜预览任务，并返回提交后的分镜。已在生成时返回 nil 任务
func (s *Service) StartScenePreview(ctx context.Context, sessionID, sceneID string) (*models.Task, models.Scene, error) {
	sess, err := s.summarySession(sessionID)
	if err != nil {
		return nil, models.Scene{}, err
	}
	p := sess.Pipeline
	started, err := p.BeginScenePreview(sceneID)
	if err != nil {
		return nil, models.Scene{}, err
	}
	var task *models.Task
	if started {
		task, err = s.submit(ctx, sess.ID, sceneID, models.TaskTypeScenePreview, func(cause error) {
			p.AbortScenePreview(sceneID, cause)
		})
		if err != nil {
			return nil, models.Scene{}, err
		}
	}
	scene, err := p.Scene(sceneID)
	return task, scene, err
}

// StartCharacterImage 提交角色立绘任务，并返回提交后的角色。已在生成时返回 nil 任务
func (s *Service) StartCharacterImage(ctx context.Context, sessionID, charID string) (*models.Task, models.Character, error) {
	sess, err := s.summarySession(sessionID)
	if err != nil {
		return nil, models.Character{}, err
	}
	p := sess.Pipeline
	started, err := p.BeginCharacterImage(charID)
	if err != nil {
		return nil, models.Character{}, err
	}
	var task *models.Task
	if started {
		task, err = s.submit(ctx, sess.ID, charID, models.TaskTypeCharacterImage, func(cause error) {
			p.AbortCharacterImage(charID, cause)
		})
		if err != nil {
			return nil, models.Character{}, err
		}
	}
	char, err := p.Character(charID)
	return task, char, err
}

// StartFinalVideo 提交成片任务。同一会话已有成片在生成时返回校验错误
func (s *Service) StartFinalVideo(ctx context.Context, sessionID string) (*models.Task, error) {
	sess, err := s.summarySession(sessionID)
	if err != nil {
		return nil, err
	}
	p := sess.Pipeline
	if err := p.BeginFinalVideo(); err != nil {
		return nil, err
	}
	return s.submit(ctx, sess.ID, sess.ID, models.TaskTypeFinalVideo, p.AbortFinalVideo)
}

// submit 记录并派发任务。目标已由调用方置为 generating，失败时用 abort 回退
func (s *Service) submit(ctx context.Context, sessionID, targetID, taskType string, abort func(error)) (*models.Task, error) {
	task := &models.Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TargetID:  targetID,
		Type:      taskType,
		Status:    models.TaskStatusPending,
		Message:   "queued",
	}
	if err := models.CreateTaskGorm(s.DB, task); err != nil {
		abort(err)
		return nil, err
	}
	if err := s.Dispatcher.Dispatch(ctx, task); err != nil {
		abort(err)
		if uerr := task.UpdateStatus(s.DB, models.TaskStatusFailed, nil, err.Error()); uerr != nil {
			s.log.Error("Failed to mark task failed", zap.String("task_id", task.ID), zap.Error(uerr))
		}
		return nil, err
	}
	s.log.Info("Task submitted", zap.String("task_id", task.ID), zap.String("type", taskType), zap.String("target_id", targetID))
	return task, nil
}

// Task 查询任务记录
func (s *Service) Task(id string) (*models.Task, error) {
	return models.GetTaskByIDGorm(s.DB, id)
}

// RecentTasks 会话最近的任务
func (s *Service) RecentTasks(sessionID string) ([]models.Task, error) {
	return models.ListTasksBySession(s.DB, sessionID, recentTaskLimit)
}

// RunTask 执行一个任务并回写状态。生成失败只记录在任务上，返回 nil
func (s *Service) RunTask(ctx context.Context, taskID string) error {
	task, err := models.GetTaskByIDGorm(s.DB, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	log := s.log.With(zap.String("task_id", task.ID), zap.String("type", task.Type))

	sess, err := s.Sessions.Get(task.SessionID)
	if err != nil {
		if uerr := task.UpdateStatus(s.DB, models.TaskStatusFailed, nil, err.Error()); uerr != nil {
			log.Error("Failed to update task", zap.Error(uerr))
		}
		return err
	}

	log.Info("Processing task")
	if err := task.UpdateStatus(s.DB, models.TaskStatusProcessing, nil, ""); err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	url, runErr := s.execute(ctx, sess, task)
	if runErr != nil {
		log.Warn("Task failed", zap.Error(runErr))
		return task.UpdateStatus(s.DB, models.TaskStatusFailed, nil, runErr.Error())
	}
	log.Info("Task completed", zap.String("url", url))
	return task.UpdateStatus(s.DB, models.TaskStatusSuccess, models.JSONMap{"url": url}, "")
}

func (s *Service) execute(ctx context.Context, sess *Session, task *models.Task) (string, error) {
	p := sess.Pipeline
	switch task.Type {
	case models.TaskTypeScenePreview:
		if err := p.RunScenePreview(ctx, task.TargetID); err != nil {
			return "", err
		}
		sc, err := p.Scene(task.TargetID)
		return sc.PreviewURL, err
	case models.TaskTypeCharacterImage:
		if err := p.RunCharacterImage(ctx, task.TargetID); err != nil {
			return "", err
		}
		c, err := p.Character(task.TargetID)
		return c.ImageURL, err
	case models.TaskTypeFinalVideo:
		return p.RunFinalVideo(ctx)
	default:
		return "", errors.New("unknown task type " + task.Type)
	}
}
