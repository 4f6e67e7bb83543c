// Package store 持久化用户创建的故事和角色集合。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storyboard-server/models"
	"storyboard-server/transfer"
)

// 集合的固定 key，payload 为 v1 版本的 JSON 数组
const (
	StoriesKey    = "video-ai-stories"
	CharactersKey = "video-ai-characters"
)

type Store struct {
	db  *gorm.DB
	log *zap.Logger
	// mu 串行化本进程内的读改写
	mu sync.Mutex
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("store")}
}

// Load 读取 key 对应的集合到 dst；不存在或数据损坏时写入 def，不向调用方返回读错误
func (s *Store) Load(ctx context.Context, key string, dst any, def any) {
	var row models.Collection
	err := s.db.WithContext(ctx).First(&row, "collection_key = ?", key).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("Collection read failed, using default", zap.Error(&models.PersistenceReadError{Key: key, Err: err}))
		}
		assignDefault(dst, def)
		return
	}
	if err := json.Unmarshal([]byte(row.Payload), dst); err != nil {
		s.log.Warn("Collection payload malformed, using default", zap.Error(&models.PersistenceReadError{Key: key, Err: err}))
		assignDefault(dst, def)
	}
}

// Save 覆盖写入集合，写入后立即可读
func (s *Store) Save(ctx context.Context, key string, collection any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return save(s.db.WithContext(ctx), key, collection)
}

func save(db *gorm.DB, key string, collection any) error {
	payload, err := json.Marshal(collection)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	row := models.Collection{Key: key, Payload: string(payload)}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}

// update 在事务内读改写一个集合。读失败直接返回，不会用默认值覆盖已有数据；
// 只有 payload 损坏时按空集合处理。apply 返回 false 时不写入
func (s *Store) update(ctx context.Context, key string, dst any, apply func() (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row models.Collection
		err := q.First(&row, "collection_key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return &models.PersistenceReadError{Key: key, Err: err}
		default:
			if err := json.Unmarshal([]byte(row.Payload), dst); err != nil {
				s.log.Warn("Collection payload malformed, overwriting", zap.Error(&models.PersistenceReadError{Key: key, Err: err}))
				_ = json.Unmarshal([]byte("[]"), dst)
			}
		}

		changed, err := apply()
		if err != nil || !changed {
			return err
		}
		return save(tx, key, dst)
	})
}

func assignDefault(dst, def any) {
	if def == nil {
		return
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// Stories 返回全部故事
func (s *Store) Stories(ctx context.Context) []models.Story {
	stories := []models.Story{}
	s.Load(ctx, StoriesKey, &stories, []models.Story{})
	return stories
}

// SaveStory 同 ID 原地更新；新故事在 prompt 不重复时追加
func (s *Store) SaveStory(ctx context.Context, story models.Story) (models.Story, error) {
	if !story.HasPrompt() {
		return story, models.NewValidationError("story prompt must not be empty")
	}
	if strings.TrimSpace(story.ID) == "" {
		story.ID = uuid.NewString()
	}

	stories := []models.Story{}
	err := s.update(ctx, StoriesKey, &stories, func() (bool, error) {
		for i := range stories {
			if stories[i].ID == story.ID {
				stories[i] = story
				return true, nil
			}
		}
		for _, existing := range stories {
			if existing.Prompt == story.Prompt {
				return false, nil
			}
		}
		stories = append(stories, story)
		return true, nil
	})
	return story, err
}

// DeleteStory 删除故事
func (s *Store) DeleteStory(ctx context.Context, id string) error {
	stories := []models.Story{}
	return s.update(ctx, StoriesKey, &stories, func() (bool, error) {
		for i, st := range stories {
			if st.ID == id {
				stories = append(stories[:i], stories[i+1:]...)
				return true, nil
			}
		}
		return false, models.ErrNotFound
	})
}

// ImportStories 只追加 ID 不存在的故事，返回新增数量
func (s *Store) ImportStories(ctx context.Context, imported []models.Story) (int, error) {
	stories := []models.Story{}
	added := 0
	err := s.update(ctx, StoriesKey, &stories, func() (bool, error) {
		stories, added = transfer.MergeStories(stories, imported)
		return added > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Characters 返回全部角色
func (s *Store) Characters(ctx context.Context) []models.Character {
	chars := []models.Character{}
	s.Load(ctx, CharactersKey, &chars, []models.Character{})
	return chars
}

// AddCharacter 新建角色，名称和描述都不能为空
func (s *Store) AddCharacter(ctx context.Context, name, prompt string) (models.Character, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(prompt) == "" {
		return models.Character{}, models.NewValidationError("character name and prompt must not be empty")
	}
	c := models.Character{
		ID:     uuid.NewString(),
		Name:   name,
		Prompt: prompt,
		Status: models.StatusPending,
	}
	chars := []models.Character{}
	err := s.update(ctx, CharactersKey, &chars, func() (bool, error) {
		chars = append(chars, c)
		return true, nil
	})
	if err != nil {
		return models.Character{}, err
	}
	return c, nil
}

// DeleteCharacter 删除角色
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	chars := []models.Character{}
	return s.update(ctx, CharactersKey, &chars, func() (bool, error) {
		for i, c := range chars {
			if c.ID == id {
				chars = append(chars[:i], chars[i+1:]...)
				return true, nil
			}
		}
		return false, models.ErrNotFound
	})
}

// ImportCharacters 合并导入，已存在的 ID 保持不变
func (s *Store) ImportCharacters(ctx context.Context, imported []models.Character) (int, error) {
	chars := []models.Character{}
	added := 0
	err := s.update(ctx, CharactersKey, &chars, func() (bool, error) {
		chars, added = transfer.MergeCharacters(chars, imported)
		return added > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// CharactersByID 按 ID 顺序取角色，未知 ID 返回 ErrNotFound
func (s *Store) CharactersByID(ctx context.Context, ids []string) ([]models.Character, error) {
	all := s.Characters(ctx)
	index := make(map[string]models.Character, len(all))
	for _, c := range all {
		index[c.ID] = c
	}
	out := make([]models.Character, 0, len(ids))
	for _, id := range ids {
		c, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("character %s: %w", id, models.ErrNotFound)
		}
		out = append(out, c)
	}
	return out, nil
}
