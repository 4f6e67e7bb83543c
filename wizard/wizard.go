// Package wizard 维护一次会话的项目数据和四步向导的位置。
package wizard

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storyboard-server/models"
	"storyboard-server/sample"
)

type Step int

const (
	StepStory Step = iota + 1
	StepCharacters
	StepConfig
	StepSummary
)

func (s Step) String() string {
	switch s {
	case StepStory:
		return "story"
	case StepCharacters:
		return "characters"
	case StepConfig:
		return "config"
	case StepSummary:
		return "summary"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

const defaultStoryName = "New story"

// State 对外返回的向导状态
type State struct {
	Step    Step               `json:"step"`
	Name    string             `json:"stepName"`
	Project models.ProjectData `json:"project"`
}

type Controller struct {
	mu      sync.Mutex
	step    Step
	project models.ProjectData

	// OnEnterSummary 进入汇总步骤时调用，不持锁
	OnEnterSummary func(models.ProjectData)
}

// New 以内置示例项目开始
func New() *Controller {
	return &Controller{step: StepStory, project: sample.Project()}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	return State{Step: c.step, Name: c.step.String(), Project: c.project.Clone()}
}

func (c *Controller) Step() Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Project 返回项目数据的拷贝
func (c *Controller) Project() models.ProjectData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project.Clone()
}

func (c *Controller) expect(step Step) error {
	if c.step != step {
		return models.NewValidationError(fmt.Sprintf("wizard is at step %s, not %s", c.step, step))
	}
	return nil
}

// SubmitStory 提交故事并进入角色步骤。ID 为空时：描述未改沿用当前 ID，否则分配新 ID
func (c *Controller) SubmitStory(story models.Story) (State, error) {
	if !story.HasPrompt() {
		return State{}, models.NewValidationError("story prompt must not be empty")
	}
	if strings.TrimSpace(story.Name) == "" {
		story.Name = defaultStoryName
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StepStory); err != nil {
		return c.stateLocked(), err
	}
	if story.ID == "" {
		if cur := c.project.Story; cur != nil && cur.Prompt == story.Prompt {
			story.ID = cur.ID
		} else {
			story.ID = uuid.NewString()
		}
	}
	c.project.Story = &story
	c.step = StepCharacters
	return c.stateLocked(), nil
}

// SubmitCharacters 提交已选角色，可以为空
func (c *Controller) SubmitCharacters(chars []models.Character) (State, error) {
	seen := make(map[string]bool, len(chars))
	selected := make([]models.Character, 0, len(chars))
	for i, ch := range chars {
		if ch.ID == "" || strings.TrimSpace(ch.Name) == "" || strings.TrimSpace(ch.Prompt) == "" {
			return State{}, models.NewValidationError(fmt.Sprintf("character #%d needs an id, a name and a prompt", i+1))
		}
		if seen[ch.ID] {
			return State{}, models.NewValidationError(fmt.Sprintf("character %s selected twice", ch.ID))
		}
		seen[ch.ID] = true
		ch.Status = ch.Status.Normalize()
		selected = append(selected, ch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(StepCharacters); err != nil {
		return c.stateLocked(), err
	}
	c.project.Characters = selected
	c.step = StepConfig
	return c.stateLocked(), nil
}

// SubmitConfig 提交输出配置并进入汇总步骤
func (c *Controller) SubmitConfig(cfg models.VideoConfig) (State, error) {
	if cfg.StoragePath == "" {
		cfg.StoragePath = models.DefaultStoragePath
	}
	if err := cfg.Validate(); err != nil {
		return State{}, err
	}

	c.mu.Lock()
	if err := c.expect(StepConfig); err != nil {
		st := c.stateLocked()
		c.mu.Unlock()
		return st, err
	}
	c.project.Config = cfg
	c.step = StepSummary
	st := c.stateLocked()
	hook := c.OnEnterSummary
	c.mu.Unlock()

	if hook != nil {
		hook(st.Project)
	}
	return st, nil
}

// Back 回到上一步，其他步骤的数据保留
func (c *Controller) Back() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step <= StepStory {
		return c.stateLocked(), models.NewValidationError("already at the first step")
	}
	c.step--
	return c.stateLocked(), nil
}

// Import 整体替换项目数据并回到第一步
func (c *Controller) Import(project models.ProjectData) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.project = project.Clone()
	c.step = StepStory
	return c.stateLocked()
}

// UpdateCharacter 按 ID 替换角色，生成阶段的修改通过它回写
func (c *Controller) UpdateCharacter(ch models.Character) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.project.Characters {
		if c.project.Characters[i].ID == ch.ID {
			c.project.Characters[i] = ch
			return
		}
	}
}

// RequireSummary 生成类操作只能在汇总步骤进行
func (c *Controller) RequireSummary() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.step != StepSummary {
		return models.NewValidationError("generation is only available on the summary step")
	}
	return nil
}
