// Package pipeline 驱动分镜拆解、分镜预览、角色立绘和最终成片这几类外部生成任务。
//
// 每个分镜/角色按 ID 独立跟踪状态，状态迁移统一经过 models.Transition。
// 互斥锁只保护内存状态，外部调用期间不持锁。
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storyboard-server/gemini"
	"storyboard-server/media"
	"storyboard-server/models"
	"storyboard-server/poller"
)

// Provider 外部生成接口
type Provider interface {
	GenerateScenes(ctx context.Context, instruction string) ([]string, error)
	GenerateImage(ctx context.Context, prompt, aspectRatio string) (gemini.Image, error)
	StartVideo(ctx context.Context, model, prompt, aspectRatio string) (models.Operation, error)
	GetOperation(ctx context.Context, op models.Operation) (models.Operation, error)
	DownloadVideo(ctx context.Context, uri string) ([]byte, error)
}

type Options struct {
	Provider Provider
	Media    media.Store
	Poller   *poller.Poller
	Logger   *zap.Logger
	Now      func() time.Time
	// OnCharacterUpdate 角色在生成阶段被修改（描述/立绘）时回写到向导
	OnCharacterUpdate func(models.Character)
}

// FinalVideo 成片任务状态
type FinalVideo struct {
	Status models.Status `json:"status"`
	URL    string        `json:"url,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// LogLine 进度日志
type LogLine struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

func (l LogLine) String() string {
	return l.Time.Format("15:04:05") + ": " + l.Message
}

// Snapshot 对外可见的流水线状态
type Snapshot struct {
	Story         *models.Story      `json:"story"`
	Config        models.VideoConfig `json:"config"`
	Scenes        []models.Scene     `json:"scenes"`
	Characters    []models.Character `json:"characters"`
	Final         FinalVideo         `json:"final"`
	Log           []string           `json:"log"`
	LogVersion    int                `json:"logVersion"`
	Error         string             `json:"error,omitempty"`
	LoadingScenes bool               `json:"loadingScenes"`
}

type Pipeline struct {
	provider  Provider
	media     media.Store
	poller    *poller.Poller
	log       *zap.Logger
	now       func() time.Time
	onCharUpd func(models.Character)

	mu            sync.Mutex
	story         *models.Story
	config        models.VideoConfig
	scenes        []models.Scene
	characters    []models.Character
	final         FinalVideo
	lines         []LogLine
	logVersion    int
	lastError     string
	loadingScenes bool
	generation    int
}

func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pl := opts.Poller
	if pl == nil {
		pl = poller.New(poller.DefaultInterval, 0, 0, log)
	}
	return &Pipeline{
		provider:  opts.Provider,
		media:     opts.Media,
		poller:    pl,
		log:       log.Named("pipeline"),
		now:       now,
		onCharUpd: opts.OnCharacterUpdate,
		config:    models.DefaultVideoConfig(),
		final:     FinalVideo{Status: models.StatusPending},
	}
}

// Load 进入汇总步骤时载入项目。故事不变时保留已生成的分镜
func (p *Pipeline) Load(project models.ProjectData) {
	p.mu.Lock()
	defer p.mu.Unlock()

	project = project.Clone()
	if p.story == nil || project.Story == nil || p.story.ID != project.Story.ID {
		p.scenes = nil
		p.final = FinalVideo{Status: models.StatusPending}
	}
	p.story = project.Story
	p.config = project.Config

	current := make(map[string]models.Character, len(p.characters))
	for _, c := range p.characters {
		current[c.ID] = c
	}
	chars := make([]models.Character, 0, len(project.Characters))
	for _, c := range project.Characters {
		if prev, ok := current[c.ID]; ok && prev.Status == models.StatusGenerating {
			chars = append(chars, prev)
			continue
		}
		if c.ImageURL != "" {
			c.Status = models.StatusCompleted
		} else {
			c.Status = models.StatusPending
		}
		chars = append(chars, c)
	}
	p.characters = chars
}

// Snapshot 返回当前状态的拷贝
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Config:        p.config,
		Scenes:        append([]models.Scene{}, p.scenes...),
		Characters:    append([]models.Character{}, p.characters...),
		Final:         p.final,
		Log:           make([]string, 0, len(p.lines)),
		LogVersion:    p.logVersion,
		Error:         p.lastError,
		LoadingScenes: p.loadingScenes,
	}
	if p.story != nil {
		story := *p.story
		s.Story = &story
	}
	for _, l := range p.lines {
		s.Log = append(s.Log, l.String())
	}
	return s
}

// appendLog 调用方需持有 p.mu
func (p *Pipeline) appendLog(format string, args ...any) {
	line := LogLine{Time: p.now(), Message: fmt.Sprintf(format, args...)}
	p.lines = append(p.lines, line)
	p.logVersion++
	p.log.Info(line.Message)
}

func (p *Pipeline) logf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendLog(format, args...)
}

func (p *Pipeline) sceneIndex(id string) int {
	for i := range p.scenes {
		if p.scenes[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Pipeline) characterIndex(id string) int {
	for i := range p.characters {
		if p.characters[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Pipeline) notifyCharacter(c models.Character) {
	if p.onCharUpd != nil {
		p.onCharUpd(c)
	}
}
