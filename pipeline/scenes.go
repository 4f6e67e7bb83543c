package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-server/models"
	"storyboard-server/sample"
)

const (
	minScenes = 5
	maxScenes = 10
)

func sceneInstruction(storyPrompt string) string {
	return fmt.Sprintf(`You are a screenwriting assistant. Based on the following story description, break it down into a sequence of %d to %d distinct, visually descriptive scenes. Each scene should be a short prompt suitable for a text-to-video AI model.

Story: "%s"`, minScenes, maxScenes, storyPrompt)
}

// GenerateScenes 把故事拆成有序分镜。内置示例故事直接用本地剧本，不发起外部调用
func (p *Pipeline) GenerateScenes(ctx context.Context) ([]models.Scene, error) {
	p.mu.Lock()
	if p.story == nil {
		p.mu.Unlock()
		return nil, models.NewValidationError("a story is required before generating scenes")
	}
	if p.loadingScenes {
		p.mu.Unlock()
		return nil, models.NewValidationError("scene generation is already running")
	}
	story := *p.story
	p.loadingScenes = true
	p.lastError = ""
	isSample := sample.IsSample(&story)
	if isSample {
		p.appendLog("Loading scenes from the sample project...")
	} else {
		p.appendLog("Generating the script from the story...")
	}
	p.mu.Unlock()

	start := time.Now()
	jobsStarted.WithLabelValues(kindScenes).Inc()

	var (
		prompts []string
		err     error
	)
	if isSample {
		prompts, err = sample.ScenePrompts()
	} else {
		prompts, err = p.provider.GenerateScenes(ctx, sceneInstruction(story.Prompt))
	}
	prompts = compact(prompts)
	if err == nil && len(prompts) == 0 {
		err = errors.New("provider returned no scenes")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadingScenes = false

	if err != nil {
		observeFailure(kindScenes, err, start)
		p.lastError = "Could not generate the script. Please try again."
		p.appendLog("Error: %s", p.lastError)
		p.log.Error("Scene decomposition failed", zap.String("story_id", story.ID), zap.Error(err))
		return nil, models.GenerationError(err)
	}

	p.generation++
	stamp := p.now().UnixMilli()
	scenes := make([]models.Scene, 0, len(prompts))
	for i, prompt := range prompts {
		scenes = append(scenes, models.Scene{
			ID:     fmt.Sprintf("scene-%d-%d-%d", i+1, stamp, p.generation),
			Prompt: prompt,
			Status: models.StatusPending,
		})
	}
	p.scenes = scenes
	p.appendLog("Generated %d scenes.", len(scenes))
	observeSuccess(kindScenes, start)
	return append([]models.Scene{}, scenes...), nil
}

// EditScenePrompt 修改分镜提示词，已有预览作废
func (p *Pipeline) EditScenePrompt(sceneID, prompt string) (models.Scene, error) {
	if strings.TrimSpace(prompt) == "" {
		return models.Scene{}, models.NewValidationError("scene prompt must not be empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.sceneIndex(sceneID)
	if i < 0 {
		return models.Scene{}, fmt.Errorf("scene %s: %w", sceneID, models.ErrNotFound)
	}
	sc := &p.scenes[i]
	if sc.Status == models.StatusGenerating {
		return *sc, models.NewValidationError("scene preview is being generated")
	}
	if sc.Status != models.StatusPending {
		if _, err := models.Transition(sc.Status, models.StatusPending); err != nil {
			return *sc, err
		}
		sc.Status = models.StatusPending
		sc.PreviewURL = ""
	}
	sc.Prompt = prompt
	return *sc, nil
}

// ResetScene 显式重置，允许已完成的分镜重新生成
func (p *Pipeline) ResetScene(sceneID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.sceneIndex(sceneID)
	if i < 0 {
		return fmt.Errorf("scene %s: %w", sceneID, models.ErrNotFound)
	}
	sc := &p.scenes[i]
	if sc.Status == models.StatusPending {
		return nil
	}
	next, err := models.Transition(sc.Status, models.StatusPending)
	if err != nil {
		return err
	}
	sc.Status = next
	sc.PreviewURL = ""
	return nil
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
