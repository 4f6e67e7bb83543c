package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-server/models"
)

// finalPrompt 拼接故事、全部角色和全部分镜（按顺序）
func finalPrompt(story models.Story, chars []models.Character, scenes []models.Scene, cfg models.VideoConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a short film based on this story: \"%s\". ", story.Prompt)
	if len(chars) > 0 {
		descs := make([]string, 0, len(chars))
		for _, c := range chars {
			descs = append(descs, fmt.Sprintf("%s (%s)", c.Name, c.Prompt))
		}
		b.WriteString("The video should feature the following characters: ")
		b.WriteString(strings.Join(descs, ". "))
	}
	parts := make([]string, 0, len(scenes))
	for i, s := range scenes {
		parts = append(parts, fmt.Sprintf("Scene %d: %s", i+1, s.Prompt))
	}
	fmt.Fprintf(&b, " The film is composed of the following scenes: %s.", strings.Join(parts, "; "))
	b.WriteString(" Ensure a consistent style and characters throughout the video.")
	fmt.Fprintf(&b, " The video aspect ratio is %s.", cfg.AspectRatio)
	return b.String()
}

// GenerateFinalVideo 生成整片，成功后返回可播放地址
func (p *Pipeline) GenerateFinalVideo(ctx context.Context) (string, error) {
	if err := p.BeginFinalVideo(); err != nil {
		return "", err
	}
	return p.RunFinalVideo(ctx)
}

// BeginFinalVideo 检查前置条件并在锁内置为 generating：需要故事和至少一个分镜，
// 同一会话只允许一个成片任务。成功后调用方负责随后调用 RunFinalVideo 或 AbortFinalVideo
func (p *Pipeline) BeginFinalVideo() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.final.Status == models.StatusGenerating {
		return models.NewValidationError("final video generation is already running")
	}
	if p.story == nil || len(p.scenes) == 0 {
		err := models.NewValidationError("a story and scenes are required before generating the video")
		p.lastError = err.Error()
		return err
	}
	p.lines = nil
	p.logVersion++
	p.lastError = ""
	p.final = FinalVideo{Status: models.StatusGenerating}
	p.appendLog("Starting video generation request...")
	return nil
}

// RunFinalVideo 渲染已由 BeginFinalVideo 置为 generating 的成片
func (p *Pipeline) RunFinalVideo(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.final.Status != models.StatusGenerating {
		p.mu.Unlock()
		return "", models.NewValidationError("final video generation is not started")
	}
	if p.story == nil || len(p.scenes) == 0 {
		p.mu.Unlock()
		err := models.NewValidationError("a story and scenes are required before generating the video")
		p.AbortFinalVideo(err)
		return "", err
	}
	prompt := finalPrompt(*p.story, p.characters, p.scenes, p.config)
	cfg := p.config
	p.mu.Unlock()

	start := time.Now()
	jobsStarted.WithLabelValues(kindFinal).Inc()
	ref, err := p.renderVideo(ctx, kindFinal, "videos", prompt, cfg, func(attempt int) {
		p.logf("Checking status, attempt %d...", attempt)
	})
	if err != nil {
		observeFailure(kindFinal, err, start)
		p.AbortFinalVideo(err)
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	observeSuccess(kindFinal, start)
	p.final = FinalVideo{Status: models.StatusCompleted, URL: ref}
	p.appendLog("The video is ready to download!")
	return ref, nil
}

// AbortFinalVideo 把在途成片置为 error
func (p *Pipeline) AbortFinalVideo(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.final.Status != models.StatusGenerating {
		return
	}
	p.final = FinalVideo{Status: models.StatusError, Error: cause.Error()}
	p.lastError = "Video generation failed: " + cause.Error()
	p.appendLog("Error: %s", cause.Error())
	p.log.Error("Final video failed", zap.Error(cause))
}
