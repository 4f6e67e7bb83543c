package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"storyboard-server/models"
	"storyboard-server/poller"
)

func previewPrompt(scenePrompt string, cfg models.VideoConfig) string {
	return fmt.Sprintf(`Create a short video clip, approximately 5-7 seconds long, for the following scene description. Aspect ratio: %s. Scene: "%s"`,
		cfg.AspectRatio, scenePrompt)
}

func portraitPrompt(characterPrompt string) string {
	return "A full-body character portrait in a cinematic style. The character is: " + characterPrompt
}

// GenerateScenePreview 为单个分镜生成预览视频。同一分镜正在生成时直接返回
func (p *Pipeline) GenerateScenePreview(ctx context.Context, sceneID string) error {
	started, err := p.BeginScenePreview(sceneID)
	if err != nil || !started {
		return err
	}
	return p.RunScenePreview(ctx, sceneID)
}

// BeginScenePreview 在锁内把分镜置为 generating。started 为 false 表示已在生成，
// 调用方不必再提交；为 true 时调用方负责随后调用 RunScenePreview 或 AbortScenePreview
func (p *Pipeline) BeginScenePreview(sceneID string) (started bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.sceneIndex(sceneID)
	if i < 0 {
		return false, fmt.Errorf("scene %s: %w", sceneID, models.ErrNotFound)
	}
	if p.scenes[i].Status == models.StatusGenerating {
		p.log.Debug("Scene preview already in flight", zap.String("scene_id", sceneID))
		return false, nil
	}
	next, err := models.Transition(p.scenes[i].Status, models.StatusGenerating)
	if err != nil {
		return false, err
	}
	p.scenes[i].Status = next
	p.appendLog("Starting preview video for scene %d...", i+1)
	return true, nil
}

// RunScenePreview 渲染已由 BeginScenePreview 置为 generating 的分镜
func (p *Pipeline) RunScenePreview(ctx context.Context, sceneID string) error {
	p.mu.Lock()
	i := p.sceneIndex(sceneID)
	if i < 0 {
		p.mu.Unlock()
		return fmt.Errorf("scene %s: %w", sceneID, models.ErrNotFound)
	}
	scene := p.scenes[i]
	if scene.Status != models.StatusGenerating {
		p.mu.Unlock()
		return models.NewValidationError(fmt.Sprintf("scene %d preview is not started", i+1))
	}
	cfg := p.config
	p.mu.Unlock()

	start := time.Now()
	jobsStarted.WithLabelValues(kindPreview).Inc()
	ref, err := p.renderVideo(ctx, kindPreview, "scenes", previewPrompt(scene.Prompt, cfg), cfg, nil)
	if err != nil {
		observeFailure(kindPreview, err, start)
		p.AbortScenePreview(sceneID, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i = p.sceneIndex(sceneID)
	if i < 0 {
		// 分镜已被重新拆解，结果丢弃
		p.log.Warn("Scene disappeared while generating preview", zap.String("scene_id", sceneID))
		return nil
	}
	observeSuccess(kindPreview, start)
	p.scenes[i].Status, _ = models.Transition(models.StatusGenerating, models.StatusCompleted)
	p.scenes[i].PreviewURL = ref
	p.appendLog("Preview for scene %d generated successfully.", i+1)
	return nil
}

// AbortScenePreview 把在途分镜置为 error
func (p *Pipeline) AbortScenePreview(sceneID string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.sceneIndex(sceneID)
	if i < 0 {
		p.log.Warn("Scene disappeared while generating preview", zap.String("scene_id", sceneID))
		return
	}
	if p.scenes[i].Status != models.StatusGenerating {
		return
	}
	number := i + 1
	p.scenes[i].Status, _ = models.Transition(models.StatusGenerating, models.StatusError)
	p.lastError = fmt.Sprintf("Preview for scene %d failed: %v", number, cause)
	p.appendLog("Error generating preview for scene %d.", number)
	p.log.Error("Scene preview failed", zap.String("scene_id", sceneID), zap.Error(cause))
}

// renderVideo 提交视频任务，轮询到结束后下载并落盘，返回可播放地址
func (p *Pipeline) renderVideo(ctx context.Context, kind, prefix, prompt string, cfg models.VideoConfig, onTick poller.TickFunc) (string, error) {
	op, err := p.provider.StartVideo(ctx, cfg.Model, prompt, cfg.AspectRatio)
	if err != nil {
		return "", err
	}
	if kind == kindFinal {
		p.logf("Request submitted. Operation ID: %s. Waiting for processing...", op.Name)
		p.logf("This can take several minutes. Please be patient.")
	}

	res, err := p.poller.Wait(ctx, op, p.provider.GetOperation, func(attempt int) {
		pollAttempts.WithLabelValues(kind).Inc()
		if onTick != nil {
			onTick(attempt)
		}
	})
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	if kind == kindFinal {
		p.logf("Video generated successfully! Preparing the download.")
		p.logf("Downloading video data...")
	}

	data, err := p.provider.DownloadVideo(ctx, res.MediaURI)
	if err != nil {
		return "", err
	}
	ref, err := p.media.Put(ctx, prefix, "video/mp4", data)
	if err != nil {
		return "", fmt.Errorf("store video: %w", err)
	}
	return ref, nil
}

// GenerateCharacterImage 为单个角色生成立绘。同一角色正在生成时直接返回
func (p *Pipeline) GenerateCharacterImage(ctx context.Context, charID string) error {
	started, err := p.BeginCharacterImage(charID)
	if err != nil || !started {
		return err
	}
	return p.RunCharacterImage(ctx, charID)
}

// BeginCharacterImage 同 BeginScenePreview
func (p *Pipeline) BeginCharacterImage(charID string) (started bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.characterIndex(charID)
	if i < 0 {
		return false, fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	if p.characters[i].Status == models.StatusGenerating {
		p.log.Debug("Character image already in flight", zap.String("character_id", charID))
		return false, nil
	}
	next, err := models.Transition(p.characters[i].Status, models.StatusGenerating)
	if err != nil {
		return false, err
	}
	p.characters[i].Status = next
	p.appendLog("Starting image for character '%s'...", p.characters[i].Name)
	return true, nil
}

// RunCharacterImage 渲染已由 BeginCharacterImage 置为 generating 的角色
func (p *Pipeline) RunCharacterImage(ctx context.Context, charID string) error {
	p.mu.Lock()
	i := p.characterIndex(charID)
	if i < 0 {
		p.mu.Unlock()
		return fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	char := p.characters[i]
	p.mu.Unlock()
	if char.Status != models.StatusGenerating {
		return models.NewValidationError(fmt.Sprintf("image for character '%s' is not started", char.Name))
	}

	start := time.Now()
	jobsStarted.WithLabelValues(kindImage).Inc()
	ref, err := p.renderImage(ctx, char.Prompt)
	if err != nil {
		observeFailure(kindImage, err, start)
		p.AbortCharacterImage(charID, err)
		return err
	}

	p.mu.Lock()
	i = p.characterIndex(charID)
	if i < 0 {
		p.mu.Unlock()
		return nil
	}
	observeSuccess(kindImage, start)
	p.characters[i].Status, _ = models.Transition(models.StatusGenerating, models.StatusCompleted)
	p.characters[i].ImageURL = ref
	updated := p.characters[i]
	p.appendLog("Image for character '%s' generated successfully.", char.Name)
	p.mu.Unlock()

	p.notifyCharacter(updated)
	return nil
}

// AbortCharacterImage 把在途角色置为 error
func (p *Pipeline) AbortCharacterImage(charID string, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.characterIndex(charID)
	if i < 0 || p.characters[i].Status != models.StatusGenerating {
		return
	}
	name := p.characters[i].Name
	p.characters[i].Status, _ = models.Transition(models.StatusGenerating, models.StatusError)
	p.lastError = fmt.Sprintf("Image for character '%s' failed: %v", name, cause)
	p.appendLog("Error generating image for character '%s'.", name)
	p.log.Error("Character image failed", zap.String("character_id", charID), zap.Error(cause))
}

func (p *Pipeline) renderImage(ctx context.Context, prompt string) (string, error) {
	img, err := p.provider.GenerateImage(ctx, portraitPrompt(prompt), "1:1")
	if err != nil {
		return "", err
	}
	ref, err := p.media.Put(ctx, "characters", img.MIMEType, img.Data)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

// UploadCharacterImage 用户上传立绘，直接置为 completed
func (p *Pipeline) UploadCharacterImage(ctx context.Context, charID, contentType string, data []byte) (models.Character, error) {
	if len(data) == 0 {
		return models.Character{}, models.NewValidationError("uploaded image is empty")
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return models.Character{}, models.NewValidationError(fmt.Sprintf("unsupported content type %q", contentType))
	}

	p.mu.Lock()
	i := p.characterIndex(charID)
	if i < 0 {
		p.mu.Unlock()
		return models.Character{}, fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	if _, err := models.Transition(p.characters[i].Status, models.StatusCompleted); err != nil {
		c := p.characters[i]
		p.mu.Unlock()
		return c, err
	}
	p.mu.Unlock()

	ref, err := p.media.Put(ctx, "uploads", contentType, data)
	if err != nil {
		p.logf("Error uploading character image.")
		return models.Character{}, fmt.Errorf("store upload: %w", err)
	}

	p.mu.Lock()
	i = p.characterIndex(charID)
	if i < 0 {
		p.mu.Unlock()
		return models.Character{}, fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	next, err := models.Transition(p.characters[i].Status, models.StatusCompleted)
	if err != nil {
		c := p.characters[i]
		p.mu.Unlock()
		return c, err
	}
	p.characters[i].Status = next
	p.characters[i].ImageURL = ref
	updated := p.characters[i]
	p.appendLog("Uploaded image for character '%s'.", updated.Name)
	p.mu.Unlock()

	p.notifyCharacter(updated)
	return updated, nil
}

// EditCharacterPrompt 修改角色描述，已有立绘作废
func (p *Pipeline) EditCharacterPrompt(charID, prompt string) (models.Character, error) {
	if strings.TrimSpace(prompt) == "" {
		return models.Character{}, models.NewValidationError("character prompt must not be empty")
	}
	p.mu.Lock()
	i := p.characterIndex(charID)
	if i < 0 {
		p.mu.Unlock()
		return models.Character{}, fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	c := &p.characters[i]
	if c.Status == models.StatusGenerating {
		cur := *c
		p.mu.Unlock()
		return cur, models.NewValidationError("character image is being generated")
	}
	if c.Status != models.StatusPending {
		next, err := models.Transition(c.Status, models.StatusPending)
		if err != nil {
			cur := *c
			p.mu.Unlock()
			return cur, err
		}
		c.Status = next
		c.ImageURL = ""
	}
	c.Prompt = prompt
	updated := *c
	p.mu.Unlock()

	p.notifyCharacter(updated)
	return updated, nil
}

// ResetCharacter 显式重置，允许已完成的角色重新生成
func (p *Pipeline) ResetCharacter(charID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.characterIndex(charID)
	if i < 0 {
		return fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	c := &p.characters[i]
	if c.Status == models.StatusPending {
		return nil
	}
	next, err := models.Transition(c.Status, models.StatusPending)
	if err != nil {
		return err
	}
	c.Status = next
	return nil
}

// Scene 按 ID 查询分镜
func (p *Pipeline) Scene(sceneID string) (models.Scene, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.sceneIndex(sceneID)
	if i < 0 {
		return models.Scene{}, fmt.Errorf("scene %s: %w", sceneID, models.ErrNotFound)
	}
	return p.scenes[i], nil
}

// Character 按 ID 查询角色
func (p *Pipeline) Character(charID string) (models.Character, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.characterIndex(charID)
	if i < 0 {
		return models.Character{}, fmt.Errorf("character %s: %w", charID, models.ErrNotFound)
	}
	return p.characters[i], nil
}
