package models

import (
	"fmt"
	"slices"
)

// 可选的视频模型与画面比例
var (
	VideoModels  = []string{"veo-2.0-generate-001"}
	AspectRatios = []string{"16:9", "9:16", "1:1", "4:3", "3:4"}
)

const DefaultStoragePath = "/downloads/video_ai"

// VideoConfig 输出配置，StoragePath 仅作提示
type VideoConfig struct {
	Model       string `json:"model"`
	AspectRatio string `json:"aspectRatio"`
	StoragePath string `json:"storagePath"`
}

// DefaultVideoConfig 返回默认配置
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Model:       VideoModels[0],
		AspectRatio: AspectRatios[0],
		StoragePath: DefaultStoragePath,
	}
}

// Validate 模型和比例必须在枚举范围内
func (c VideoConfig) Validate() error {
	if !slices.Contains(VideoModels, c.Model) {
		return NewValidationError(fmt.Sprintf("unsupported model %q", c.Model))
	}
	if !slices.Contains(AspectRatios, c.AspectRatio) {
		return NewValidationError(fmt.Sprintf("unsupported aspect ratio %q", c.AspectRatio))
	}
	return nil
}

// ProjectData 一次向导会话的全部数据，也是导入导出的文档格式
type ProjectData struct {
	Story      *Story      `json:"story"`
	Characters []Character `json:"characters"`
	Config     VideoConfig `json:"config"`
}

// Clone 深拷贝，避免调用方修改内部状态
func (p ProjectData) Clone() ProjectData {
	out := ProjectData{Config: p.Config}
	if p.Story != nil {
		story := *p.Story
		out.Story = &story
	}
	out.Characters = make([]Character, len(p.Characters))
	copy(out.Characters, p.Characters)
	return out
}
