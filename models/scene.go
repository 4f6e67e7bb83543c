package models

// Scene 分镜，一次视频生成的最小单元
type Scene struct {
	ID         string `json:"id"`
	Prompt     string `json:"prompt"`
	Status     Status `json:"status"`
	PreviewURL string `json:"previewUrl,omitempty"`
}
