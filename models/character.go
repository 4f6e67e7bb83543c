package models

// Character 角色，可选生成一张立绘
type Character struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Status   Status `json:"status"`
	ImageURL string `json:"imageUrl,omitempty"`
}
