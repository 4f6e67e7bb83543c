package models

import "strings"

// Story 故事，驱动分镜生成
type Story struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// HasPrompt 故事描述非空才能进入下一步
func (s Story) HasPrompt() bool {
	return strings.TrimSpace(s.Prompt) != ""
}
