// Package transfer 负责项目、故事、角色集合的 JSON 导入导出。
package transfer

import (
	"encoding/json"
	"fmt"
	"strings"

	"storyboard-server/models"
)

// 导出文件名
const (
	ProjectFileName    = "video_project.json"
	CharactersFileName = "characters.json"
	StoriesFileName    = "stories.json"
)

func export(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("transfer: encode: %w", err)
	}
	return b, nil
}

// ExportProject 导出项目文档
func ExportProject(p models.ProjectData) ([]byte, error) {
	if p.Characters == nil {
		p.Characters = []models.Character{}
	}
	return export(p)
}

// ExportCharacters 导出角色集合
func ExportCharacters(chars []models.Character) ([]byte, error) {
	if chars == nil {
		chars = []models.Character{}
	}
	return export(chars)
}

// ExportStories 导出故事集合
func ExportStories(stories []models.Story) ([]byte, error) {
	if stories == nil {
		stories = []models.Story{}
	}
	return export(stories)
}

// ImportProject 整体替换式导入，不与现有项目合并
func ImportProject(data []byte) (models.ProjectData, error) {
	var p models.ProjectData
	if err := json.Unmarshal(data, &p); err != nil {
		return models.ProjectData{}, models.NewValidationError(fmt.Sprintf("invalid project document: %v", err))
	}
	if err := p.Config.Validate(); err != nil {
		return models.ProjectData{}, err
	}
	if p.Characters == nil {
		p.Characters = []models.Character{}
	}
	for i := range p.Characters {
		p.Characters[i].Status = p.Characters[i].Status.Normalize()
	}
	return p, nil
}

// ParseCharacters 每个元素都必须有 id、name、prompt，任何一个不合法整批拒绝
func ParseCharacters(data []byte) ([]models.Character, error) {
	var raw []*models.Character
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("invalid characters document: %v", err))
	}
	out := make([]models.Character, 0, len(raw))
	for i, c := range raw {
		if c == nil || blank(c.ID) || blank(c.Name) || blank(c.Prompt) {
			return nil, models.NewValidationError(fmt.Sprintf("character #%d must have non-empty \"id\", \"name\" and \"prompt\"", i+1))
		}
		c.Status = c.Status.Normalize()
		out = append(out, *c)
	}
	return out, nil
}

// ParseStories 规则同 ParseCharacters
func ParseStories(data []byte) ([]models.Story, error) {
	var raw []*models.Story
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("invalid stories document: %v", err))
	}
	out := make([]models.Story, 0, len(raw))
	for i, s := range raw {
		if s == nil || blank(s.ID) || blank(s.Name) || blank(s.Prompt) {
			return nil, models.NewValidationError(fmt.Sprintf("story #%d must have non-empty \"id\", \"name\" and \"prompt\"", i+1))
		}
		out = append(out, *s)
	}
	return out, nil
}

// MergeCharacters 只追加目标集合中不存在的 ID，从不覆盖
func MergeCharacters(existing, imported []models.Character) ([]models.Character, int) {
	seen := make(map[string]struct{}, len(existing)+len(imported))
	merged := make([]models.Character, 0, len(existing)+len(imported))
	for _, c := range existing {
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
	}
	added := 0
	for _, c := range imported {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		merged = append(merged, c)
		added++
	}
	return merged, added
}

// MergeStories 规则同 MergeCharacters
func MergeStories(existing, imported []models.Story) ([]models.Story, int) {
	seen := make(map[string]struct{}, len(existing)+len(imported))
	merged := make([]models.Story, 0, len(existing)+len(imported))
	for _, s := range existing {
		seen[s.ID] = struct{}{}
		merged = append(merged, s)
	}
	added := 0
	for _, s := range imported {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		merged = append(merged, s)
		added++
	}
	return merged, added
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
