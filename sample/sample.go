// Package sample 内置示例项目（龟兔赛跑），分镜直接由结构化剧本本地生成。
package sample

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"storyboard-server/models"
)

const StoryID = "sample-story-tortoise-hare"

//go:embed tortoise_hare.yaml
var scriptYAML []byte

type Script struct {
	Title  string        `yaml:"title"`
	Theme  string        `yaml:"theme"`
	Scenes []ScriptScene `yaml:"scenes"`
}

type ScriptScene struct {
	ID          int                 `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Setting     *Setting            `yaml:"setting"`
	Characters  []Presence          `yaml:"characters"`
	Action      []string            `yaml:"action"`
	Dialogue    []map[string]string `yaml:"dialogue"`
	Monologue   string              `yaml:"monologue"`
	Moral       string              `yaml:"moral"`
}

type Setting struct {
	Location string `yaml:"location"`
	Time     string `yaml:"time"`
}

type Presence struct {
	Name    string `yaml:"name"`
	Emotion string `yaml:"emotion"`
}

var loadScript = sync.OnceValues(func() (Script, error) {
	var s Script
	if err := yaml.Unmarshal(scriptYAML, &s); err != nil {
		return Script{}, fmt.Errorf("sample: parse script: %w", err)
	}
	if len(s.Scenes) == 0 {
		return Script{}, fmt.Errorf("sample: script has no scenes")
	}
	return s, nil
})

// LoadScript 返回解析后的内置剧本
func LoadScript() (Script, error) {
	return loadScript()
}

// IsSample 判断是否为内置示例故事
func IsSample(story *models.Story) bool {
	return story != nil && story.ID == StoryID
}

// Story 示例故事
func Story() models.Story {
	theme := "A story about perseverance"
	title := "The Tortoise and the Hare"
	if s, err := LoadScript(); err == nil {
		theme, title = s.Theme, s.Title
	}
	return models.Story{
		ID:   StoryID,
		Name: title,
		Prompt: theme + ". A classic fable about a race between a boastful, speedy hare and a slow, persistent tortoise. " +
			"The hare gets a big lead and decides to nap, allowing the tortoise to steadily pass him and win the race, " +
			"teaching a lesson about perseverance.",
	}
}

// Project 新会话的默认项目
func Project() models.ProjectData {
	story := Story()
	return models.ProjectData{
		Story: &story,
		Characters: []models.Character{
			{ID: "char-tho", Name: "Thỏ", Prompt: "A white rabbit, looking very confident and arrogant.", Status: models.StatusPending},
			{ID: "char-rua", Name: "Rùa", Prompt: "A wise-looking tortoise, calm and determined.", Status: models.StatusPending},
		},
		Config: models.DefaultVideoConfig(),
	}
}

// ScenePrompts 按顺序返回每个分镜的视频提示词
func ScenePrompts() ([]string, error) {
	s, err := LoadScript()
	if err != nil {
		return nil, err
	}
	prompts := make([]string, 0, len(s.Scenes))
	for _, sc := range s.Scenes {
		prompts = append(prompts, sc.Prompt())
	}
	return prompts, nil
}

// Prompt 把描述、场景、人物情绪、动作、对白拼成一段自然语言提示词
func (sc ScriptScene) Prompt() string {
	parts := []string{sc.Description}

	if sc.Setting != nil {
		parts = append(parts, fmt.Sprintf("The scene is set in a %s in the %s.", sc.Setting.Location, sc.Setting.Time))
	}

	if len(sc.Characters) > 0 {
		present := make([]string, 0, len(sc.Characters))
		for _, c := range sc.Characters {
			present = append(present, fmt.Sprintf("%s is present, feeling %s", c.Name, c.Emotion))
		}
		parts = append(parts, strings.Join(present, ". "))
	}

	if len(sc.Action) > 0 {
		parts = append(parts, fmt.Sprintf("Key actions: %s.", strings.Join(sc.Action, ", ")))
	}

	if len(sc.Dialogue) > 0 {
		lines := make([]string, 0, len(sc.Dialogue))
		for _, d := range sc.Dialogue {
			for speaker, line := range d {
				lines = append(lines, fmt.Sprintf("%s says something like \"%s\"", speaker, line))
			}
		}
		parts = append(parts, fmt.Sprintf("Visually represent the moment where %s.", strings.Join(lines, " ")))
	}

	if sc.Monologue != "" {
		speaker := "the narrator"
		if len(sc.Characters) > 0 {
			speaker = sc.Characters[0].Name
		}
		parts = append(parts, fmt.Sprintf("The mood reflects %s's inner thought: \"%s\".", speaker, sc.Monologue))
	}

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
