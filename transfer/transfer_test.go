package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard-server/models"
)

func TestProjectRoundTrip(t *testing.T) {
	original := models.ProjectData{
		Story: &models.Story{ID: "s1", Name: "Test", Prompt: "A hero's journey"},
		Characters: []models.Character{
			{ID: "c1", Name: "Hero", Prompt: "brave", Status: models.StatusCompleted, ImageURL: "/media/c1.png"},
			{ID: "c2", Name: "Villain", Prompt: "sly", Status: models.StatusPending},
		},
		Config: models.VideoConfig{Model: "veo-2.0-generate-001", AspectRatio: "9:16", StoragePath: "/tmp/out"},
	}

	doc, err := ExportProject(original)
	require.NoError(t, err)

	imported, err := ImportProject(doc)
	require.NoError(t, err)
	assert.Equal(t, original, imported)
}

func TestImportProject_NullStory(t *testing.T) {
	p, err := ImportProject([]byte(`{"story":null,"characters":[],"config":{"model":"veo-2.0-generate-001","aspectRatio":"1:1","storagePath":""}}`))
	require.NoError(t, err)
	assert.Nil(t, p.Story)
	assert.Empty(t, p.Characters)
}

func TestImportProject_Rejects(t *testing.T) {
	_, err := ImportProject([]byte(`{not json`))
	assert.True(t, models.IsValidation(err))

	_, err = ImportProject([]byte(`{"story":null,"characters":[],"config":{"model":"sora","aspectRatio":"1:1"}}`))
	assert.True(t, models.IsValidation(err))
}

func TestParseCharacters_AbortsWholeBatch(t *testing.T) {
	doc := []byte(`[{"id":"a","name":"A","prompt":"p"},{"id":"b","name":"","prompt":"p"}]`)
	chars, err := ParseCharacters(doc)
	assert.Nil(t, chars)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "#2")
}

func TestParseCharacters_DefaultsStatus(t *testing.T) {
	chars, err := ParseCharacters([]byte(`[{"id":"a","name":"A","prompt":"p"},{"id":"b","name":"B","prompt":"q","status":"completed","imageUrl":"x"}]`))
	require.NoError(t, err)
	require.Len(t, chars, 2)
	assert.Equal(t, models.StatusPending, chars[0].Status)
	assert.Equal(t, models.StatusCompleted, chars[1].Status)
}

func TestMergeCharacters_NeverOverwrites(t *testing.T) {
	existing := []models.Character{{ID: "a", Name: "Original", Prompt: "p", Status: models.StatusPending}}
	imported := []models.Character{
		{ID: "a", Name: "Changed", Prompt: "other", Status: models.StatusCompleted},
		{ID: "b", Name: "New", Prompt: "q", Status: models.StatusPending},
		{ID: "b", Name: "Dup", Prompt: "q", Status: models.StatusPending},
	}

	merged, added := MergeCharacters(existing, imported)
	assert.Equal(t, 1, added)
	require.Len(t, merged, 2)
	assert.Equal(t, existing[0], merged[0])
	assert.Equal(t, "New", merged[1].Name)

	again, addedAgain := MergeCharacters(merged, imported)
	assert.Zero(t, addedAgain)
	assert.Equal(t, merged, again)
}

func TestMergeStories(t *testing.T) {
	merged, added := MergeStories(
		[]models.Story{{ID: "s1", Name: "one", Prompt: "p"}},
		[]models.Story{{ID: "s1", Name: "x", Prompt: "x"}, {ID: "s2", Name: "two", Prompt: "q"}},
	)
	assert.Equal(t, 1, added)
	assert.Equal(t, "one", merged[0].Name)
	assert.Equal(t, "s2", merged[1].ID)
}
