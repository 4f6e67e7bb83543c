package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"storyboard-server/models"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB, *observer.ObservedLogs) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := models.InitDB("sqlite", dsn)
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)
	return New(db, zap.New(core)), db, logs
}

func TestLoad_MissingKeyReturnsDefault(t *testing.T) {
	s, _, logs := newTestStore(t)

	var got []models.Story
	s.Load(context.Background(), "nope", &got, []models.Story{{ID: "d"}})
	assert.Equal(t, []models.Story{{ID: "d"}}, got)
	assert.Zero(t, logs.Len())
}

func TestLoad_MalformedPayloadFallsBackAndLogs(t *testing.T) {
	s, db, logs := newTestStore(t)
	require.NoError(t, db.Create(&models.Collection{Key: StoriesKey, Payload: "{broken"}).Error)

	stories := s.Stories(context.Background())
	assert.Empty(t, stories)
	assert.Equal(t, 1, logs.FilterMessage("Collection payload malformed, using default").Len())
}

func TestSave_VisibleToNextRead(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, CharactersKey, []models.Character{{ID: "a", Name: "A", Prompt: "p"}}))
	require.NoError(t, s.Save(ctx, CharactersKey, []models.Character{{ID: "b", Name: "B", Prompt: "q"}}))

	chars := s.Characters(ctx)
	require.Len(t, chars, 1)
	assert.Equal(t, "b", chars[0].ID)
}

func TestSaveStory_UpdatesInPlace(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveStory(ctx, models.Story{ID: "s1", Name: "Test", Prompt: "first"})
	require.NoError(t, err)
	_, err = s.SaveStory(ctx, models.Story{ID: "s2", Name: "Other", Prompt: "second"})
	require.NoError(t, err)
	_, err = s.SaveStory(ctx, models.Story{ID: "s1", Name: "Renamed", Prompt: "updated"})
	require.NoError(t, err)

	stories := s.Stories(ctx)
	require.Len(t, stories, 2)
	assert.Equal(t, models.Story{ID: "s1", Name: "Renamed", Prompt: "updated"}, stories[0])
}

func TestSaveStory_Rules(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveStory(ctx, models.Story{Name: "blank", Prompt: "   "})
	assert.True(t, models.IsValidation(err))

	created, err := s.SaveStory(ctx, models.Story{Name: "n", Prompt: "same prompt"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	_, err = s.SaveStory(ctx, models.Story{Name: "dup", Prompt: "same prompt"})
	require.NoError(t, err)
	assert.Len(t, s.Stories(ctx), 1)
}

func TestDeleteStory(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.SaveStory(ctx, models.Story{ID: "s1", Name: "n", Prompt: "p"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteStory(ctx, "s1"))
	assert.Empty(t, s.Stories(ctx))
	assert.ErrorIs(t, s.DeleteStory(ctx, "s1"), models.ErrNotFound)
}

func TestCharacters_AddDeleteLookup(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddCharacter(ctx, "", "prompt")
	assert.True(t, models.IsValidation(err))

	hero, err := s.AddCharacter(ctx, "Hero", "brave")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, hero.Status)
	villain, err := s.AddCharacter(ctx, "Villain", "sly")
	require.NoError(t, err)

	picked, err := s.CharactersByID(ctx, []string{villain.ID, hero.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Villain", "Hero"}, []string{picked[0].Name, picked[1].Name})

	_, err = s.CharactersByID(ctx, []string{"ghost"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, s.DeleteCharacter(ctx, hero.ID))
	assert.Len(t, s.Characters(ctx), 1)
}

func TestImportCharacters_Idempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, CharactersKey, []models.Character{{ID: "a", Name: "Keep", Prompt: "p", Status: models.StatusPending}}))

	batch := []models.Character{
		{ID: "a", Name: "Overwrite?", Prompt: "x", Status: models.StatusCompleted},
		{ID: "b", Name: "New", Prompt: "q", Status: models.StatusPending},
	}
	added, err := s.ImportCharacters(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	added, err = s.ImportCharacters(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, added)

	chars := s.Characters(ctx)
	require.Len(t, chars, 2)
	assert.Equal(t, "Keep", chars[0].Name)
	ids := map[string]int{}
	for _, c := range chars {
		ids[c.ID]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, ids)
}

func TestImportStories(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.ImportStories(ctx, []models.Story{{ID: "s1", Name: "n", Prompt: "p"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Len(t, s.Stories(ctx), 1)
}

func TestAddCharacter_ConcurrentWritersKeepEveryRow(t *testing.T) {
	db, err := models.InitDB("sqlite", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	s := New(db, nil)
	ctx := context.Background()

	const writers = 64
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddCharacter(ctx, fmt.Sprintf("c%d", i), "prompt")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	chars := s.Characters(ctx)
	assert.Len(t, chars, writers)
	seen := map[string]bool{}
	for _, c := range chars {
		seen[c.Name] = true
	}
	assert.Len(t, seen, writers)
}

func TestAddCharacter_ReadErrorKeepsStoredCollection(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, CharactersKey, []models.Character{{ID: "a", Name: "Keep", Prompt: "p"}}))

	readErr := errors.New("disk unavailable")
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:fail_read", func(tx *gorm.DB) {
		_ = tx.AddError(readErr)
	}))
	_, err := s.AddCharacter(ctx, "New", "q")
	require.NoError(t, db.Callback().Query().Remove("test:fail_read"))

	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
	var perr *models.PersistenceReadError
	assert.ErrorAs(t, err, &perr)

	chars := s.Characters(ctx)
	require.Len(t, chars, 1)
	assert.Equal(t, "Keep", chars[0].Name)
}

func TestAddCharacter_MalformedPayloadIsReplaced(t *testing.T) {
	s, db, logs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Collection{Key: CharactersKey, Payload: "{broken"}).Error)

	_, err := s.AddCharacter(ctx, "Hero", "brave")
	require.NoError(t, err)

	chars := s.Characters(ctx)
	require.Len(t, chars, 1)
	assert.Equal(t, "Hero", chars[0].Name)
	assert.Equal(t, 1, logs.FilterMessage("Collection payload malformed, overwriting").Len())
}
