package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storyboard-server/gemini"
	"storyboard-server/mocks"
	"storyboard-server/models"
	"storyboard-server/pipeline"
	"storyboard-server/poller"
	"storyboard-server/store"
	"storyboard-server/wizard"
)

type env struct {
	svc      *Service
	provider *mocks.Provider
	media    *mocks.MediaStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := models.InitDB("sqlite", dsn)
	require.NoError(t, err)

	e := &env{provider: new(mocks.Provider), media: new(mocks.MediaStore)}
	sessions := NewSessions(pipeline.Options{
		Provider: e.provider,
		Media:    e.media,
		Poller:   poller.New(time.Millisecond, time.Second, 0, nil),
	}, nil)
	e.svc = New(db, store.New(db, nil), sessions, nil)
	return e
}

func (e *env) wait() {
	e.svc.Dispatcher.(*InlineDispatcher).Wait()
}

// toSummary 走完向导，使用自定义故事
func (e *env) toSummary(t *testing.T) *Session {
	t.Helper()
	sess := e.svc.Sessions.Create()
	_, err := e.svc.SubmitStory(context.Background(), sess.ID, models.Story{Name: "Cat", Prompt: "A cat explores space"})
	require.NoError(t, err)
	_, err = e.svc.SubmitCharacters(context.Background(), sess.ID, nil, []models.Character{
		{ID: "c1", Name: "Mimi", Prompt: "an orange cat"},
	})
	require.NoError(t, err)
	st, err := sess.Wizard.SubmitConfig(models.DefaultVideoConfig())
	require.NoError(t, err)
	require.Equal(t, wizard.StepSummary, st.Step)
	return sess
}

func TestSubmitStory_SavesToLibrary(t *testing.T) {
	e := newEnv(t)
	sess := e.svc.Sessions.Create()

	st, err := e.svc.SubmitStory(context.Background(), sess.ID, models.Story{Name: "Cat", Prompt: "A cat explores space"})
	require.NoError(t, err)

	stories := e.svc.Store.Stories(context.Background())
	require.Len(t, stories, 1)
	assert.Equal(t, st.Project.Story.ID, stories[0].ID)

	_, err = e.svc.SubmitStory(context.Background(), "missing", models.Story{Prompt: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubmitCharacters_FromLibrary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, err := e.svc.Store.AddCharacter(ctx, "Mimi", "an orange cat")
	require.NoError(t, err)

	sess := e.svc.Sessions.Create()
	_, err = e.svc.SubmitStory(ctx, sess.ID, models.Story{Prompt: "p"})
	require.NoError(t, err)

	_, err = e.svc.SubmitCharacters(ctx, sess.ID, []string{"unknown"}, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	st, err := e.svc.SubmitCharacters(ctx, sess.ID, []string{c.ID}, nil)
	require.NoError(t, err)
	require.Len(t, st.Project.Characters, 1)
	assert.Equal(t, "Mimi", st.Project.Characters[0].Name)
}

func TestStart_RequiresSummary(t *testing.T) {
	e := newEnv(t)
	sess := e.svc.Sessions.Create()

	_, err := e.svc.StartFinalVideo(context.Background(), sess.ID)
	assert.True(t, models.IsValidation(err))
	_, _, err = e.svc.StartCharacterImage(context.Background(), sess.ID, "char-tho")
	assert.True(t, models.IsValidation(err))
	_, _, err = e.svc.StartScenePreview(context.Background(), "missing", "scene-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStartFinalVideo_NoScenes(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)

	task, err := e.svc.StartFinalVideo(context.Background(), sess.ID)
	assert.Nil(t, task)
	assert.True(t, models.IsValidation(err))
	e.provider.AssertNotCalled(t, "StartVideo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCharacterImageTask(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)
	e.provider.On("GenerateImage", mock.Anything, mock.Anything, "1:1").
		Return(gemini.Image{Data: []byte("png"), MIMEType: "image/png"}, nil).Once()
	e.media.On("Put", mock.Anything, "characters", "image/png", []byte("png")).Return("/media/characters/c1.png", nil).Once()

	task, char, err := e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "c1", char.ID)
	e.wait()

	got, err := e.svc.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.Equal(t, "/media/characters/c1.png", got.Result.String("url"))

	// 立绘回写到向导
	chars := sess.Wizard.Project().Characters
	assert.Equal(t, "/media/characters/c1.png", chars[0].ImageURL)

	// 已完成的角色需先重置
	_, _, err = e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	assert.True(t, models.IsValidation(err))
}

func TestCharacterImageTask_Failure(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)
	e.provider.On("GenerateImage", mock.Anything, mock.Anything, "1:1").
		Return(nil, errors.New("safety filter")).Once()

	task, _, err := e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.NoError(t, err)
	e.wait()

	got, err := e.svc.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "safety filter")

	c, err := sess.Pipeline.Character("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, c.Status)
}

func TestCharacterImageTask_DuplicateRequestJoinsInFlight(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)
	release := make(chan struct{})
	e.provider.On("GenerateImage", mock.Anything, mock.Anything, "1:1").
		Run(func(mock.Arguments) { <-release }).
		Return(gemini.Image{Data: []byte("png"), MIMEType: "image/png"}, nil).Once()
	e.media.On("Put", mock.Anything, "characters", "image/png", []byte("png")).Return("/media/characters/c1.png", nil).Once()

	first, char, err := e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.StatusGenerating, char.Status)

	// 第一个任务还没被调度时重复提交，也只会得到在途状态
	second, char, err := e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, models.StatusGenerating, char.Status)

	close(release)
	e.wait()

	got, err := e.svc.Task(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.Equal(t, "/media/characters/c1.png", got.Result.String("url"))
	e.provider.AssertNumberOfCalls(t, "GenerateImage", 1)

	tasks, err := e.svc.RecentTasks(sess.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestStartFinalVideo_DuplicateRejected(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)
	e.provider.On("GenerateScenes", mock.Anything, mock.Anything).Return([]string{"Scene A"}, nil).Once()
	_, err := sess.Pipeline.GenerateScenes(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	e.provider.On("StartVideo", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(models.Operation{Name: "operations/final", Done: true, MediaURI: "https://media/final.mp4"}, nil).Once()
	e.provider.On("DownloadVideo", mock.Anything, "https://media/final.mp4").Return([]byte("final"), nil).Once()
	e.media.On("Put", mock.Anything, "videos", "video/mp4", []byte("final")).Return("/media/videos/f.mp4", nil).Once()

	first, err := e.svc.StartFinalVideo(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.svc.StartFinalVideo(context.Background(), sess.ID)
	assert.Nil(t, second)
	assert.True(t, models.IsValidation(err))

	close(release)
	e.wait()

	got, err := e.svc.Task(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
	assert.Equal(t, "/media/videos/f.mp4", got.Result.String("url"))
	e.provider.AssertNumberOfCalls(t, "StartVideo", 1)
}

type failingDispatcher struct{ err error }

func (d failingDispatcher) Dispatch(context.Context, *models.Task) error { return d.err }

func TestStart_DispatchFailureResetsItem(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)
	e.svc.Dispatcher = failingDispatcher{err: errors.New("redis unavailable")}

	task, _, err := e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.Error(t, err)
	assert.Nil(t, task)

	c, err := sess.Pipeline.Character("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, c.Status)

	tasks, err := e.svc.RecentTasks(sess.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)

	// 回退后可以重新提交
	e.svc.Dispatcher = NewInlineDispatcher(e.svc.RunTask, nil)
	e.provider.On("GenerateImage", mock.Anything, mock.Anything, "1:1").
		Return(gemini.Image{Data: []byte("png"), MIMEType: "image/png"}, nil).Once()
	e.media.On("Put", mock.Anything, "characters", "image/png", []byte("png")).Return("/media/characters/c1.png", nil).Once()
	task, _, err = e.svc.StartCharacterImage(context.Background(), sess.ID, "c1")
	require.NoError(t, err)
	require.NotNil(t, task)
	e.wait()
	c, err = sess.Pipeline.Character("c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, c.Status)
}

func TestInlineDispatcher_ShutdownCancelsStragglers(t *testing.T) {
	started := make(chan struct{})
	var finished error
	d := NewInlineDispatcher(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		finished = ctx.Err()
		return finished
	}, nil)
	require.NoError(t, d.Dispatch(context.Background(), &models.Task{ID: "t1"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.ErrorIs(t, finished, context.Canceled)

	assert.Error(t, d.Dispatch(context.Background(), &models.Task{ID: "t2"}))
}

func TestInlineDispatcher_ShutdownWaitsForRunningTasks(t *testing.T) {
	release := make(chan struct{})
	var ran int
	d := NewInlineDispatcher(func(ctx context.Context, _ string) error {
		<-release
		ran++
		return ctx.Err()
	}, nil)
	require.NoError(t, d.Dispatch(context.Background(), &models.Task{ID: "t1"}))

	go func() {
		time.Sleep(5 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, 1, ran)
}

func TestRunTask_MissingSession(t *testing.T) {
	e := newEnv(t)
	task := &models.Task{ID: "t-orphan", SessionID: "gone", Type: models.TaskTypeFinalVideo}
	require.NoError(t, models.CreateTaskGorm(e.svc.DB, task))

	err := e.svc.RunTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := e.svc.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
}

func TestImportProject(t *testing.T) {
	e := newEnv(t)
	sess := e.toSummary(t)

	_, err := e.svc.ImportProject(sess.ID, []byte("{oops"))
	assert.True(t, models.IsValidation(err))

	st, err := e.svc.ImportProject(sess.ID, []byte(`{"story":null,"characters":[],"config":{"model":"veo-2.0-generate-001","aspectRatio":"1:1","storagePath":"/x"}}`))
	require.NoError(t, err)
	assert.Equal(t, wizard.StepStory, st.Step)
	assert.Nil(t, st.Project.Story)
	assert.Equal(t, "1:1", st.Project.Config.AspectRatio)
}

func TestHandleGenerateTask(t *testing.T) {
	var ran []string
	p := NewProcessor(func(_ context.Context, id string) error {
		ran = append(ran, id)
		if id == "gone" {
			return fmt.Errorf("load task: %w", models.ErrNotFound)
		}
		return nil
	}, nil)

	err := p.HandleGenerateTask(context.Background(), asynq.NewTask(TypeGenerateTask, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = p.HandleGenerateTask(context.Background(), asynq.NewTask(TypeGenerateTask, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	payload, _ := json.Marshal(TaskPayload{TaskID: "t1"})
	require.NoError(t, p.HandleGenerateTask(context.Background(), asynq.NewTask(TypeGenerateTask, payload)))

	payload, _ = json.Marshal(TaskPayload{TaskID: "gone"})
	err = p.HandleGenerateTask(context.Background(), asynq.NewTask(TypeGenerateTask, payload))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, []string{"t1", "gone"}, ran)
}
