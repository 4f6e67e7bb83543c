package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyboard-server/gemini"
	"storyboard-server/models"
)

// Provider mock for pipeline.Provider
type Provider struct {
	mock.Mock
}

func (m *Provider) GenerateScenes(ctx context.Context, instruction string) ([]string, error) {
	args := m.Called(ctx, instruction)
	scenes, _ := args.Get(0).([]string)
	return scenes, args.Error(1)
}

func (m *Provider) GenerateImage(ctx context.Context, prompt, aspectRatio string) (gemini.Image, error) {
	args := m.Called(ctx, prompt, aspectRatio)
	img, _ := args.Get(0).(gemini.Image)
	return img, args.Error(1)
}

func (m *Provider) StartVideo(ctx context.Context, model, prompt, aspectRatio string) (models.Operation, error) {
	args := m.Called(ctx, model, prompt, aspectRatio)
	op, _ := args.Get(0).(models.Operation)
	return op, args.Error(1)
}

func (m *Provider) GetOperation(ctx context.Context, op models.Operation) (models.Operation, error) {
	args := m.Called(ctx, op)
	next, _ := args.Get(0).(models.Operation)
	return next, args.Error(1)
}

func (m *Provider) DownloadVideo(ctx context.Context, uri string) ([]byte, error) {
	args := m.Called(ctx, uri)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}
