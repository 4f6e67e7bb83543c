package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MediaStore mock for media.Store
type MediaStore struct {
	mock.Mock
}

func (m *MediaStore) Put(ctx context.Context, prefix, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, prefix, contentType, data)
	return args.String(0), args.Error(1)
}
