package mocks

import (
	"context"

	"flowtale/internal/models"
	"flowtale/internal/repository"

	"github.com/stretchr/testify/mock"
)

// MockStoryRepository is a mock type for the StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

func (_m *MockStoryRepository) Add(ctx context.Context, story *models.Story) error {
	ret := _m.Called(ctx, story)
	return ret.Error(0)
}

func (_m *MockStoryRepository) Get(ctx context.Context, id string) (*models.Story, error) {
	ret := _m.Called(ctx, id)
	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

// Update applies the patch to the story passed as the first return value when it is a *models.Story.
func (_m *MockStoryRepository) Update(ctx context.Context, id string, patch repository.StoryPatch) (*models.Story, error) {
	ret := _m.Called(ctx, id, patch)
	if err := ret.Error(1); err != nil {
		return nil, err
	}
	story, ok := ret.Get(0).(*models.Story)
	if !ok || story == nil {
		return nil, nil
	}
	updated := story.Clone()
	if err := patch(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (_m *MockStoryRepository) MarkComplete(ctx context.Context, id, finalTitle, conclusion string) (*models.Story, error) {
	ret := _m.Called(ctx, id, finalTitle, conclusion)
	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryRepository) List(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	ret := _m.Called(ctx, limit, offset)
	var r0 []*models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Story)
	}
	return r0, ret.Error(1)
}

var _ repository.StoryRepository = (*MockStoryRepository)(nil)
