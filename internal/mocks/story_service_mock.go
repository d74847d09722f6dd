package mocks

import (
	"context"

	"flowtale/internal/models"
	"flowtale/internal/service"

	"github.com/stretchr/testify/mock"
)

// MockStoryService is a mock type for the StoryService type
type MockStoryService struct {
	mock.Mock
}

func (_m *MockStoryService) StartStory(ctx context.Context, topic, genre string) (*models.Story, error) {
	ret := _m.Called(ctx, topic, genre)
	return storyOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockStoryService) ContinueStory(ctx context.Context, story *models.Story, choice string) (*service.ContinueResult, error) {
	ret := _m.Called(ctx, story, choice)
	var r0 *service.ContinueResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.ContinueResult)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) SummarizeStory(ctx context.Context, story *models.Story) (*service.SummaryResult, error) {
	ret := _m.Called(ctx, story)
	var r0 *service.SummaryResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.SummaryResult)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) CreateStory(ctx context.Context, topic, genre string) (*models.Story, error) {
	ret := _m.Called(ctx, topic, genre)
	return storyOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockStoryService) MakeChoice(ctx context.Context, storyID, choice string) (*models.Story, error) {
	ret := _m.Called(ctx, storyID, choice)
	return storyOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockStoryService) CompleteStory(ctx context.Context, storyID string) (*models.Story, error) {
	ret := _m.Called(ctx, storyID)
	return storyOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockStoryService) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	ret := _m.Called(ctx, storyID)
	return storyOrNil(ret.Get(0)), ret.Error(1)
}

func (_m *MockStoryService) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	ret := _m.Called(ctx, limit, offset)
	var r0 []*models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Story)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) GetHistory(ctx context.Context, storyID string) ([]*models.StoryNode, error) {
	ret := _m.Called(ctx, storyID)
	var r0 []*models.StoryNode
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.StoryNode)
	}
	return r0, ret.Error(1)
}

func storyOrNil(v interface{}) *models.Story {
	if v == nil {
		return nil
	}
	return v.(*models.Story)
}

var _ service.StoryService = (*MockStoryService)(nil)
