package mocks

import (
	"context"

	"flowtale/internal/messaging"

	"github.com/stretchr/testify/mock"
)

// MockEventPublisher is a mock type for the EventPublisher type
type MockEventPublisher struct {
	mock.Mock
}

func (_m *MockEventPublisher) PublishStoryEvent(ctx context.Context, event messaging.StoryEvent) error {
	ret := _m.Called(ctx, event)
	return ret.Error(0)
}

func (_m *MockEventPublisher) Close() error {
	ret := _m.Called()
	return ret.Error(0)
}

var _ messaging.EventPublisher = (*MockEventPublisher)(nil)
