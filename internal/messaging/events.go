package messaging

import (
	"context"
	"time"
)

// EventType - тип события жизненного цикла истории.
type EventType string

const (
	EventStoryCreated   EventType = "story.created"
	EventStoryContinued EventType = "story.continued"
	EventStoryCompleted EventType = "story.completed"
)

// StoryEvent - сообщение, публикуемое после фиксации изменения истории.
type StoryEvent struct {
	EventType  EventType `json:"eventType"`
	StoryID    string    `json:"storyId"`
	NodeID     string    `json:"nodeId,omitempty"`
	Title      string    `json:"title"`
	Genre      string    `json:"genre"`
	FinalTitle string    `json:"finalTitle,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher публикует события историй.
type EventPublisher interface {
	PublishStoryEvent(ctx context.Context, event StoryEvent) error
	Close() error
}

// NoopPublisher используется, когда брокер не настроен.
type NoopPublisher struct{}

func (NoopPublisher) PublishStoryEvent(context.Context, StoryEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
