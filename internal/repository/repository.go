package repository

import (
	"context"
	"errors"
	"fmt"

	"flowtale/internal/models"
)

// StoryPatch изменяет историю внутри атомарного Update.
// Ошибка патча отменяет обновление, сохраненная история не меняется.
type StoryPatch func(story *models.Story) error

// StoryRepository хранит истории. Все методы возвращают копии,
// изменение результата не влияет на сохраненное состояние.
type StoryRepository interface {
	// Add сохраняет новую историю. ErrStoryAlreadyExists, если ID занят.
	Add(ctx context.Context, story *models.Story) error
	// Get возвращает историю по ID или ErrStoryNotFound.
	Get(ctx context.Context, id string) (*models.Story, error)
	// Update атомарно применяет patch к одной истории и возвращает новое состояние.
	Update(ctx context.Context, id string, patch StoryPatch) (*models.Story, error)
	// MarkComplete завершает историю. ErrStoryAlreadyComplete, если она уже завершена.
	MarkComplete(ctx context.Context, id, finalTitle, conclusion string) (*models.Story, error)
	// List возвращает истории, новые первыми.
	List(ctx context.Context, limit, offset int) ([]*models.Story, error)
}

// Лимиты для List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func validateNew(story *models.Story) error {
	if story == nil {
		return fmt.Errorf("%w: story is nil", models.ErrInvalidStory)
	}
	if story.ID == "" {
		return fmt.Errorf("%w: story id is empty", models.ErrInvalidStory)
	}
	return story.Validate()
}

// applyPatch применяет patch к копии и проверяет инварианты результата.
func applyPatch(stored *models.Story, patch StoryPatch) (*models.Story, error) {
	if patch == nil {
		return nil, errors.New("story patch is nil")
	}
	updated := stored.Clone()
	if err := patch(updated); err != nil {
		return nil, err
	}
	if updated.ID != stored.ID {
		return nil, fmt.Errorf("%w: patch changed story id", models.ErrInvalidStory)
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return updated, nil
}

func completePatch(finalTitle, conclusion string) StoryPatch {
	return func(story *models.Story) error {
		return story.Complete(finalTitle, conclusion)
	}
}
