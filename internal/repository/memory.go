package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flowtale/internal/models"

	"go.uber.org/zap"
)

var _ StoryRepository = (*MemoryStoryRepository)(nil)

// MemoryStoryRepository хранит истории в памяти процесса.
type MemoryStoryRepository struct {
	mu      sync.RWMutex
	stories map[string]*models.Story
	logger  *zap.Logger
}

func NewMemoryStoryRepository(logger *zap.Logger) *MemoryStoryRepository {
	return &MemoryStoryRepository{
		stories: make(map[string]*models.Story),
		logger:  logger.Named("MemoryStoryRepo"),
	}
}

func (r *MemoryStoryRepository) Add(ctx context.Context, story *models.Story) error {
	if err := validateNew(story); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stories[story.ID]; exists {
		return fmt.Errorf("%w: %s", models.ErrStoryAlreadyExists, story.ID)
	}
	r.stories[story.ID] = story.Clone()
	r.logger.Debug("Story added", zap.String("storyID", story.ID))
	return nil
}

func (r *MemoryStoryRepository) Get(ctx context.Context, id string) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	story, ok := r.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
	}
	return story.Clone(), nil
}

func (r *MemoryStoryRepository) Update(ctx context.Context, id string, patch StoryPatch) (*models.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
	}
	updated, err := applyPatch(stored, patch)
	if err != nil {
		return nil, err
	}
	r.stories[id] = updated
	r.logger.Debug("Story updated", zap.String("storyID", id), zap.String("currentNodeID", updated.CurrentNodeID))
	return updated.Clone(), nil
}

func (r *MemoryStoryRepository) MarkComplete(ctx context.Context, id, finalTitle, conclusion string) (*models.Story, error) {
	return r.Update(ctx, id, completePatch(finalTitle, conclusion))
}

func (r *MemoryStoryRepository) List(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	limit, offset = normalizePage(limit, offset)

	r.mu.RLock()
	all := make([]*models.Story, 0, len(r.stories))
	for _, story := range r.stories {
		all = append(all, story.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.Story{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}
