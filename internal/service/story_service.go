package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowtale/internal/flows"
	"flowtale/internal/messaging"
	"flowtale/internal/models"
	"flowtale/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StoryFlows - генеративные операции, на которых построены действия с историей.
type StoryFlows interface {
	SuggestStoryStart(ctx context.Context, in flows.SuggestStoryStartInput) (*flows.SuggestStoryStartOutput, error)
	GenerateNewStoryline(ctx context.Context, in flows.GenerateNewStorylineInput) (*flows.GenerateNewStorylineOutput, error)
	GenerateBranchingPaths(ctx context.Context, in flows.GenerateBranchingPathsInput) (*flows.GenerateBranchingPathsOutput, error)
	SummarizeStory(ctx context.Context, in flows.SummarizeStoryInput) (*flows.SummarizeStoryOutput, error)
}

// ContinueResult - следующий фрагмент истории, еще не добавленный в дерево.
type ContinueResult struct {
	NewStoryPart      string   `json:"newStoryPart"`
	NewBranchingPaths []string `json:"newBranchingPaths"`
}

// SummaryResult - финальное название и заключение истории.
type SummaryResult struct {
	FinalTitle string `json:"finalTitle"`
	Conclusion string `json:"conclusion"`
}

// StoryService определяет действия с историями.
type StoryService interface {
	// StartStory генерирует начало истории. ID не назначается, ничего не сохраняется.
	StartStory(ctx context.Context, topic, genre string) (*models.Story, error)
	// ContinueStory генерирует продолжение от текущего узла. story не изменяется.
	ContinueStory(ctx context.Context, story *models.Story, choice string) (*ContinueResult, error)
	// SummarizeStory генерирует финал по пройденному пути.
	SummarizeStory(ctx context.Context, story *models.Story) (*SummaryResult, error)

	CreateStory(ctx context.Context, topic, genre string) (*models.Story, error)
	MakeChoice(ctx context.Context, storyID, choice string) (*models.Story, error)
	CompleteStory(ctx context.Context, storyID string) (*models.Story, error)
	GetStory(ctx context.Context, storyID string) (*models.Story, error)
	ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error)
	GetHistory(ctx context.Context, storyID string) ([]*models.StoryNode, error)
}

type storyServiceImpl struct {
	flows     StoryFlows
	repo      repository.StoryRepository
	publisher messaging.EventPublisher
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewStoryService создает сервис историй. publisher может быть nil - тогда события не публикуются.
func NewStoryService(storyFlows StoryFlows, repo repository.StoryRepository, publisher messaging.EventPublisher, logger *zap.Logger) StoryService {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	return &storyServiceImpl{
		flows:     storyFlows,
		repo:      repo,
		publisher: publisher,
		logger:    logger.Named("StoryService"),
		inFlight:  make(map[string]struct{}),
	}
}

func (s *storyServiceImpl) StartStory(ctx context.Context, topic, genre string) (*models.Story, error) {
	out, err := s.flows.SuggestStoryStart(ctx, flows.SuggestStoryStartInput{Topic: topic, Genre: genre})
	if err != nil {
		return nil, err
	}

	root := models.NewNode(nil, nil, out.Storyline, out.BranchingPaths)
	now := time.Now().UTC()
	story := &models.Story{
		Title:         topic,
		Genre:         genre,
		Nodes:         map[string]*models.StoryNode{root.ID: root},
		RootNodeID:    root.ID,
		CurrentNodeID: root.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if len(out.Characters) > 0 {
		story.Characters = out.Characters
	}
	return story, nil
}

func (s *storyServiceImpl) ContinueStory(ctx context.Context, story *models.Story, choice string) (*ContinueResult, error) {
	if story == nil {
		return nil, fmt.Errorf("%w: story is required", models.ErrInvalidInput)
	}
	current, err := story.CurrentNode()
	if err != nil {
		s.logger.Error("Current node is missing, story state is corrupted",
			zap.String("storyID", story.ID), zap.String("currentNodeID", story.CurrentNodeID))
		return nil, err
	}
	// История пришла от клиента, дерево может быть битым
	if err := story.Validate(); err != nil {
		return nil, err
	}
	if story.IsComplete {
		return nil, fmt.Errorf("%w: story %s", models.ErrStoryAlreadyComplete, story.ID)
	}
	if strings.TrimSpace(choice) == "" {
		return nil, fmt.Errorf("%w: choice is required", models.ErrInvalidInput)
	}

	storyline, err := s.flows.GenerateNewStoryline(ctx, flows.GenerateNewStorylineInput{
		PreviousStory: current.StoryPart,
		UserChoice:    choice,
		StoryGenre:    story.Genre,
	})
	if err != nil {
		return nil, err
	}
	paths, err := s.flows.GenerateBranchingPaths(ctx, flows.GenerateBranchingPathsInput{
		Storyline: storyline.NewStoryline,
		Genre:     story.Genre,
	})
	if err != nil {
		return nil, err
	}

	return &ContinueResult{
		NewStoryPart:      storyline.NewStoryline,
		NewBranchingPaths: paths.BranchingPaths,
	}, nil
}

func (s *storyServiceImpl) SummarizeStory(ctx context.Context, story *models.Story) (*SummaryResult, error) {
	if story == nil {
		return nil, fmt.Errorf("%w: story is required", models.ErrInvalidInput)
	}
	if err := story.Validate(); err != nil {
		return nil, err
	}
	parts, err := story.StoryParts()
	if err != nil {
		return nil, err
	}
	out, err := s.flows.SummarizeStory(ctx, flows.SummarizeStoryInput{
		StoryHistory: parts,
		StoryTitle:   story.Title,
		StoryGenre:   story.Genre,
	})
	if err != nil {
		return nil, err
	}
	return &SummaryResult{FinalTitle: out.FinalTitle, Conclusion: out.Conclusion}, nil
}

// CreateStory генерирует начало, назначает ID и сохраняет историю.
func (s *storyServiceImpl) CreateStory(ctx context.Context, topic, genre string) (*models.Story, error) {
	story, err := s.StartStory(ctx, topic, genre)
	if err != nil {
		return nil, err
	}
	story.ID = uuid.NewString()
	if err := s.repo.Add(ctx, story); err != nil {
		s.logger.Error("Failed to save new story", zap.String("storyID", story.ID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("Story created", zap.String("storyID", story.ID), zap.String("genre", genre))

	s.publish(ctx, messaging.StoryEvent{
		EventType: messaging.EventStoryCreated,
		StoryID:   story.ID,
		NodeID:    story.RootNodeID,
		Title:     story.Title,
		Genre:     story.Genre,
	})
	return story, nil
}

// MakeChoice генерирует продолжение и затем атомарно добавляет узел.
// При ошибке генерации хранилище не изменяется.
func (s *storyServiceImpl) MakeChoice(ctx context.Context, storyID, choice string) (*models.Story, error) {
	release, err := s.acquire(storyID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.logger.With(zap.String("storyID", storyID))

	story, err := s.repo.Get(ctx, storyID)
	if err != nil {
		return nil, err
	}
	result, err := s.ContinueStory(ctx, story, choice)
	if err != nil {
		log.Warn("Failed to continue story", zap.Error(err))
		return nil, err
	}

	expectedNodeID := story.CurrentNodeID
	updated, err := s.repo.Update(ctx, storyID, func(st *models.Story) error {
		if st.CurrentNodeID != expectedNodeID {
			return fmt.Errorf("%w: story %s advanced while generating", models.ErrGenerationInProgress, storyID)
		}
		_, err := st.AppendNode(choice, result.NewStoryPart, result.NewBranchingPaths)
		return err
	})
	if err != nil {
		log.Error("Failed to commit story node", zap.Error(err))
		return nil, err
	}
	log.Info("Story continued", zap.String("nodeID", updated.CurrentNodeID))

	s.publish(ctx, messaging.StoryEvent{
		EventType: messaging.EventStoryContinued,
		StoryID:   updated.ID,
		NodeID:    updated.CurrentNodeID,
		Title:     updated.Title,
		Genre:     updated.Genre,
	})
	return updated, nil
}

// CompleteStory генерирует финал и помечает историю завершенной.
func (s *storyServiceImpl) CompleteStory(ctx context.Context, storyID string) (*models.Story, error) {
	release, err := s.acquire(storyID)
	if err != nil {
		return nil, err
	}
	defer release()

	story, err := s.repo.Get(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.IsComplete {
		return nil, fmt.Errorf("%w: story %s", models.ErrStoryAlreadyComplete, storyID)
	}
	summary, err := s.SummarizeStory(ctx, story)
	if err != nil {
		s.logger.Warn("Failed to summarize story", zap.String("storyID", storyID), zap.Error(err))
		return nil, err
	}

	expectedNodeID := story.CurrentNodeID
	completed, err := s.repo.Update(ctx, storyID, func(st *models.Story) error {
		if st.CurrentNodeID != expectedNodeID {
			return fmt.Errorf("%w: story %s advanced while summarizing", models.ErrGenerationInProgress, storyID)
		}
		return st.Complete(summary.FinalTitle, summary.Conclusion)
	})
	if err != nil {
		s.logger.Error("Failed to commit story completion", zap.String("storyID", storyID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("Story completed", zap.String("storyID", storyID))

	s.publish(ctx, messaging.StoryEvent{
		EventType:  messaging.EventStoryCompleted,
		StoryID:    completed.ID,
		NodeID:     completed.CurrentNodeID,
		Title:      completed.Title,
		Genre:      completed.Genre,
		FinalTitle: completed.FinalTitle,
	})
	return completed, nil
}

func (s *storyServiceImpl) GetStory(ctx context.Context, storyID string) (*models.Story, error) {
	return s.repo.Get(ctx, storyID)
}

func (s *storyServiceImpl) ListStories(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	return s.repo.List(ctx, limit, offset)
}

// GetHistory возвращает пройденный путь от корня до текущего узла.
func (s *storyServiceImpl) GetHistory(ctx context.Context, storyID string) ([]*models.StoryNode, error) {
	story, err := s.repo.Get(ctx, storyID)
	if err != nil {
		return nil, err
	}
	return story.History()
}

// acquire не дает запустить две генерации для одной истории одновременно.
func (s *storyServiceImpl) acquire(storyID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[storyID]; busy {
		return nil, fmt.Errorf("%w: story %s", models.ErrGenerationInProgress, storyID)
	}
	s.inFlight[storyID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inFlight, storyID)
		s.mu.Unlock()
	}, nil
}

// publish отправляет событие после фиксации изменения. Ошибка только логируется.
func (s *storyServiceImpl) publish(ctx context.Context, event messaging.StoryEvent) {
	event.OccurredAt = time.Now().UTC()
	// Запрос мог уже завершиться, а изменение зафиксировано
	pubCtx := context.WithoutCancel(ctx)
	if err := s.publisher.PublishStoryEvent(pubCtx, event); err != nil {
		s.logger.Warn("Failed to publish story event",
			zap.String("eventType", string(event.EventType)),
			zap.String("storyID", event.StoryID),
			zap.Error(err),
		)
	}
}
