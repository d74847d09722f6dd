package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowtale/internal/flows"
	"flowtale/internal/messaging"
	"flowtale/internal/mocks"
	"flowtale/internal/models"
	"flowtale/internal/repository"
	"flowtale/internal/service"
	"flowtale/pkg/ai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	svc       service.StoryService
	ai        *mocks.MockAIClient
	repo      *repository.MemoryStoryRepository
	publisher *mocks.MockEventPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := mocks.NewMockAIClient(t)
	storyFlows, err := flows.New(client, ai.GenerationParams{}, zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewMemoryStoryRepository(zap.NewNop())
	publisher := &mocks.MockEventPublisher{}
	publisher.Test(t)

	return &testEnv{
		svc:       service.NewStoryService(storyFlows, repo, publisher, zap.NewNop()),
		ai:        client,
		repo:      repo,
		publisher: publisher,
	}
}

func (e *testEnv) stubFlow(flow, reply string) *mock.Call {
	return e.ai.On("GenerateText", mock.Anything, flow, mock.Anything, mock.Anything, mock.Anything).
		Return(reply, ai.UsageInfo{}, nil).Once()
}

func (e *testEnv) expectEvent(eventType messaging.EventType) {
	e.publisher.On("PublishStoryEvent", mock.Anything,
		mock.MatchedBy(func(ev messaging.StoryEvent) bool {
			return ev.EventType == eventType && ev.StoryID != "" && !ev.OccurredAt.IsZero()
		}),
	).Return(nil).Once()
}

// singleNodeStory - история из одного корневого узла.
func singleNodeStory(storyPart string, paths []string) *models.Story {
	root := models.NewNode(nil, nil, storyPart, paths)
	now := time.Now().UTC()
	return &models.Story{
		ID:            "story-1",
		Title:         "X",
		Genre:         "Fantasy",
		Nodes:         map[string]*models.StoryNode{root.ID: root},
		RootNodeID:    root.ID,
		CurrentNodeID: root.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStartStory_BuildsSingleRootStory(t *testing.T) {
	env := newTestEnv(t)
	env.stubFlow(flows.FlowSuggestStoryStart, `{"storyline": "Once upon a time", "branchingPaths": ["Go left", "Go right"]}`)

	story, err := env.svc.StartStory(context.Background(), "X", "Fantasy")
	require.NoError(t, err)

	assert.Empty(t, story.ID)
	assert.Equal(t, "X", story.Title)
	assert.Equal(t, "Fantasy", story.Genre)
	assert.False(t, story.IsComplete)
	require.Len(t, story.Nodes, 1)

	root, ok := story.Nodes[story.RootNodeID]
	require.True(t, ok)
	assert.Equal(t, story.RootNodeID, story.CurrentNodeID)
	assert.Nil(t, root.ParentID)
	assert.Nil(t, root.Choice)
	assert.Equal(t, "Once upon a time", root.StoryPart)
	assert.Equal(t, []string{"Go left", "Go right"}, root.BranchingPaths)
	assert.NoError(t, story.Validate())
}

func TestStartStory_GenerationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ai.On("GenerateText", mock.Anything, flows.FlowSuggestStoryStart, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, errors.New("connection refused")).Once()

	story, err := env.svc.StartStory(context.Background(), "X", "Fantasy")
	assert.Nil(t, story)
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)
}

func TestContinueStory_ReturnsNextPartWithoutMutatingInput(t *testing.T) {
	env := newTestEnv(t)
	env.ai.On("GenerateText", mock.Anything, flows.FlowGenerateNewStoryline, mock.Anything,
		mock.MatchedBy(func(user string) bool {
			return strings.Contains(user, "Previous Story: Once upon a time") && strings.Contains(user, "User Choice: Go left")
		}),
		mock.Anything,
	).Return(`{"newStoryline": "You entered a dark cave"}`, ai.UsageInfo{}, nil).Once()
	env.ai.On("GenerateText", mock.Anything, flows.FlowGenerateBranchingPaths, mock.Anything,
		mock.MatchedBy(func(user string) bool { return strings.Contains(user, "You entered a dark cave") }),
		mock.Anything,
	).Return(`{"branchingPaths": ["Light a torch", "Turn back"]}`, ai.UsageInfo{}, nil).Once()

	story := singleNodeStory("Once upon a time", []string{"Go left", "Go right"})
	before := story.Clone()

	result, err := env.svc.ContinueStory(context.Background(), story, "Go left")
	require.NoError(t, err)
	assert.Equal(t, "You entered a dark cave", result.NewStoryPart)
	assert.Equal(t, []string{"Light a torch", "Turn back"}, result.NewBranchingPaths)
	assert.Equal(t, before, story)
}

func TestContinueStory_MissingCurrentNode(t *testing.T) {
	env := newTestEnv(t)
	story := singleNodeStory("Once upon a time", []string{"Go left"})
	story.CurrentNodeID = "missing"

	result, err := env.svc.ContinueStory(context.Background(), story, "Go left")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrCurrentNodeNotFound)
	env.ai.AssertNotCalled(t, "GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestContinueStory_CompletedStory(t *testing.T) {
	env := newTestEnv(t)
	story := singleNodeStory("Once upon a time", []string{"Go left"})
	require.NoError(t, story.Complete("The End", "Done."))

	_, err := env.svc.ContinueStory(context.Background(), story, "Go left")
	assert.ErrorIs(t, err, models.ErrStoryAlreadyComplete)
}

func TestContinueStory_EmptyChoice(t *testing.T) {
	env := newTestEnv(t)
	story := singleNodeStory("Once upon a time", []string{"Go left"})

	_, err := env.svc.ContinueStory(context.Background(), story, "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestContinueStory_BranchingContractViolation(t *testing.T) {
	env := newTestEnv(t)
	env.stubFlow(flows.FlowGenerateNewStoryline, `{"newStoryline": "You entered a dark cave"}`)
	env.stubFlow(flows.FlowGenerateBranchingPaths, `not json at all`)

	story := singleNodeStory("Once upon a time", []string{"Go left"})
	result, err := env.svc.ContinueStory(context.Background(), story, "Go left")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrGenerationContractViolation)
}

func TestSummarizeStory_UsesTraversedPath(t *testing.T) {
	env := newTestEnv(t)
	story := singleNodeStory("Once upon a time", []string{"Go left", "Go right"})
	_, err := story.AppendNode("Go left", "You entered a dark cave", []string{"Light a torch"})
	require.NoError(t, err)

	env.ai.On("GenerateText", mock.Anything, flows.FlowSummarizeStory, mock.Anything,
		mock.MatchedBy(func(user string) bool {
			return strings.Contains(user, "- Once upon a time\n- You entered a dark cave")
		}),
		mock.Anything,
	).Return(`{"finalTitle": "The Cave", "conclusion": "The end."}`, ai.UsageInfo{}, nil).Once()

	summary, err := env.svc.SummarizeStory(context.Background(), story)
	require.NoError(t, err)
	assert.Equal(t, "The Cave", summary.FinalTitle)
	assert.Equal(t, "The end.", summary.Conclusion)
}

func TestStoryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.stubFlow(flows.FlowSuggestStoryStart, `{"storyline": "Once upon a time", "branchingPaths": ["Go left", "Go right"]}`)
	env.expectEvent(messaging.EventStoryCreated)

	created, err := env.svc.CreateStory(ctx, "A lost city in the jungle", "Adventure")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	env.stubFlow(flows.FlowGenerateNewStoryline, `{"newStoryline": "You entered a dark cave"}`)
	env.stubFlow(flows.FlowGenerateBranchingPaths, `{"branchingPaths": ["Light a torch", "Turn back"]}`)
	env.expectEvent(messaging.EventStoryContinued)

	advanced, err := env.svc.MakeChoice(ctx, created.ID, "Go left")
	require.NoError(t, err)
	assert.Len(t, advanced.Nodes, 2)
	assert.NotEqual(t, created.CurrentNodeID, advanced.CurrentNodeID)

	history, err := env.svc.GetHistory(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Once upon a time", history[0].StoryPart)
	assert.Equal(t, "You entered a dark cave", history[1].StoryPart)
	require.NotNil(t, history[1].Choice)
	assert.Equal(t, "Go left", *history[1].Choice)

	env.stubFlow(flows.FlowSummarizeStory, `{"finalTitle": "The Cave", "conclusion": "The end."}`)
	env.expectEvent(messaging.EventStoryCompleted)

	completed, err := env.svc.CompleteStory(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, completed.IsComplete)
	assert.Equal(t, "The Cave", completed.FinalTitle)

	_, err = env.svc.CompleteStory(ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrStoryAlreadyComplete)

	_, err = env.svc.MakeChoice(ctx, created.ID, "Turn back")
	assert.ErrorIs(t, err, models.ErrStoryAlreadyComplete)

	stories, err := env.svc.ListStories(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, created.ID, stories[0].ID)

	env.publisher.AssertExpectations(t)
}

func TestMakeChoice_GenerationFailureLeavesStoryUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	story := singleNodeStory("Once upon a time", []string{"Go left"})
	require.NoError(t, env.repo.Add(ctx, story))

	env.stubFlow(flows.FlowGenerateNewStoryline, `{"newStoryline": "You entered a dark cave"}`)
	env.ai.On("GenerateText", mock.Anything, flows.FlowGenerateBranchingPaths, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, context.DeadlineExceeded).Once()

	_, err := env.svc.MakeChoice(ctx, story.ID, "Go left")
	assert.ErrorIs(t, err, models.ErrGenerationUnavailable)

	stored, err := env.repo.Get(ctx, story.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 1)
	assert.Equal(t, story.CurrentNodeID, stored.CurrentNodeID)
	env.publisher.AssertNotCalled(t, "PublishStoryEvent", mock.Anything, mock.Anything)
}

func TestMakeChoice_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.MakeChoice(context.Background(), "nope", "Go left")
	assert.ErrorIs(t, err, models.ErrStoryNotFound)
}

func TestMakeChoice_ConcurrentChoiceRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	story := singleNodeStory("Once upon a time", []string{"Go left", "Go right"})
	require.NoError(t, env.repo.Add(ctx, story))

	started := make(chan struct{})
	release := make(chan struct{})
	env.stubFlow(flows.FlowGenerateNewStoryline, `{"newStoryline": "You entered a dark cave"}`).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		})
	env.stubFlow(flows.FlowGenerateBranchingPaths, `{"branchingPaths": ["Light a torch"]}`)
	env.expectEvent(messaging.EventStoryContinued)

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = env.svc.MakeChoice(ctx, story.ID, "Go left")
	}()

	<-started
	_, err := env.svc.MakeChoice(ctx, story.ID, "Go right")
	assert.ErrorIs(t, err, models.ErrGenerationInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	stored, err := env.repo.Get(ctx, story.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)
}

func TestMakeChoice_StoryAdvancedDuringGeneration(t *testing.T) {
	client := mocks.NewMockAIClient(t)
	storyFlows, err := flows.New(client, ai.GenerationParams{}, zap.NewNop())
	require.NoError(t, err)
	repo := &mocks.MockStoryRepository{}
	repo.Test(t)

	story := singleNodeStory("Once upon a time", []string{"Go left"})
	advanced := story.Clone()
	_, err = advanced.AppendNode("Go right", "Someone else moved on", []string{"Wait"})
	require.NoError(t, err)

	repo.On("Get", mock.Anything, story.ID).Return(story, nil).Once()
	repo.On("Update", mock.Anything, story.ID, mock.Anything).Return(advanced, nil).Once()
	client.On("GenerateText", mock.Anything, flows.FlowGenerateNewStoryline, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"newStoryline": "You entered a dark cave"}`, ai.UsageInfo{}, nil).Once()
	client.On("GenerateText", mock.Anything, flows.FlowGenerateBranchingPaths, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"branchingPaths": ["Light a torch"]}`, ai.UsageInfo{}, nil).Once()

	svc := service.NewStoryService(storyFlows, repo, nil, zap.NewNop())
	_, err = svc.MakeChoice(context.Background(), story.ID, "Go left")
	assert.ErrorIs(t, err, models.ErrGenerationInProgress)
	repo.AssertExpectations(t)
}

func TestCreateStory_PublishFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	env.stubFlow(flows.FlowSuggestStoryStart, `{"storyline": "Once upon a time", "branchingPaths": ["Go left"]}`)
	env.publisher.On("PublishStoryEvent", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	story, err := env.svc.CreateStory(context.Background(), "A lost city in the jungle", "Adventure")
	require.NoError(t, err)

	stored, err := env.repo.Get(context.Background(), story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.ID, stored.ID)
}

func TestCompleteStory_SummaryFailureKeepsStoryOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	story := singleNodeStory("Once upon a time", []string{"Go left"})
	require.NoError(t, env.repo.Add(ctx, story))
	env.stubFlow(flows.FlowSummarizeStory, `{"finalTitle": ""}`)

	_, err := env.svc.CompleteStory(ctx, story.ID)
	assert.ErrorIs(t, err, models.ErrGenerationContractViolation)

	stored, err := env.repo.Get(ctx, story.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsComplete)
}

func TestCompleteStory_StoryAdvancedDuringSummary(t *testing.T) {
	client := mocks.NewMockAIClient(t)
	storyFlows, err := flows.New(client, ai.GenerationParams{}, zap.NewNop())
	require.NoError(t, err)
	repo := &mocks.MockStoryRepository{}
	repo.Test(t)

	story := singleNodeStory("Once upon a time", []string{"Go left"})
	advanced := story.Clone()
	_, err = advanced.AppendNode("Go left", "Someone else moved on", []string{"Wait"})
	require.NoError(t, err)

	repo.On("Get", mock.Anything, story.ID).Return(story, nil).Once()
	repo.On("Update", mock.Anything, story.ID, mock.Anything).Return(advanced, nil).Once()
	client.On("GenerateText", mock.Anything, flows.FlowSummarizeStory, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"finalTitle": "The Cave", "conclusion": "The end."}`, ai.UsageInfo{}, nil).Once()

	svc := service.NewStoryService(storyFlows, repo, nil, zap.NewNop())
	completed, err := svc.CompleteStory(context.Background(), story.ID)
	assert.Nil(t, completed)
	assert.ErrorIs(t, err, models.ErrGenerationInProgress)
	repo.AssertExpectations(t)
}

func TestClientStoryActions_RejectMalformedTree(t *testing.T) {
	danglingParent := func() *models.Story {
		story := singleNodeStory("Once upon a time", []string{"Go left"})
		missing := "missing"
		leaf := models.NewNode(&missing, nil, "Lost", []string{"Wait"})
		story.Nodes[leaf.ID] = leaf
		return story
	}
	nullNode := func() *models.Story {
		story := singleNodeStory("Once upon a time", []string{"Go left"})
		story.Nodes["ghost"] = nil
		return story
	}
	cycle := func() *models.Story {
		story := singleNodeStory("Once upon a time", []string{"Go left"})
		a, b := "a", "b"
		story.Nodes[a] = &models.StoryNode{ID: a, ParentID: &b, StoryPart: "A"}
		story.Nodes[b] = &models.StoryNode{ID: b, ParentID: &a, StoryPart: "B"}
		return story
	}

	tests := []struct {
		name  string
		story func() *models.Story
	}{
		{"dangling parent", danglingParent},
		{"null node", nullNode},
		{"cycle", cycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Модель не должна вызываться: у MockAIClient нет ожиданий
			env := newTestEnv(t)

			result, err := env.svc.ContinueStory(context.Background(), tt.story(), "Go left")
			assert.Nil(t, result)
			assert.ErrorIs(t, err, models.ErrInvalidStory)

			summary, err := env.svc.SummarizeStory(context.Background(), tt.story())
			assert.Nil(t, summary)
			assert.ErrorIs(t, err, models.ErrInvalidStory)
		})
	}
}
