package repository_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowtale/internal/models"
	"flowtale/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// StoryRepositorySuite проверяет поведение, общее для всех хранилищ.
type StoryRepositorySuite struct {
	suite.Suite
	ctx     context.Context
	newRepo func() repository.StoryRepository
	repo    repository.StoryRepository
}

func (s *StoryRepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.newRepo()
}

func newTestStory(createdAt time.Time) *models.Story {
	root := models.NewNode(nil, nil, "Once upon a time", []string{"Go left", "Go right"})
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return &models.Story{
		ID:            uuid.NewString(),
		Title:         "A knight and a dragon",
		Genre:         "Fantasy",
		Characters:    []models.StoryCharacter{{Name: "Ari", Description: "a young knight"}},
		Nodes:         map[string]*models.StoryNode{root.ID: root},
		RootNodeID:    root.ID,
		CurrentNodeID: root.ID,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func (s *StoryRepositorySuite) TestAddAndGet() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(story.ID, got.ID)
	s.Equal(story.Title, got.Title)
	s.Equal(story.Genre, got.Genre)
	s.Equal(story.Characters, got.Characters)
	s.Equal(story.RootNodeID, got.RootNodeID)
	s.Equal(story.CurrentNodeID, got.CurrentNodeID)
	s.Equal(story.Nodes, got.Nodes)
	s.WithinDuration(story.CreatedAt, got.CreatedAt, time.Millisecond)
	s.NoError(got.Validate())
}

func (s *StoryRepositorySuite) TestAdd_Duplicate() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))
	s.ErrorIs(s.repo.Add(s.ctx, story), models.ErrStoryAlreadyExists)
}

func (s *StoryRepositorySuite) TestAdd_Invalid() {
	story := newTestStory(time.Now())
	story.CurrentNodeID = "missing"
	s.Error(s.repo.Add(s.ctx, story))

	noID := newTestStory(time.Now())
	noID.ID = ""
	s.ErrorIs(s.repo.Add(s.ctx, noID), models.ErrInvalidStory)
}

func (s *StoryRepositorySuite) TestGet_NotFound() {
	_, err := s.repo.Get(s.ctx, uuid.NewString())
	s.ErrorIs(err, models.ErrStoryNotFound)
}

func (s *StoryRepositorySuite) TestGet_ReturnsCopy() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	// Изменение исходного объекта после Add не влияет на хранилище
	story.Title = "mutated before get"

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	got.Title = "mutated"
	got.Nodes[got.RootNodeID].StoryPart = "mutated"

	again, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal("A knight and a dragon", again.Title)
	s.Equal("Once upon a time", again.Nodes[again.RootNodeID].StoryPart)
}

func (s *StoryRepositorySuite) TestUpdate_AppendsNode() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	var appended *models.StoryNode
	updated, err := s.repo.Update(s.ctx, story.ID, func(st *models.Story) error {
		node, err := st.AppendNode("Go left", "You entered a dark cave", []string{"Light a torch", "Turn back"})
		appended = node
		return err
	})
	s.Require().NoError(err)
	s.Equal(appended.ID, updated.CurrentNodeID)
	s.Len(updated.Nodes, 2)

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(appended.ID, got.CurrentNodeID)
	parts, err := got.StoryParts()
	s.Require().NoError(err)
	s.Equal([]string{"Once upon a time", "You entered a dark cave"}, parts)
}

func (s *StoryRepositorySuite) TestUpdate_FailingPatchLeavesStoryUnchanged() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	patchErr := errors.New("patch failed")
	_, err := s.repo.Update(s.ctx, story.ID, func(st *models.Story) error {
		st.Title = "changed"
		if _, err := st.AppendNode("x", "y", nil); err != nil {
			return err
		}
		return patchErr
	})
	s.ErrorIs(err, patchErr)

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(story.Title, got.Title)
	s.Len(got.Nodes, 1)
	s.Equal(story.CurrentNodeID, got.CurrentNodeID)
}

func (s *StoryRepositorySuite) TestUpdate_InvalidResultRejected() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	_, err := s.repo.Update(s.ctx, story.ID, func(st *models.Story) error {
		st.CurrentNodeID = "missing"
		return nil
	})
	s.ErrorIs(err, models.ErrCurrentNodeNotFound)

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Equal(story.CurrentNodeID, got.CurrentNodeID)
}

func (s *StoryRepositorySuite) TestUpdate_NotFound() {
	_, err := s.repo.Update(s.ctx, uuid.NewString(), func(*models.Story) error { return nil })
	s.ErrorIs(err, models.ErrStoryNotFound)
}

func (s *StoryRepositorySuite) TestUpdate_ConcurrentAppendsAreSerialized() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.repo.Update(s.ctx, story.ID, func(st *models.Story) error {
				_, err := st.AppendNode("next", "part", []string{"a"})
				return err
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Len(got.Nodes, workers+1)
	depth, err := got.Depth()
	s.Require().NoError(err)
	s.Equal(workers+1, depth, "each update must extend the chain, none may be lost")
	s.NoError(got.Validate())
}

func (s *StoryRepositorySuite) TestMarkComplete() {
	story := newTestStory(time.Now())
	s.Require().NoError(s.repo.Add(s.ctx, story))

	done, err := s.repo.MarkComplete(s.ctx, story.ID, "The Dragon's Peace", "And so it ended.")
	s.Require().NoError(err)
	s.True(done.IsComplete)
	s.Equal("The Dragon's Peace", done.FinalTitle)

	_, err = s.repo.MarkComplete(s.ctx, story.ID, "again", "again")
	s.ErrorIs(err, models.ErrStoryAlreadyComplete)

	got, err := s.repo.Get(s.ctx, story.ID)
	s.Require().NoError(err)
	s.True(got.IsComplete)
	s.Equal("And so it ended.", got.Conclusion)

	_, err = s.repo.Update(s.ctx, story.ID, func(st *models.Story) error {
		_, err := st.AppendNode("x", "y", nil)
		return err
	})
	s.ErrorIs(err, models.ErrStoryAlreadyComplete)
}

func (s *StoryRepositorySuite) TestList_NewestFirstWithPagination() {
	base := time.Now().Add(-time.Hour)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		story := newTestStory(base.Add(time.Duration(i) * time.Minute))
		s.Require().NoError(s.repo.Add(s.ctx, story))
		ids = append(ids, story.ID)
	}

	all, err := s.repo.List(s.ctx, 10, 0)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(len(all), 3)
	// Последняя созданная история первая
	s.Equal(ids[2], all[0].ID)
	s.Equal(ids[1], all[1].ID)
	s.Equal(ids[0], all[2].ID)

	page, err := s.repo.List(s.ctx, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(ids[1], page[0].ID)

	empty, err := s.repo.List(s.ctx, 10, 1000)
	s.Require().NoError(err)
	s.Empty(empty)
}
