package flows

import "flowtale/internal/models"

// SuggestStoryStartInput - вход flow начала истории.
type SuggestStoryStartInput struct {
	Topic string `json:"topic" validate:"required"`
	Genre string `json:"genre,omitempty"`
}

// SuggestStoryStartOutput - начало истории и первые варианты выбора.
type SuggestStoryStartOutput struct {
	Storyline      string                  `json:"storyline" validate:"required"`
	BranchingPaths []string                `json:"branchingPaths" validate:"required,min=1,dive,required"`
	// Персонажи необязательны, безымянные отбрасываются в SuggestStoryStart
	Characters []models.StoryCharacter `json:"characters,omitempty"`
}

type GenerateNewStorylineInput struct {
	PreviousStory string `json:"previousStory" validate:"required"`
	UserChoice    string `json:"userChoice" validate:"required"`
	StoryGenre    string `json:"storyGenre,omitempty"`
}

type GenerateNewStorylineOutput struct {
	NewStoryline string `json:"newStoryline" validate:"required"`
}

type GenerateBranchingPathsInput struct {
	Storyline string `json:"storyline" validate:"required"`
	Genre     string `json:"genre,omitempty"`
}

type GenerateBranchingPathsOutput struct {
	BranchingPaths []string `json:"branchingPaths" validate:"required,min=1,dive,required"`
}

// SummarizeStoryInput - пройденный путь в хронологическом порядке.
type SummarizeStoryInput struct {
	StoryHistory []string `json:"storyHistory" validate:"required,min=1,dive,required"`
	StoryTitle   string   `json:"storyTitle" validate:"required"`
	StoryGenre   string   `json:"storyGenre,omitempty"`
}

type SummarizeStoryOutput struct {
	FinalTitle string `json:"finalTitle" validate:"required"`
	Conclusion string `json:"conclusion" validate:"required"`
}
