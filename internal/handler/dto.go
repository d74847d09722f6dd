package handler

import (
	"flowtale/internal/models"
)

// --- Request/Response Structs ---

type startStoryRequest struct {
	Topic string `json:"topic" binding:"required,min=10,max=200"`
	Genre string `json:"genre" binding:"required,min=3,max=50"`
}

type continueStoryRequest struct {
	Story  *models.Story `json:"story" binding:"required"`
	Choice string        `json:"choice" binding:"required,min=1,max=500"`
}

type summarizeStoryRequest struct {
	Story *models.Story `json:"story" binding:"required"`
}

type makeChoiceRequest struct {
	Choice string `json:"choice" binding:"required,min=1,max=500"`
}

type listStoriesResponse struct {
	Data   []*models.Story `json:"data"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type historyResponse struct {
	StoryID string              `json:"storyId"`
	Nodes   []*models.StoryNode `json:"nodes"`
}
