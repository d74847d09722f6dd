package handler

import (
	"net/http"
	"strconv"

	"flowtale/internal/repository"
	"flowtale/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StoryHandler обрабатывает HTTP запросы к действиям и историям.
type StoryHandler struct {
	service service.StoryService
	logger  *zap.Logger
}

// NewStoryHandler создает новый StoryHandler.
func NewStoryHandler(s service.StoryService, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service: s,
		logger:  logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты под /api.
// generation применяется к маршрутам, которые вызывают модель (например, rate limit).
func (h *StoryHandler) RegisterRoutes(r gin.IRouter, generation ...gin.HandlerFunc) {
	api := r.Group("/api")

	// Действия без сохранения: история целиком приходит от клиента
	actions := api.Group("/actions", generation...)
	{
		actions.POST("/start", h.startStory)
		actions.POST("/continue", h.continueStory)
		actions.POST("/summarize", h.summarizeStory)
	}

	stories := api.Group("/stories")
	{
		stories.POST("", withMiddleware(generation, h.createStory)...)
		stories.GET("", h.listStories)
		stories.GET("/:id", h.getStory)
		stories.GET("/:id/history", h.getHistory)
		stories.POST("/:id/choices", withMiddleware(generation, h.makeChoice)...)
		stories.POST("/:id/complete", withMiddleware(generation, h.completeStory)...)
	}
}

// startStory генерирует начало истории без сохранения.
func (h *StoryHandler) startStory(c *gin.Context) {
	var req startStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "Invalid request data: "+err.Error())
		return
	}

	story, err := h.service.StartStory(c.Request.Context(), req.Topic, req.Genre)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

// continueStory генерирует следующий фрагмент для истории из запроса. История не изменяется.
func (h *StoryHandler) continueStory(c *gin.Context) {
	var req continueStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "Invalid request data: "+err.Error())
		return
	}

	result, err := h.service.ContinueStory(c.Request.Context(), req.Story, req.Choice)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// summarizeStory генерирует финал для истории из запроса.
func (h *StoryHandler) summarizeStory(c *gin.Context) {
	var req summarizeStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "Invalid request data: "+err.Error())
		return
	}

	result, err := h.service.SummarizeStory(c.Request.Context(), req.Story)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// createStory генерирует начало истории и сохраняет ее. Ответ 201.
func (h *StoryHandler) createStory(c *gin.Context) {
	var req startStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "Invalid request data: "+err.Error())
		return
	}

	story, err := h.service.CreateStory(c.Request.Context(), req.Topic, req.Genre)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	storiesCreatedTotal.Inc()
	c.JSON(http.StatusCreated, story)
}

// listStories возвращает страницу историй, новые первыми. limit 1..100, по умолчанию 20.
func (h *StoryHandler) listStories(c *gin.Context) {
	limit, err := parseIntQuery(c, "limit", repository.DefaultListLimit)
	if err != nil || limit < 1 || limit > repository.MaxListLimit {
		abortBadRequest(c, "limit must be an integer between 1 and "+strconv.Itoa(repository.MaxListLimit))
		return
	}
	offset, err := parseIntQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		abortBadRequest(c, "offset must be a non-negative integer")
		return
	}

	stories, err := h.service.ListStories(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, listStoriesResponse{Data: stories, Limit: limit, Offset: offset})
}

func (h *StoryHandler) getStory(c *gin.Context) {
	story, err := h.service.GetStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

// getHistory возвращает пройденный путь от корня до текущего узла.
func (h *StoryHandler) getHistory(c *gin.Context) {
	storyID := c.Param("id")
	nodes, err := h.service.GetHistory(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, historyResponse{StoryID: storyID, Nodes: nodes})
}

// makeChoice добавляет в сохраненную историю узел для выбора пользователя.
// 409, если история завершена или для нее уже идет генерация.
func (h *StoryHandler) makeChoice(c *gin.Context) {
	var req makeChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, "Invalid request data: "+err.Error())
		return
	}

	story, err := h.service.MakeChoice(c.Request.Context(), c.Param("id"), req.Choice)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	storyChoicesTotal.Inc()
	c.JSON(http.StatusOK, story)
}

func (h *StoryHandler) completeStory(c *gin.Context) {
	story, err := h.service.CompleteStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	storiesCompletedTotal.Inc()
	c.JSON(http.StatusOK, story)
}

func withMiddleware(middleware []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	handlers := make([]gin.HandlerFunc, 0, len(middleware)+1)
	handlers = append(handlers, middleware...)
	return append(handlers, h)
}

func parseIntQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
