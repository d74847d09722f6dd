package handler

import (
	"errors"
	"net/http"
	"strconv"

	"flowtale/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp models.ErrorResponse

	switch {
	case errors.Is(err, models.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: err.Error()}
	case errors.Is(err, models.ErrInvalidStory):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Code: models.ErrCodeValidation, Message: err.Error()}
	case errors.Is(err, models.ErrStoryNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Code: models.ErrCodeStoryNotFound, Message: "Story not found"}
	case errors.Is(err, models.ErrStoryAlreadyExists):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Code: models.ErrCodeStoryAlreadyExists, Message: "Story already exists"}
	case errors.Is(err, models.ErrStoryAlreadyComplete):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Code: models.ErrCodeStoryComplete, Message: "Story is already complete"}
	case errors.Is(err, models.ErrGenerationInProgress):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Code: models.ErrCodeGenerationInProgress, Message: "Story is being generated, try again later"}
	case errors.Is(err, models.ErrGenerationContractViolation):
		statusCode = http.StatusBadGateway
		errResp = models.ErrorResponse{Code: models.ErrCodeGenerationInvalid, Message: "Generation service returned an invalid response"}
	case errors.Is(err, models.ErrGenerationUnavailable):
		statusCode = http.StatusServiceUnavailable
		errResp = models.ErrorResponse{Code: models.ErrCodeGenerationUnavailable, Message: "Generation service is unavailable"}
	case errors.Is(err, models.ErrCurrentNodeNotFound):
		h.logger.Error("Story state is corrupted", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Code: models.ErrCodeStateCorrupted, Message: "Story state is corrupted"}
	default:
		h.logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Code: models.ErrCodeInternal, Message: "An unexpected internal error occurred"}
	}

	actionErrorsTotal.WithLabelValues(strconv.Itoa(errResp.Code)).Inc()
	c.AbortWithStatusJSON(statusCode, errResp)
}

func abortBadRequest(c *gin.Context, message string) {
	actionErrorsTotal.WithLabelValues(strconv.Itoa(models.ErrCodeBadRequest)).Inc()
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: message})
}
