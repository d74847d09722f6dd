package models

// Коды ошибок API. Клиент различает по ним "нет ответа" и "некорректный ответ" генерации.
const (
	ErrCodeBadRequest            = 40000
	ErrCodeValidation            = 40001
	ErrCodeStoryNotFound         = 40400
	ErrCodeStoryAlreadyExists    = 40900
	ErrCodeStoryComplete         = 40901
	ErrCodeGenerationInProgress  = 40902
	ErrCodeTooManyRequests       = 42900
	ErrCodeInternal              = 50000
	ErrCodeStateCorrupted        = 50001
	ErrCodeGenerationInvalid     = 50200
	ErrCodeGenerationUnavailable = 50300
)

// ErrorResponse - стандартная структура ответа об ошибке.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
