package models

import "errors"

// Ошибки генерации
var (
	// ErrGenerationUnavailable - сервис генерации недоступен или вернул ошибку (таймаут, ошибка провайдера).
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	// ErrGenerationContractViolation - ответ сервиса генерации не соответствует схеме выхода.
	ErrGenerationContractViolation = errors.New("generation response violates output schema")
	// ErrGenerationInProgress - для истории уже выполняется генерация продолжения.
	ErrGenerationInProgress = errors.New("generation is already in progress for this story")
)

// Ошибки состояния истории
var (
	ErrStoryNotFound        = errors.New("story not found")
	ErrStoryAlreadyExists   = errors.New("story with this id already exists")
	ErrStoryAlreadyComplete = errors.New("story is already complete")
	// ErrCurrentNodeNotFound - currentNodeId не указывает на узел истории.
	// Означает повреждение состояния на стороне вызывающего кода.
	ErrCurrentNodeNotFound = errors.New("current node not found")
	ErrInvalidStory        = errors.New("story violates tree invariants")
)

// Общие ошибки запроса
var (
	ErrInvalidInput = errors.New("invalid input data")
)
