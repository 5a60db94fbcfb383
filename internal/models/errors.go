package models

import (
	"errors"
	"fmt"
)

// Стандартные ошибки, общие для всех компонентов сервиса.
var (
	// Common Resource/Store Errors
	ErrNotFound = errors.New("resource not found") // General not found

	// Request Validation Errors
	ErrValidation = errors.New("invalid input data")

	// Network/Budget Errors
	// ErrTimeout означает "результат неизвестен": вставка могла пройти на удалённой
	// стороне, клиент должен опрашивать статус, а не повторять запрос.
	ErrTimeout = errors.New("operation timed out")

	// Worker Errors
	ErrClaimLost          = errors.New("job claim lost")             // Не ошибка: другой воркер выиграл claim
	ErrProviderFailed     = errors.New("image generation failed")    // Терминальная ошибка задачи
	ErrMissingCredentials = errors.New("provider credentials are not configured")

	// Refinement History Errors
	ErrInvalidParent    = errors.New("parent iteration not found in history")
	ErrInvalidIteration = errors.New("iteration not found in history")
)

// UpstreamError - ошибка от удалённого сервиса. Сохраняем статус и тело ответа,
// чтобы вернуть их вызывающему для диагностики.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// IsUpstreamError проверяет, является ли ошибка (или её причина) UpstreamError.
func IsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
