package domain

import (
	"errors"
	"fmt"
)

// ErrorCode clasifica los fallos del motor según la taxonomía del sistema.
type ErrorCode string

const (
	// Errores de entrada
	CodeValidation       ErrorCode = "ERR_VALIDATION"
	CodeUnknownAlgorithm ErrorCode = "ERR_UNKNOWN_ALGORITHM"

	// Errores de capacidad
	CodeQueueFull    ErrorCode = "ERR_QUEUE_FULL"
	CodePoolNotReady ErrorCode = "ERR_POOL_NOT_READY"

	// Errores de ejecución
	CodeStrategyFailed ErrorCode = "ERR_STRATEGY_FAILED"
	CodeCancelled      ErrorCode = "ERR_CANCELLED"
	CodeTimeout        ErrorCode = "ERR_TIMEOUT"

	// Errores de dependencias
	CodeCacheUnavailable     ErrorCode = "ERR_CACHE_UNAVAILABLE"
	CodePredictorUnavailable ErrorCode = "ERR_PREDICTOR_UNAVAILABLE"
	CodeBreakerOpen          ErrorCode = "ERR_BREAKER_OPEN"

	// No encontrado
	CodeScenarioNotFound ErrorCode = "ERR_SCENARIO_NOT_FOUND"
	CodeModelNotFound    ErrorCode = "ERR_MODEL_NOT_FOUND"
)

// Error es el error estructurado que cruza el límite del motor:
// {code, message, details} sin stack traces.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is permite errors.Is contra otro *Error con el mismo código.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Code == de.Code
	}
	return false
}

// NewError construye un error de dominio con código y detalles opcionales.
func NewError(code ErrorCode, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// CodeOf extrae el código de un error de dominio; para errores ajenos
// devuelve ERR_STRATEGY_FAILED como clasificación conservadora.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if errors.Is(err, ErrCancelled) {
		return CodeCancelled
	}
	if errors.Is(err, ErrTimeout) {
		return CodeTimeout
	}
	return CodeStrategyFailed
}

// Errores centinela reutilizados por pool, coordinator y estrategias.
var (
	ErrValidation       = NewError(CodeValidation, "invalid input", nil)
	ErrUnknownAlgorithm = NewError(CodeUnknownAlgorithm, "unknown algorithm", nil)
	ErrQueueFull        = NewError(CodeQueueFull, "task queue is full", nil)
	ErrPoolNotReady     = NewError(CodePoolNotReady, "worker pool is not accepting tasks", nil)
	ErrStrategyFailed   = NewError(CodeStrategyFailed, "strategy execution failed", nil)
	ErrCancelled        = NewError(CodeCancelled, "task cancelled", nil)
	ErrTimeout          = NewError(CodeTimeout, "task deadline exceeded", nil)
	ErrCacheUnavailable = NewError(CodeCacheUnavailable, "cache backend unavailable", nil)
	ErrPredictorDown    = NewError(CodePredictorUnavailable, "predictor unavailable", nil)
	ErrBreakerOpen      = NewError(CodeBreakerOpen, "circuit breaker open", nil)
	ErrScenarioNotFound = NewError(CodeScenarioNotFound, "scenario not found", nil)
	ErrModelNotFound    = NewError(CodeModelNotFound, "model not found", nil)
)
