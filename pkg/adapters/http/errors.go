package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aretw0/waypoint"
	"github.com/aretw0/waypoint/pkg/domain"
)

// StatusFor maps an agent error to an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	var (
		unknownStep *domain.UnknownStepError
		invalid     *domain.SchemaValidationError
		llmErr      *domain.LLMError
	)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.As(err, &unknownStep):
		return http.StatusNotFound, "step_not_found"
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, domain.ErrSessionTerminated):
		return http.StatusConflict, "session_terminated"
	case errors.Is(err, domain.ErrTurnInProgress):
		return http.StatusConflict, "turn_in_progress"
	case errors.Is(err, waypoint.ErrInputTooLarge):
		return http.StatusRequestEntityTooLarge, "input_too_large"
	case errors.Is(err, waypoint.ErrInvalidUTF8):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrMaxErrorsExceeded), errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, "invalid_decision"
	case errors.As(err, &llmErr):
		return http.StatusBadGateway, "llm_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}
