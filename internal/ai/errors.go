package ai

import (
	"errors"
	"fmt"
	"strings"

	"example.com/click/backend/internal/jsonrepair"
	"example.com/click/backend/internal/schema"
)

const (
	StageCredentials = "credentials"
	StageTransport   = "transport"
	StageValidation  = "validation"
	StageTimeout     = "timeout"
)

// ProfileError reports invalid caller input. It is never retried.
type ProfileError struct {
	Fields []string
	Err    error
}

func (e *ProfileError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid input: %v", e.Err)
	}

	return fmt.Sprintf("invalid input: %s", strings.Join(e.Fields, ", "))
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// PipelineError is the terminal failure of a prediction or advisor call.
type PipelineError struct {
	Operation string
	Attempts  int
	LastRaw   string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s pipeline failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Stage называет этап, на котором произошла последняя ошибка.
func (e *PipelineError) Stage() string {
	var extractErr *jsonrepair.ExtractError
	var validationErr *schema.ValidationError

	switch {
	case errors.Is(e.Err, ErrMissingCredentials):
		return StageCredentials
	case errors.As(e.Err, &extractErr):
		return "extract_" + extractErr.Stage
	case errors.As(e.Err, &validationErr):
		return StageValidation
	case IsTimeout(e.Err):
		return StageTimeout
	default:
		return StageTransport
	}
}

// Violations возвращает нарушения схемы, если ошибка была на этапе валидации.
func (e *PipelineError) Violations() []schema.Violation {
	var validationErr *schema.ValidationError
	if errors.As(e.Err, &validationErr) {
		return validationErr.Violations
	}

	return nil
}
