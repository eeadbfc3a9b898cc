package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAIService         = errors.New("ai service error")
	ErrEthics            = errors.New("ethics violation")
	ErrQuality           = errors.New("quality check failed")
)

// NotFoundError reports a lookup miss for one resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError rejects malformed input before any state is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a state machine contract violation.
type InvalidTransitionError struct {
	Op   string
	From string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from status %s", e.Op, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// AIServiceError is returned by stage adapters for any non-success outcome,
// timeouts included.
type AIServiceError struct {
	Stage   string
	Message string
	Err     error
}

func (e *AIServiceError) Error() string {
	return fmt.Sprintf("%s service error: %s", e.Stage, e.Message)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

func (e *AIServiceError) Is(target error) bool { return target == ErrAIService }

// EthicsError reports a compliance precondition that was not met.
type EthicsError struct {
	Message string
}

func (e *EthicsError) Error() string { return "ethics error: " + e.Message }

func (e *EthicsError) Is(target error) bool { return target == ErrEthics }

// QualityError is raised by a blocking quality gate.
type QualityError struct {
	Language string
	Issues   []string
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("quality check failed for %s: %v", e.Language, e.Issues)
}

func (e *QualityError) Is(target error) bool { return target == ErrQuality }
