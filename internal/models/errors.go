package models

import (
	"errors"
	"strings"
)

// Validation errors are returned synchronously and never reach persisted state.
var (
	ErrInvalidTaskType    = errors.New("invalid_task_type: task type is not registered")
	ErrEmptyTitle         = errors.New("empty_title: task title is required")
	ErrInvalidInputs      = errors.New("invalid_inputs: inputs must be a JSON object")
	ErrInvalidDependency  = errors.New("invalid_dependency: dependency does not reference an existing task")
	ErrCircularDependency = errors.New("circular_dependency: dependency would create a cycle")
)

// Resource errors.
var (
	ErrInsufficientCredits = errors.New("insufficient_credits: credit balance is too low")
)

// Lifecycle and registry errors.
var (
	ErrTaskNotFound      = errors.New("task_not_found: task does not exist")
	ErrInvalidTransition = errors.New("invalid_transition: operation not allowed in the current status")
	ErrTaskTypeExists    = errors.New("task_type_exists: task type is already registered")
	ErrInvalidProcessor  = errors.New("invalid_processor: processor does not implement the task processor contract")
	ErrMissingProcessor  = errors.New("missing_processor: no processor registered for task type")
)

var coded = []error{
	ErrInvalidTaskType,
	ErrEmptyTitle,
	ErrInvalidInputs,
	ErrInvalidDependency,
	ErrCircularDependency,
	ErrInsufficientCredits,
	ErrTaskNotFound,
	ErrInvalidTransition,
	ErrTaskTypeExists,
	ErrInvalidProcessor,
	ErrMissingProcessor,
}

// ErrorCode returns the machine-readable code of a platform error, or "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range coded {
		if errors.Is(err, c) {
			code, _, _ := strings.Cut(c.Error(), ":")
			return code
		}
	}
	return "internal_error"
}

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidTaskType) ||
		errors.Is(err, ErrEmptyTitle) ||
		errors.Is(err, ErrInvalidInputs) ||
		errors.Is(err, ErrInvalidDependency) ||
		errors.Is(err, ErrCircularDependency)
}
