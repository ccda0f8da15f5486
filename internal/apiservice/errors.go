package apiservice

import (
	"errors"
	"fmt"

	"ai-task-platform/internal/models"
)

// Error codes reported by Service.
const (
	CodeHTTPError           = "http_error"
	CodeTimeout             = "timeout"
	CodeRequestFailed       = "request_failed"
	CodeInvalidResponse     = "invalid_response"
	CodeCircuitOpen         = "circuit_open"
	CodeMissingCredentials  = "missing_credentials"
	CodeInsufficientCredits = "insufficient_credits"
)

// Error is returned for every failed external call.
type Error struct {
	Code       string
	Service    string
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %s", e.Service, e.Endpoint, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Service, e.Endpoint, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode extracts the Code of an *Error, or "" when err is not one.
func ErrorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// countsAsOutage reports whether err should trip the circuit breaker. Client
// errors (4xx) say nothing about provider health.
func countsAsOutage(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.Code == CodeHTTPError {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return apiErr.Code == CodeTimeout || apiErr.Code == CodeRequestFailed
}

func insufficientCredits(service, endpoint string, balance, required int64) *Error {
	return &Error{
		Code:     CodeInsufficientCredits,
		Service:  service,
		Endpoint: endpoint,
		Message:  fmt.Sprintf("balance %d, estimated cost %d", balance, required),
		Err:      models.ErrInsufficientCredits,
	}
}
