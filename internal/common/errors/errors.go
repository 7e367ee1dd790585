// Package errors provides standardized error handling for the application-creation saga.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Saga lifecycle errors
	ErrCodeDuplicateSaga      ErrorCode = "DUPLICATE_SAGA"
	ErrCodeUnknownSaga        ErrorCode = "UNKNOWN_SAGA"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_SAGA_TRANSITION"
	ErrCodeCompensationFailed ErrorCode = "COMPENSATION_FAILED"

	// Infrastructure errors
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrCodePublishFailed     ErrorCode = "PUBLISH_FAILED"
	ErrCodeConsumeFailed     ErrorCode = "CONSUME_FAILED"

	// Input errors
	ErrCodePayloadInvalid ErrorCode = "PAYLOAD_INVALID"
	ErrCodeParseFailed    ErrorCode = "PARSE_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewDuplicateSagaError creates a non-retryable error for a second initiate on one receipt code.
func NewDuplicateSagaError(receiptCode int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateSaga,
		Message:   "Saga already exists for receipt code",
		Details:   fmt.Sprintf("receiptCode: %d", receiptCode),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownSagaError creates a non-retryable error for a message referencing no saga state.
// Consumers log and drop these rather than propagate them.
func NewUnknownSagaError(receiptCode int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownSaga,
		Message:   "No saga state for receipt code",
		Details:   fmt.Sprintf("receiptCode: %d", receiptCode),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCompensationFailedError creates a non-retryable error for a failed compensation step.
// The saga is parked in FAILED and surfaced to operators; unbounded retry would mask
// the underlying inconsistency.
func NewCompensationFailedError(receiptCode int64, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCompensationFailed,
		Message:   "Compensation step failed, saga requires operator intervention",
		Details:   fmt.Sprintf("receiptCode: %d, error: %s", receiptCode, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceError creates a retryable local storage error. Nothing was durably
// recorded, so the caller may re-attempt the whole operation.
func NewPersistenceError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPublishError creates a retryable broker publish error. The undispatched outbox
// row stays put and is re-polled on the next relay cycle.
func NewPublishError(topic string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePublishFailed,
		Message:   "Broker publish failed",
		Details:   fmt.Sprintf("topic: %s, error: %s", topic, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConsumeError creates a retryable consume error; the message is redelivered.
func NewConsumeError(topic string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeConsumeFailed,
		Message:   "Message consumption failed",
		Details:   fmt.Sprintf("topic: %s, error: %s", topic, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPayloadInvalidError creates a non-retryable submission payload validation error.
func NewPayloadInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePayloadInvalid,
		Message:   "Submission payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewParseError creates a non-retryable message decoding error.
func NewParseError(topic string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeParseFailed,
		Message:   "Message payload could not be decoded",
		Details:   fmt.Sprintf("topic: %s, error: %s", topic, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError classifies a delivery that cannot be applied in
// the saga's current state. Such deliveries are dropped, not retried.
func NewInvalidTransitionError(receiptCode int64, from, event string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Saga transition not permitted from current state",
		Details:   fmt.Sprintf("receiptCode: %d, from: %s, event: %s", receiptCode, from, event),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// As and Is re-export the stdlib helpers so callers and sibling files do not
// need an aliased import next to this package.
func As(err error, target interface{}) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }

// GetRetryCount returns the recommended local retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceFailed, ErrCodeConsumeFailed:
		return 3 // Retryable technical errors

	case ErrCodePublishFailed:
		return 0 // Retried by re-polling the outbox row, not in place

	default:
		return 0 // Business errors: no retry
	}
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or "UNKNOWN" when it is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return "UNKNOWN"
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SAGA") || strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "COMPENSATION"):
		return "SAGA"
	case strings.Contains(codeStr, "PERSISTENCE"):
		return "DATABASE"
	case strings.Contains(codeStr, "PUBLISH") || strings.Contains(codeStr, "CONSUME"):
		return "BROKER"
	case strings.Contains(codeStr, "PAYLOAD") || strings.Contains(codeStr, "PARSE"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
