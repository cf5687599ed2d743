// Package errors provides standardized error handling for the handoff engine,
// its workflow workers and its HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeNotFound                   ErrorCode = "NOT_FOUND"
	ErrCodeStaleHandoff               ErrorCode = "STALE_HANDOFF"
	ErrCodePersistenceFailed          ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeNotificationDeliveryFailed ErrorCode = "NOTIFICATION_DELIVERY_FAILED"
	ErrCodeIllegalTransition          ErrorCode = "ILLEGAL_TRANSITION"
	ErrCodeInvalidInput               ErrorCode = "INVALID_INPUT"
	ErrCodeDuplicateCandidacy         ErrorCode = "DUPLICATE_CANDIDACY"
	ErrCodeEventPublishFailed         ErrorCode = "EVENT_PUBLISH_FAILED"
	ErrCodeInternal                   ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewNotFoundError reports a missing posting or candidacy. Nothing was mutated.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Metadata:  map[string]interface{}{"resource": resource, "id": id},
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleHandoffError reports a confirmation attempted against a slot that
// is no longer held by the caller.
func NewStaleHandoffError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleHandoff,
		Message:   "Slot is no longer available",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceError wraps a failed store operation.
func NewPersistenceError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Record store operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationDeliveryError wraps a failed send. It is logged at the call
// site and never propagated out of the engine.
func NewNotificationDeliveryError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationDeliveryFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %v", channel, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewIllegalTransitionError(entity, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIllegalTransition,
		Message:   fmt.Sprintf("Illegal %s transition", entity),
		Details:   fmt.Sprintf("%s -> %s", from, to),
		Retryable: false,
		Metadata:  map[string]interface{}{"entity": entity, "from": from, "to": to},
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewDuplicateCandidacyError(postingID, professionalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateCandidacy,
		Message:   "Professional already applied to this posting",
		Details:   fmt.Sprintf("postingId: %s, professionalId: %s", postingID, professionalID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewEventPublishError(sink string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventPublishFailed,
		Message:   fmt.Sprintf("Event sink '%s' error", sink),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Inspection helpers
// ==========================

// CodeOf returns the code of the first StandardError in err's chain, or
// INTERNAL_ERROR when there is none.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

func IsNotFound(err error) bool     { return HasCode(err, ErrCodeNotFound) }
func IsStaleHandoff(err error) bool { return HasCode(err, ErrCodeStaleHandoff) }
func IsPersistence(err error) bool  { return HasCode(err, ErrCodePersistenceFailed) }

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// ==========================
// 5. Error Conversion
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceFailed, ErrCodeEventPublishFailed:
		return 3
	case ErrCodeNotificationDeliveryFailed:
		return 0 // retries belong to the gateway, never to the engine
	default:
		return 0
	}
}

// GetErrorCategory groups codes for logging and dashboards.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeStaleHandoff, ErrCodeIllegalTransition, ErrCodeDuplicateCandidacy:
		return "BUSINESS_RULE"
	case ErrCodeNotFound, ErrCodeInvalidInput:
		return "VALIDATION"
	case ErrCodePersistenceFailed:
		return "DATABASE"
	case ErrCodeNotificationDeliveryFailed, ErrCodeEventPublishFailed:
		return "EXTERNAL_SERVICE"
	default:
		return "INTERNAL"
	}
}

// ConvertToBPMNError maps a StandardError to the error thrown to Zeebe.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   GetRetryCount(stdErr.Code),
		ErrorVariables: map[string]interface{}{
			"errorCategory": GetErrorCategory(stdErr.Code),
		},
	}
}

// HTTPStatus maps a code to the status returned by the API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeStaleHandoff, ErrCodeIllegalTransition, ErrCodeDuplicateCandidacy:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodePersistenceFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
