// Package errors provides standardized error handling for the assistant pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeRequestInvalid ErrorCode = "REQUEST_INVALID"

	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	ErrCodeIntentParseFailed      ErrorCode = "INTENT_PARSE_FAILED"
	ErrCodeLLMTimeout             ErrorCode = "LLM_TIMEOUT"
	ErrCodeSchemaValidationFailed ErrorCode = "SCHEMA_VALIDATION_FAILED"

	ErrCodeTenantIsolationViolation ErrorCode = "TENANT_ISOLATION_VIOLATION"
	ErrCodeNoMatchFound             ErrorCode = "NO_MATCH_FOUND"
	ErrCodeEmbeddingFailed          ErrorCode = "EMBEDDING_FAILED"
	ErrCodeSearchFailed             ErrorCode = "SEARCH_FAILED"

	ErrCodeValidationError     ErrorCode = "VALIDATION_ERROR"
	ErrCodeDownstreamService   ErrorCode = "DOWNSTREAM_SERVICE_ERROR"
	ErrCodeNotificationFailed  ErrorCode = "NOTIFICATION_FAILED"
	ErrCodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_CONFLICT"

	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeHistoryWriteFailed ErrorCode = "HISTORY_WRITE_FAILED"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
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

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// From extracts a *StandardError from err, wrapping unknown errors as a
// non-retryable DOWNSTREAM_SERVICE_ERROR so the HTTP boundary always has a code.
func From(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeDownstreamService,
		Message:   "Unexpected internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 2. Error Constructors
// ==========================

// NewRequestInvalidError creates a non-retryable malformed-request error.
func NewRequestInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestInvalid,
		Message:   "Request payload is invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitExceededError creates a fail-fast rate limit error with a
// retry-after hint in seconds.
func NewRateLimitExceededError(resource string, retryAfter time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimitExceeded,
		Message:   "Rate limit exceeded, request rejected",
		Details:   fmt.Sprintf("resource: %s", resource),
		Retryable: false,
		Metadata: map[string]interface{}{
			"resource":         resource,
			"retry_after_secs": int(retryAfter.Seconds()) + 1,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewIntentParseFailedError creates a user-recoverable parse error. Raised
// only after both the LLM and heuristic paths have failed.
func NewIntentParseFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIntentParseFailed,
		Message:   "Could not interpret the request, try rephrasing",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates a retryable LLM timeout error.
func NewLLMTimeoutError(budget time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "Language model call timed out",
		Details:   fmt.Sprintf("budget: %s", budget),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchemaValidationFailedError creates a non-retryable structured-output error.
func NewSchemaValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchemaValidationFailed,
		Message:   "Model output failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTenantIsolationViolationError creates a fatal, non-retryable security error.
func NewTenantIsolationViolationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTenantIsolationViolation,
		Message:   "Tenant isolation violation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoMatchFoundError creates a user-recoverable no-candidates error.
func NewNoMatchFoundError(slot string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoMatchFound,
		Message:   "No matching entity found",
		Details:   fmt.Sprintf("slot: %s", slot),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmbeddingFailedError creates a retryable embedding provider error.
func NewEmbeddingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmbeddingFailed,
		Message:   "Embedding computation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchFailedError creates a retryable retrieval error. Raised only when
// both retrieval legs fail; a single failed leg degrades silently.
func NewSearchFailedError(leg string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchFailed,
		Message:   "Entity retrieval failed",
		Details:   fmt.Sprintf("leg: %s, error: %s", leg, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable pre-execution validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationError,
		Message:   "Action rejected before execution",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDownstreamServiceError creates a per-step downstream error. Retryable
// follows the transport verdict (timeouts and 5xx are transient, 4xx are not).
func NewDownstreamServiceError(service string, retryable bool, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDownstreamService,
		Message:   fmt.Sprintf("Downstream service '%s' error", service),
		Details:   err.Error(),
		Retryable: retryable,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationFailedError creates a retryable notification sink error.
func NewNotificationFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIdempotencyConflictError creates a non-retryable key reuse error.
func NewIdempotencyConflictError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdempotencyConflict,
		Message:   "Idempotency key already bound to a different action",
		Details:   fmt.Sprintf("idempotency_key: %s", key),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError creates a retryable storage error.
func NewDatabaseError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseError,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryWriteFailedError creates a retryable audit append error.
func NewHistoryWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryWriteFailed,
		Message:   "Audit history append failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup miss.
func NewNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigInvalidError creates a non-retryable startup configuration error.
func NewConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Configuration is invalid",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. HTTP Mapping
// ==========================

// HTTPStatus maps an error code to the status the boundary returns for it.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeRequestInvalid:
		return http.StatusBadRequest
	case ErrCodeTenantIsolationViolation:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeIdempotencyConflict:
		return http.StatusConflict
	case ErrCodeIntentParseFailed, ErrCodeValidationError, ErrCodeSchemaValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeDownstreamService, ErrCodeSearchFailed, ErrCodeEmbeddingFailed, ErrCodeNotificationFailed:
		return http.StatusBadGateway
	case ErrCodeLLMTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 4. Retry Rules
// ==========================

// RetryBudget returns how many automatic retries a step failing with this
// code may consume. Only transient infrastructure failures earn the single
// retry; everything else is zero.
func RetryBudget(code ErrorCode) int {
	switch code {
	case ErrCodeDownstreamService,
		ErrCodeLLMTimeout,
		ErrCodeEmbeddingFailed,
		ErrCodeSearchFailed,
		ErrCodeDatabaseError,
		ErrCodeHistoryWriteFailed,
		ErrCodeNotificationFailed:
		return 1
	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return RetryBudget(code) > 0
}

// IsTransient reports whether err should count as a transient failure for
// the orchestrator's single-retry rule.
func IsTransient(err error) bool {
	stdErr := From(err)
	return stdErr.Retryable && IsRetryableErrorCode(stdErr.Code)
}

// ==========================
// 5. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TENANT"):
		return "SECURITY"
	case strings.Contains(codeStr, "RATE_LIMIT"):
		return "RATE_LIMIT"
	case strings.Contains(codeStr, "INTENT") || strings.Contains(codeStr, "LLM") || strings.Contains(codeStr, "SCHEMA"):
		return "INTENT"
	case strings.Contains(codeStr, "SEARCH") || strings.Contains(codeStr, "EMBEDDING") || strings.Contains(codeStr, "MATCH"):
		return "RETRIEVAL"
	case strings.Contains(codeStr, "DOWNSTREAM") || strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "IDEMPOTENCY"):
		return "EXECUTION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "HISTORY"):
		return "STORAGE"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "REQUEST"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
