// internal/common/errors/handler.go
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorHandler converts pipeline errors into HTTP responses with
// standardized logging.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// ErrorEnvelope is the JSON error body returned by every endpoint.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HandleHTTPError normalizes err, logs it, and writes the JSON envelope with
// the status code mapped from the error code.
func (h *ErrorHandler) HandleHTTPError(w http.ResponseWriter, requestID string, err error) {
	stdErr := From(err)

	h.logError(requestID, stdErr)

	status := HTTPStatus(stdErr.Code)
	if stdErr.Code == ErrCodeRateLimitExceeded {
		if retryAfter, ok := stdErr.Metadata["retry_after_secs"]; ok {
			if secs, ok := retryAfter.(int); ok {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Error: ErrorBody{
			Code:     stdErr.Code,
			Message:  stdErr.Message,
			Details:  stdErr.Details,
			Metadata: stdErr.Metadata,
		},
	})
}

func (h *ErrorHandler) logError(requestID string, stdErr *StandardError) {
	fields := map[string]interface{}{
		"requestId":     requestID,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}

	switch stdErr.Code {
	case ErrCodeTenantIsolationViolation:
		fields["security_event"] = true
		h.logger.Error("Tenant isolation violation", fields)
	case ErrCodeRateLimitExceeded, ErrCodeNoMatchFound, ErrCodeIntentParseFailed, ErrCodeValidationError, ErrCodeRequestInvalid:
		h.logger.Warn("Request rejected", fields)
	default:
		h.logger.Error("Request failed", fields)
	}
}
