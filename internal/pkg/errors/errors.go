// Package errors provides custom error types and error handling utilities.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation     = "VALIDATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"

	// Provider and pipeline errors.
	CodeProviderTimeout  = "PROVIDER_TIMEOUT"
	CodeProviderRejected = "PROVIDER_REJECTED"
	CodeRetrievalFailure = "RETRIEVAL_FAILURE"
	CodeAggregation      = "AGGREGATION_UNSATISFIABLE"
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"
	CodeStorageError     = "STORAGE_ERROR"
	CodeVectorError      = "VECTOR_INDEX_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeAggregation:
		return http.StatusUnprocessableEntity
	case CodeUnavailable, CodeCacheUnavailable:
		return http.StatusServiceUnavailable
	case CodeProviderTimeout:
		return http.StatusGatewayTimeout
	case CodeProviderRejected, CodeRetrievalFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// ProviderTimeoutError creates a provider timeout error for an operation.
func ProviderTimeoutError(operation string) *AppError {
	message := "provider call timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeProviderTimeout, message)
}

// ProviderRejectedError creates an error for a failed or malformed provider response.
func ProviderRejectedError(operation string, err error) *AppError {
	message := "provider call failed"
	if operation != "" {
		message = fmt.Sprintf("%s failed", operation)
	}
	return Wrap(CodeProviderRejected, message, err)
}

// RetrievalFailureError creates an error for an empty or failed retrieval path.
func RetrievalFailureError(message string) *AppError {
	if message == "" {
		message = "retrieval produced no usable evidence"
	}
	return New(CodeRetrievalFailure, message)
}

// AggregationUnsatisfiableError creates an error for an unbindable aggregation.
func AggregationUnsatisfiableError(message string) *AppError {
	if message == "" {
		message = "no aggregation template matches the query"
	}
	return New(CodeAggregation, message)
}

// CacheUnavailableError creates an error for an unreachable session store.
func CacheUnavailableError(err error) *AppError {
	return Wrap(CodeCacheUnavailable, "session store unreachable", err)
}

// StorageError creates a log storage error.
func StorageError(message string, err error) *AppError {
	return Wrap(CodeStorageError, message, err)
}

// VectorError creates a vector index error.
func VectorError(message string, err error) *AppError {
	return Wrap(CodeVectorError, message, err)
}

// RateLimitedError creates a rate limited error with retry information.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// IsCode checks whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsRetrievalFailure checks if error is a retrieval failure.
func IsRetrievalFailure(err error) bool {
	return IsCode(err, CodeRetrievalFailure)
}

// IsCacheUnavailable checks if error is a cache availability failure.
func IsCacheUnavailable(err error) bool {
	return IsCode(err, CodeCacheUnavailable)
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
// This is the low-level function used by WriteError.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignore encoding errors - headers already sent
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response with proper sanitization.
// If err is an *AppError, it uses the code and status from the error.
// For other errors, it sanitizes the message to prevent leaking internal details.
func WriteError(w http.ResponseWriter, err error) {
	// Check if it's an AppError
	if appErr, ok := err.(*AppError); ok {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	// For non-AppError errors, sanitize the message
	// Don't leak internal error details to clients
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
