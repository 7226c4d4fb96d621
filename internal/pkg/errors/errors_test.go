package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeCacheUnavailable, http.StatusServiceUnavailable},
		{CodeProviderTimeout, http.StatusGatewayTimeout},
		{CodeProviderRejected, http.StatusBadGateway},
		{CodeRetrievalFailure, http.StatusBadGateway},
		{CodeAggregation, http.StatusUnprocessableEntity},
		{CodeInternal, http.StatusInternalServerError},
		{CodeStorageError, http.StatusInternalServerError},
		{CodeVectorError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if status := err.HTTPStatus(); status != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetail("field", "query").
		WithDetail("reason", "required")

	if err.Details["field"] != "query" {
		t.Errorf("Details[field] = %s, want query", err.Details["field"])
	}

	if err.Details["reason"] != "required" {
		t.Errorf("Details[reason] = %s, want required", err.Details["reason"])
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ProviderTimeoutError", func(t *testing.T) {
		err := ProviderTimeoutError("embedding request")
		if err.Code != CodeProviderTimeout {
			t.Errorf("Code = %s, want %s", err.Code, CodeProviderTimeout)
		}
		if err.Message != "embedding request timed out" {
			t.Errorf("Message = %s", err.Message)
		}
	})

	t.Run("ProviderRejectedError", func(t *testing.T) {
		err := ProviderRejectedError("rerank", errors.New("bad shape"))
		if err.Code != CodeProviderRejected {
			t.Errorf("Code = %s, want %s", err.Code, CodeProviderRejected)
		}
	})

	t.Run("RetrievalFailureError", func(t *testing.T) {
		err := RetrievalFailureError("")
		if err.Code != CodeRetrievalFailure {
			t.Errorf("Code = %s, want %s", err.Code, CodeRetrievalFailure)
		}
		if err.Message == "" {
			t.Error("expected default message")
		}
	})

	t.Run("AggregationUnsatisfiableError", func(t *testing.T) {
		err := AggregationUnsatisfiableError("")
		if err.Code != CodeAggregation {
			t.Errorf("Code = %s, want %s", err.Code, CodeAggregation)
		}
	})

	t.Run("CacheUnavailableError", func(t *testing.T) {
		err := CacheUnavailableError(errors.New("dial tcp refused"))
		if err.Code != CodeCacheUnavailable {
			t.Errorf("Code = %s, want %s", err.Code, CodeCacheUnavailable)
		}
	})

	t.Run("NotFoundError", func(t *testing.T) {
		err := NotFoundError("session")
		if err.Message != "session not found" {
			t.Errorf("Message = %s, want 'session not found'", err.Message)
		}
	})
}

func TestIsCode(t *testing.T) {
	retrieval := RetrievalFailureError("no candidates")
	if !IsRetrievalFailure(retrieval) {
		t.Error("IsRetrievalFailure() = false, want true")
	}
	if IsRetrievalFailure(errors.New("plain")) {
		t.Error("IsRetrievalFailure(plain) = true, want false")
	}
	if !IsCacheUnavailable(CacheUnavailableError(nil)) {
		t.Error("IsCacheUnavailable() = false, want true")
	}
	if !IsNotFound(NotFoundError("thing")) {
		t.Error("IsNotFound() = false, want true")
	}
}
