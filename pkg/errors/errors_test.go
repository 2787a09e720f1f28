package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpstreamErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &UpstreamError{URL: "https://feed.example/p.json", Attempts: 3, LastStatus: 502, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Contains(t, err.Error(), "502")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation is terminal", &ValidationError{Field: "sku", Reason: "missing"}, false},
		{"wrapped validation is terminal", fmt.Errorf("normalize: %w", &ValidationError{Reason: "bad json"}), false},
		{"cancelled is terminal", &CancelledError{Processed: 2}, false},
		{"upstream retries", &UpstreamError{URL: "u", Attempts: 3}, true},
		{"transient store retries", &TransientStoreError{Op: "upsert", Cause: errors.New("deadlock")}, true},
		{"plain errors retry", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrNotFound, http.StatusNotFound},
		{"lock held maps to conflict", ErrLockHeld, http.StatusConflict},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"validation error", &ValidationError{Reason: "bad"}, http.StatusBadRequest},
		{"upstream unreachable", &UpstreamError{URL: "u"}, http.StatusServiceUnavailable},
		{"transient store", &TransientStoreError{Op: "query"}, http.StatusServiceUnavailable},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestNewFamilyError(t *testing.T) {
	cause := errors.New("bad json")
	fe := NewFamilyError("A23-100", "normalize", cause)

	assert.Equal(t, "A23-100", fe.FamilyKey)
	assert.Equal(t, "normalize", fe.Phase)
	assert.Equal(t, "bad json", fe.Message)
	assert.ErrorIs(t, fe, cause)
}
