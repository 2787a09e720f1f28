package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrLockHeld       = errors.New("lock already held")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrInternal       = errors.New("internal error")
)

// UpstreamError reports a failed fetch against the Promidata feed after the
// retry budget is exhausted.
type UpstreamError struct {
	URL        string
	Attempts   int
	LastStatus int
	Cause      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream fetch %s failed after %d attempts (last status %d): %v",
		e.URL, e.Attempts, e.LastStatus, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// ValidationError reports a malformed upstream document or missing mandatory
// fields. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: field %q %s", e.Field, e.Reason)
	}
	return "validation: " + e.Reason
}

// ConflictError reports a unique-key violation during upsert. It is retried
// once after re-reading the conflicting row.
type ConflictError struct {
	Entity string
	Key    string
	Cause  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %q: %v", e.Entity, e.Key, e.Cause)
}

func (e *ConflictError) Unwrap() error { return e.Cause }

// TransientStoreError reports a deadlock or connection problem against the
// database or queue store. Retried per queue policy.
type TransientStoreError struct {
	Op    string
	Cause error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Cause)
}

func (e *TransientStoreError) Unwrap() error { return e.Cause }

// CancelledError signals a cooperative stop. It is not a failure: jobs that
// observe it report completed with a cancelled flag.
type CancelledError struct {
	Processed int
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("sync cancelled after %d units", e.Processed)
}

// ConfigError reports missing or invalid environment configuration. Fatal at
// startup.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Name, e.Reason)
}

// FamilyError captures a per-family failure during a supplier sync. Families
// fail independently; the supplier job carries these to completion.
type FamilyError struct {
	FamilyKey string `json:"family_key"`
	Phase     string `json:"phase"`
	Cause     error  `json:"-"`
	Message   string `json:"message"`
}

func (e *FamilyError) Error() string {
	return fmt.Sprintf("family %s failed in %s: %v", e.FamilyKey, e.Phase, e.Cause)
}

func (e *FamilyError) Unwrap() error { return e.Cause }

// NewFamilyError builds a FamilyError with the message field populated for
// serialization into job error lists.
func NewFamilyError(familyKey, phase string, cause error) *FamilyError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &FamilyError{FamilyKey: familyKey, Phase: phase, Cause: cause, Message: msg}
}

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// IsRetryable reports whether the job pipeline should schedule another
// attempt for err. Validation and cancellation are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if IsCancelled(err) {
		return false
	}
	return true
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error on the control
// surface.
func HTTPStatus(err error) int {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return http.StatusServiceUnavailable
	}
	var te *TransientStoreError
	if errors.As(err, &te) {
		return http.StatusServiceUnavailable
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict), errors.Is(err, ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
