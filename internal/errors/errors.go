package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents a capstore error code.
type ErrorCode string

const (
	ErrValidation         ErrorCode = "VALIDATION"          // 400
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"   // 403
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE" // 503
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"      // 507
	ErrTransactionFailed  ErrorCode = "TRANSACTION_FAILED"  // 500
	ErrIntegrity          ErrorCode = "INTEGRITY_ERROR"     // 500
	ErrUnknown            ErrorCode = "UNKNOWN"             // 500
)

// Error is a structured error with code, status, and details.
// Details always carries the operation name and any relevant identifiers.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error // original error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the original error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation creates a 400 error for invalid input. Validation
// failures happen before any backend call and produce no partial state.
func NewValidation(msg string) *Error {
	return &Error{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing document or receipt.
func NewNotFound(identifier string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewQuotaExceeded creates a 507 error when storage usage is at or
// above the critical threshold.
func NewQuotaExceeded(backend string, usagePercent float64) *Error {
	return &Error{
		Code:    ErrQuotaExceeded,
		Status:  507,
		Message: fmt.Sprintf("storage usage %.1f%% on backend %q is at or above the critical threshold", usagePercent, backend),
		Details: map[string]any{"backend": backend, "usage_percent": usagePercent},
	}
}

// NewBackendUnavailable creates a 503 error for an unusable backend.
// attempts carries the full selection history when raised from startup.
func NewBackendUnavailable(msg string, attempts []map[string]any) *Error {
	details := map[string]any{}
	if attempts != nil {
		details["attempts"] = attempts
	}
	return &Error{
		Code:    ErrBackendUnavailable,
		Status:  503,
		Message: msg,
		Details: details,
	}
}

// NewIntegrity creates an integrity error for fingerprint mismatches
// detected during save verification.
func NewIntegrity(documentID, want, got string) *Error {
	return &Error{
		Code:    ErrIntegrity,
		Status:  500,
		Message: fmt.Sprintf("fingerprint mismatch for document %q", documentID),
		Details: map[string]any{"document_id": documentID, "want": want, "got": got},
	}
}

// Classify derives an error code from an underlying failure's message
// and wraps it with the operation name and identifiers. A nil err
// returns nil. An already-classified *Error passes through unchanged.
func Classify(op string, err error, details map[string]any) *Error {
	if err == nil {
		return nil
	}
	if cErr, ok := err.(*Error); ok {
		return cErr
	}

	code := ErrUnknown
	status := 500
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "quota", "disk full", "no space left"):
		code, status = ErrQuotaExceeded, 507
	case containsAny(msg, "permission denied", "read-only", "readonly", "access is denied"):
		code, status = ErrPermissionDenied, 403
	case containsAny(msg, "unable to open", "no such table", "database is closed", "backend unavailable"):
		code, status = ErrBackendUnavailable, 503
	case containsAny(msg, "unique constraint", "database is locked", "transaction", "rollback", "constraint failed"):
		code, status = ErrTransactionFailed, 500
	case containsAny(msg, "fingerprint", "checksum", "corrupt"):
		code, status = ErrIntegrity, 500
	}

	d := map[string]any{"operation": op}
	for k, v := range details {
		d[k] = v
	}

	return &Error{
		Code:    code,
		Status:  status,
		Message: fmt.Sprintf("%s: %s", op, err.Error()),
		Details: d,
		Err:     err,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Is checks if an error is a capstore Error with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := err.(*Error); ok {
		return cErr.Code == code
	}
	return false
}
