package errors

import (
	stderrors "errors"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: "record not found: doc-1",
	}

	expected := "NOT_FOUND: record not found: doc-1"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("document id is required")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "document id is required" {
		t.Errorf("Message = %q, want %q", err.Message, "document id is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("doc-1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "doc-1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "doc-1")
	}
}

func TestNewQuotaExceeded(t *testing.T) {
	err := NewQuotaExceeded("sqlite", 96.5)

	if err.Code != ErrQuotaExceeded {
		t.Errorf("Code = %q, want %q", err.Code, ErrQuotaExceeded)
	}
	if err.Status != 507 {
		t.Errorf("Status = %d, want 507", err.Status)
	}
	if err.Details["backend"] != "sqlite" {
		t.Errorf("Details[backend] = %v, want %q", err.Details["backend"], "sqlite")
	}
	if err.Details["usage_percent"] != 96.5 {
		t.Errorf("Details[usage_percent] = %v, want 96.5", err.Details["usage_percent"])
	}
}

func TestNewBackendUnavailable_WithAttempts(t *testing.T) {
	attempts := []map[string]any{
		{"backend": "sqlite", "error": "unable to open database file"},
		{"backend": "file", "error": "permission denied"},
	}
	err := NewBackendUnavailable("all backends failed verification", attempts)

	if err.Code != ErrBackendUnavailable {
		t.Errorf("Code = %q, want %q", err.Code, ErrBackendUnavailable)
	}
	if err.Status != 503 {
		t.Errorf("Status = %d, want 503", err.Status)
	}
	got, ok := err.Details["attempts"].([]map[string]any)
	if !ok {
		t.Fatalf("Details[attempts] has type %T, want []map[string]any", err.Details["attempts"])
	}
	if len(got) != 2 {
		t.Errorf("len(attempts) = %d, want 2", len(got))
	}
}

func TestNewIntegrity(t *testing.T) {
	err := NewIntegrity("doc-1", "aaa", "bbb")

	if err.Code != ErrIntegrity {
		t.Errorf("Code = %q, want %q", err.Code, ErrIntegrity)
	}
	if err.Details["want"] != "aaa" || err.Details["got"] != "bbb" {
		t.Errorf("Details = %v, want fingerprints aaa/bbb", err.Details)
	}
}

func TestClassify_Nil(t *testing.T) {
	if got := Classify("save", nil, nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	original := NewValidation("bad input")
	got := Classify("save", original, map[string]any{"extra": true})
	if got != original {
		t.Errorf("Classify should pass through an already-classified error unchanged")
	}
}

func TestClassify_Patterns(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		code ErrorCode
	}{
		{"disk full", "write failed: disk full", ErrQuotaExceeded},
		{"no space", "no space left on device", ErrQuotaExceeded},
		{"permission", "open /data: permission denied", ErrPermissionDenied},
		{"readonly", "attempt to write a readonly database", ErrPermissionDenied},
		{"open", "unable to open database file", ErrBackendUnavailable},
		{"closed", "sql: database is closed", ErrBackendUnavailable},
		{"unique", "UNIQUE constraint failed: receipts.receipt_id", ErrTransactionFailed},
		{"locked", "database is locked", ErrTransactionFailed},
		{"fingerprint", "fingerprint mismatch on read-back", ErrIntegrity},
		{"corrupt", "file is corrupt", ErrIntegrity},
		{"unknown", "something strange happened", ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("op", stderrors.New(tt.msg), nil)
			if got.Code != tt.code {
				t.Errorf("Classify(%q).Code = %q, want %q", tt.msg, got.Code, tt.code)
			}
		})
	}
}

func TestClassify_AttachesOperationAndDetails(t *testing.T) {
	got := Classify("save_document", stderrors.New("boom"), map[string]any{"document_id": "doc-1"})

	if got.Details["operation"] != "save_document" {
		t.Errorf("Details[operation] = %v, want save_document", got.Details["operation"])
	}
	if got.Details["document_id"] != "doc-1" {
		t.Errorf("Details[document_id] = %v, want doc-1", got.Details["document_id"])
	}
}

func TestUnwrap(t *testing.T) {
	original := stderrors.New("boom")
	wrapped := Classify("op", original, nil)

	if !stderrors.Is(wrapped, original) {
		t.Errorf("errors.Is(wrapped, original) = false, want true")
	}
}

func TestIs(t *testing.T) {
	err := NewValidation("bad")

	if !Is(err, ErrValidation) {
		t.Errorf("Is(err, ErrValidation) = false, want true")
	}
	if Is(err, ErrNotFound) {
		t.Errorf("Is(err, ErrNotFound) = true, want false")
	}
	if Is(stderrors.New("plain"), ErrUnknown) {
		t.Errorf("Is(plain error) = true, want false")
	}
}
