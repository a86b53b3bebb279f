package ops

import (
	"context"
	"fmt"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// ReceiptsInput filters GetReceipts. Zero value returns everything.
type ReceiptsInput struct {
	DocumentID string
}

// GetReceipts returns receipts oldest-first, optionally filtered by
// document identifier.
func (e *Engine) GetReceipts(ctx context.Context, input ReceiptsInput) ([]*capture.Receipt, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	receipts, err := e.backend.Receipts(ctx, backend.ReceiptFilter{DocumentID: capture.NormalizeID(input.DocumentID)})
	if err != nil {
		return nil, errors.Classify("get_receipts", err, nil)
	}
	return receipts, nil
}

// AuditInput filters GetAuditLog. Start/End are unix millis,
// inclusive; zero means unbounded. Limit 0 means no limit.
type AuditInput struct {
	Operation  string
	DocumentID string
	Start      int64
	End        int64
	Limit      int
}

// GetAuditLog returns audit entries oldest-first.
func (e *Engine) GetAuditLog(ctx context.Context, input AuditInput) ([]*capture.AuditEntry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if input.Operation != "" && !capture.KnownOperation(input.Operation) {
		return nil, errors.NewValidation(fmt.Sprintf("unknown audit operation %q", input.Operation))
	}
	entries, err := e.backend.AuditEntries(ctx, backend.AuditFilter{
		Operation:  input.Operation,
		DocumentID: capture.NormalizeID(input.DocumentID),
		Start:      input.Start,
		End:        input.End,
		Limit:      input.Limit,
	})
	if err != nil {
		return nil, errors.Classify("get_audit_log", err, nil)
	}
	return entries, nil
}

// AuditEntryInput describes a caller-supplied audit entry.
type AuditEntryInput struct {
	Operation   string
	DocumentID  string
	Outcome     string
	Fingerprint string
	Context     map[string]string
}

// LogAuditEntry appends an entry for an operation in the closed audit
// enumeration. Unlike the engine's own best-effort audit writes, a
// caller-requested entry that cannot be written is an error.
func (e *Engine) LogAuditEntry(ctx context.Context, input AuditEntryInput) (*capture.AuditEntry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !capture.KnownOperation(input.Operation) {
		return nil, errors.NewValidation(fmt.Sprintf("unknown audit operation %q", input.Operation))
	}

	entry := &capture.AuditEntry{
		Timestamp:   capture.NowMillis(),
		Operation:   input.Operation,
		DocumentID:  capture.NormalizeID(input.DocumentID),
		Outcome:     input.Outcome,
		Fingerprint: input.Fingerprint,
		Backend:     e.backend.Name(),
		Context:     input.Context,
	}
	logID, err := e.backend.AppendAudit(ctx, entry)
	if err != nil {
		return nil, errors.Classify("log_audit_entry", err, map[string]any{"audit_operation": input.Operation})
	}
	entry.LogID = logID
	return entry, nil
}
