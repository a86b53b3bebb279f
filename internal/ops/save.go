package ops

import (
	"context"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// SaveInput contains parameters for the SaveDocument operation.
type SaveInput struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SaveOutput contains the receipt proving durable persistence, plus a
// quota advisory when usage is between the warning and critical
// thresholds.
type SaveOutput struct {
	Receipt *capture.Receipt `json:"receipt"`
	Warning string           `json:"warning,omitempty"`
}

// SaveDocument runs the atomic save & receipt protocol: validate,
// fingerprint, persist document + receipt as one unit, then read the
// receipt back and verify identifier and fingerprint before returning
// it. The returned receipt is the caller's only proof of durability;
// any error means the document must not be considered saved.
//
// Re-saving an identifier overwrites the document record but always
// appends a new receipt.
func (e *Engine) SaveDocument(ctx context.Context, input SaveInput) (*SaveOutput, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	// Validation happens before any backend call: on failure there is
	// no receipt and no partial write.
	if err := capture.ValidateDocumentID(input.ID); err != nil {
		return nil, err
	}
	id := capture.NormalizeID(input.ID)
	if input.Content == "" {
		return nil, errors.NewValidation("document content is required")
	}

	warning, err := e.AdmitWrite(ctx)
	if err != nil {
		return nil, err
	}

	fingerprint := capture.Fingerprint(input.Content)
	now := capture.NowMillis()

	receiptID, err := capture.NewID()
	if err != nil {
		return nil, errors.Classify("save_document", err, map[string]any{"document_id": id})
	}

	doc := &capture.Document{
		ID:          id,
		Content:     input.Content,
		Fingerprint: fingerprint,
		Backend:     e.backend.Name(),
		PersistedAt: now,
		Verified:    false,
		Metadata:    input.Metadata,
	}
	rcpt := &capture.Receipt{
		ReceiptID:     receiptID,
		DocumentID:    id,
		Fingerprint:   fingerprint,
		Backend:       e.backend.Name(),
		PersistedAt:   now,
		SchemaVersion: capture.CurrentSchemaVersion,
	}

	if err := e.backend.SaveWithReceipt(ctx, doc, rcpt); err != nil {
		e.audit(ctx, &capture.AuditEntry{
			Operation:   capture.OpSaveFailed,
			DocumentID:  id,
			Outcome:     "error",
			Fingerprint: fingerprint,
		})
		return nil, errors.Classify("save_document", err, map[string]any{"document_id": id})
	}

	// Read back and confirm before reporting durability to the caller.
	stored, err := e.backend.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, errors.Classify("verify_receipt", err, map[string]any{
			"document_id": id,
			"receipt_id":  receiptID,
		})
	}
	if stored.DocumentID != id || stored.Fingerprint != fingerprint {
		return nil, errors.NewIntegrity(id, fingerprint, stored.Fingerprint)
	}

	e.audit(ctx, &capture.AuditEntry{
		Operation:   capture.OpDocumentSaved,
		DocumentID:  id,
		Outcome:     "ok",
		Fingerprint: fingerprint,
	})

	return &SaveOutput{Receipt: stored, Warning: warning}, nil
}

// FetchOutput is a stored document plus its integrity check result.
type FetchOutput struct {
	Document             *capture.Document `json:"document"`
	PotentiallyCorrupted bool              `json:"potentially_corrupted"`
}

// FetchDocument reads a document and recomputes its fingerprint. A
// mismatch is non-fatal: the record is still returned, flagged
// potentially corrupted, and the handling decision is the caller's.
func (e *Engine) FetchDocument(ctx context.Context, id string) (*FetchOutput, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	id = capture.NormalizeID(id)
	if id == "" {
		return nil, errors.NewValidation("document id is required")
	}

	doc, err := e.backend.GetDocument(ctx, id)
	if err == backend.ErrNotFound {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.Classify("fetch_document", err, map[string]any{"document_id": id})
	}

	return &FetchOutput{
		Document:             doc,
		PotentiallyCorrupted: capture.Fingerprint(doc.Content) != doc.Fingerprint,
	}, nil
}
