package ops

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// Migration states, persisted across restarts so an interrupted
// migration can be resumed or inspected.
const (
	MigrationNotStarted = "not_started"
	MigrationInProgress = "in_progress"
	MigrationCompleted  = "completed"
	MigrationFailed     = "failed"
)

const migrationStateKey = "migration_state"

// MigrationFailure records one record that could not be migrated.
type MigrationFailure struct {
	DocumentID string `json:"document_id"`
	Error      string `json:"error"`
}

// MigrationResult is the persisted outcome of a migration pass.
type MigrationResult struct {
	State    string             `json:"state"`
	Migrated int                `json:"migrated"`
	Skipped  int                `json:"skipped"`
	Failures []MigrationFailure `json:"failures,omitempty"`
}

// Success reports whether the batch had zero per-record failures.
func (r *MigrationResult) Success() bool {
	return r.State == MigrationCompleted && len(r.Failures) == 0
}

// MigrationState loads the persisted migration state from the active
// backend, or a not_started result when none exists.
func (e *Engine) MigrationState(ctx context.Context) (*MigrationResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	data, err := e.backend.GetState(ctx, migrationStateKey)
	if err != nil {
		return nil, errors.Classify("migration_state", err, nil)
	}
	if data == nil {
		return &MigrationResult{State: MigrationNotStarted}, nil
	}
	var result MigrationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Classify("migration_state", err, nil)
	}
	return &result, nil
}

// Migrate transfers records one-way from a lower-priority backend into
// the active one. Idempotent: records that already have a receipt in
// the destination are skipped. Verified: each record is read back and
// its fingerprint compared before it counts as migrated. Per-record
// failures are collected and do not abort the batch; overall success
// requires zero of them.
//
// Returns (nil, nil) when the source holds nothing to consider.
func (e *Engine) Migrate(ctx context.Context, from backend.Backend) (*MigrationResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	docs, err := from.AllDocuments(ctx)
	if err != nil {
		return nil, errors.Classify("migrate", err, map[string]any{"from": from.Name()})
	}
	if len(docs) == 0 {
		return nil, nil
	}

	result := &MigrationResult{State: MigrationInProgress}
	if err := e.saveMigrationState(ctx, result); err != nil {
		return nil, err
	}
	e.audit(ctx, &capture.AuditEntry{
		Operation: capture.OpMigrationStarted,
		Outcome:   "ok",
		Context:   map[string]string{"from": from.Name(), "candidates": strconv.Itoa(len(docs))},
	})

	for _, doc := range docs {
		receipts, err := e.backend.Receipts(ctx, backend.ReceiptFilter{DocumentID: doc.ID})
		if err != nil {
			result.Failures = append(result.Failures, MigrationFailure{DocumentID: doc.ID, Error: err.Error()})
			continue
		}
		if len(receipts) > 0 {
			result.Skipped++
			continue
		}

		if err := e.migrateOne(ctx, doc); err != nil {
			result.Failures = append(result.Failures, MigrationFailure{DocumentID: doc.ID, Error: err.Error()})
			continue
		}
		result.Migrated++
	}

	if len(result.Failures) > 0 {
		result.State = MigrationFailed
	} else {
		result.State = MigrationCompleted
	}
	if err := e.saveMigrationState(ctx, result); err != nil {
		return nil, err
	}

	op := capture.OpMigrationCompleted
	outcome := "ok"
	if result.State == MigrationFailed {
		op = capture.OpMigrationFailed
		outcome = "error"
	}
	e.audit(ctx, &capture.AuditEntry{
		Operation: op,
		Outcome:   outcome,
		Context: map[string]string{
			"from":     from.Name(),
			"migrated": strconv.Itoa(result.Migrated),
			"skipped":  strconv.Itoa(result.Skipped),
			"failed":   strconv.Itoa(len(result.Failures)),
		},
	})

	return result, nil
}

// migrateOne writes one record into the active backend, reads it back,
// verifies the fingerprint, and appends its receipt.
func (e *Engine) migrateOne(ctx context.Context, doc *capture.Document) error {
	migrated := *doc
	migrated.Backend = e.backend.Name()
	migrated.PersistedAt = capture.NowMillis()

	if err := e.backend.PutDocument(ctx, &migrated); err != nil {
		return err
	}
	stored, err := e.backend.GetDocument(ctx, migrated.ID)
	if err != nil {
		return err
	}
	if stored.Fingerprint != doc.Fingerprint {
		return errors.NewIntegrity(doc.ID, doc.Fingerprint, stored.Fingerprint)
	}

	receiptID, err := capture.NewID()
	if err != nil {
		return err
	}
	return e.backend.AppendReceipt(ctx, &capture.Receipt{
		ReceiptID:     receiptID,
		DocumentID:    migrated.ID,
		Fingerprint:   migrated.Fingerprint,
		Backend:       e.backend.Name(),
		PersistedAt:   migrated.PersistedAt,
		SchemaVersion: capture.CurrentSchemaVersion,
	})
}

func (e *Engine) saveMigrationState(ctx context.Context, result *MigrationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Classify("migrate", err, nil)
	}
	if err := e.backend.PutState(ctx, migrationStateKey, data); err != nil {
		return errors.Classify("migrate", err, nil)
	}
	return nil
}
