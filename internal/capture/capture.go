// Package capture defines the persistence engine's domain records:
// captured documents, their proof-of-persistence receipts, write-ahead
// log entries, and audit entries.
package capture

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capstore/capstore/internal/errors"
)

// CurrentSchemaVersion is carried on every receipt for
// forward-compatible reads. Bump when the receipt shape changes.
const CurrentSchemaVersion = 1

// Document is the single logical record type the engine persists.
// Re-saving the same ID overwrites in place (latest-write-wins).
type Document struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Fingerprint string            `json:"fingerprint"`
	Backend     string            `json:"backend"`
	PersistedAt int64             `json:"persisted_at"` // unix millis
	Verified    bool              `json:"verified"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Receipt is the authoritative, append-only proof that a document
// reached durable storage. Created only as the final step of a
// successful atomic save; never mutated or deleted.
type Receipt struct {
	ReceiptID     string `json:"receipt_id"`
	DocumentID    string `json:"document_id"`
	Fingerprint   string `json:"content_fingerprint"`
	Backend       string `json:"backend_used"`
	PersistedAt   int64  `json:"persisted_at"` // unix millis
	SchemaVersion int    `json:"schema_version"`
}

// WAL entry types.
const (
	WALIntent   = "intent"
	WALComplete = "complete"
)

// WALEntry marks extraction intent or completion for one document.
// An unpruned intent with no later complete signals interrupted work.
type WALEntry struct {
	EntryID     string `json:"entry_id"`
	DocumentID  string `json:"document_id"`
	Type        string `json:"entry_type"`
	Timestamp   int64  `json:"timestamp"` // unix millis
	Fingerprint string `json:"content_fingerprint,omitempty"`
	SessionID   string `json:"session_id"`
	Pruned      bool   `json:"pruned"`
}

// AuditEntry is one row of the append-only audit log. LogID is
// assigned by the backend and is backend-local.
type AuditEntry struct {
	LogID       int64             `json:"log_id"`
	Timestamp   int64             `json:"timestamp"` // unix millis
	Operation   string            `json:"operation"`
	DocumentID  string            `json:"document_id,omitempty"`
	Outcome     string            `json:"outcome,omitempty"`
	Fingerprint string            `json:"content_fingerprint,omitempty"`
	Backend     string            `json:"backend_used,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// Queue item statuses. Queue items are owned by the extraction shell;
// receipts, not statuses, are authoritative for completion.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// QueueItem is the shell's view of one unit of extraction work.
type QueueItem struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// Audit operations form a closed enumeration; LogAuditEntry rejects
// anything outside it.
const (
	OpInitialize         = "initialize"
	OpDocumentSaved      = "document_saved"
	OpSaveFailed         = "save_failed"
	OpWALIntent          = "wal_intent"
	OpWALComplete        = "wal_complete"
	OpWALPruned          = "wal_pruned"
	OpReconstruction     = "reconstruction"
	OpQuotaWarning       = "quota_warning"
	OpMigrationStarted   = "migration_started"
	OpMigrationCompleted = "migration_completed"
	OpMigrationFailed    = "migration_failed"
	OpExportStarted      = "export_started"
	OpExportCompleted    = "export_completed"
	OpExportCancelled    = "export_cancelled"
)

var knownOperations = map[string]bool{
	OpInitialize:         true,
	OpDocumentSaved:      true,
	OpSaveFailed:         true,
	OpWALIntent:          true,
	OpWALComplete:        true,
	OpWALPruned:          true,
	OpReconstruction:     true,
	OpQuotaWarning:       true,
	OpMigrationStarted:   true,
	OpMigrationCompleted: true,
	OpMigrationFailed:    true,
	OpExportStarted:      true,
	OpExportCompleted:    true,
	OpExportCancelled:    true,
}

// KnownOperation reports whether op is part of the audit enumeration.
func KnownOperation(op string) bool {
	return knownOperations[op]
}

// Fingerprint computes the SHA-256 hex digest of document content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// NormalizeID trims surrounding whitespace from a document identifier.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// ValidateDocumentID returns a validation error for empty identifiers.
func ValidateDocumentID(id string) error {
	if NormalizeID(id) == "" {
		return errors.NewValidation("document id is required")
	}
	return nil
}

// NewID generates a ULID for receipts, WAL entries, and exports.
func NewID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NowMillis returns the current wall-clock time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
