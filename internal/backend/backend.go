// Package backend provides the storage adapter contract, its three
// implementations (SQLite, file-backed key-value, in-memory), and the
// ordered fallback selection used at startup.
package backend

import (
	"context"
	"errors"

	"github.com/capstore/capstore/internal/capture"
)

// Backend names, in fixed priority order.
const (
	NameSQLite = "sqlite"
	NameFile   = "file"
	NameMemory = "memory"
)

// Primary is the highest-priority backend name.
const Primary = NameSQLite

// Sentinel errors shared by all adapters.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateReceipt = errors.New("receipt unique constraint failed")
)

// ReceiptFilter narrows Receipts results. Zero value matches all.
type ReceiptFilter struct {
	DocumentID string
}

// WALFilter narrows WALEntries results. Zero value matches all.
type WALFilter struct {
	DocumentID    string
	Type          string
	IncludePruned bool
	SessionID     string
}

// AuditFilter narrows AuditEntries results. Zero value matches all.
// Start/End bound the entry timestamp (unix millis, inclusive);
// zero means unbounded. Limit 0 means no limit.
type AuditFilter struct {
	Operation  string
	DocumentID string
	Start      int64
	End        int64
	Limit      int
}

// Backend is the record CRUD contract every adapter implements.
// Documents are keyed by ID and overwritten in place; receipts, WAL
// entries, and audit entries are append-only; the state container
// holds small JSON blobs (migration state, export progress) keyed by
// string. All list methods return entries oldest-first.
type Backend interface {
	Name() string

	PutDocument(ctx context.Context, doc *capture.Document) error
	GetDocument(ctx context.Context, id string) (*capture.Document, error)
	AllDocuments(ctx context.Context) ([]*capture.Document, error)

	// SaveWithReceipt persists the document and appends its receipt as
	// one unit: atomically where the adapter supports transactions,
	// sequentially otherwise (safe under the single-writer assumption).
	SaveWithReceipt(ctx context.Context, doc *capture.Document, rcpt *capture.Receipt) error

	AppendReceipt(ctx context.Context, rcpt *capture.Receipt) error
	GetReceipt(ctx context.Context, receiptID string) (*capture.Receipt, error)
	Receipts(ctx context.Context, f ReceiptFilter) ([]*capture.Receipt, error)

	AppendWAL(ctx context.Context, entry *capture.WALEntry) error
	WALEntries(ctx context.Context, f WALFilter) ([]*capture.WALEntry, error)
	MarkWALPruned(ctx context.Context, entryIDs []string) error

	// AppendAudit assigns and returns the backend-local log_id.
	AppendAudit(ctx context.Context, entry *capture.AuditEntry) (int64, error)
	AuditEntries(ctx context.Context, f AuditFilter) ([]*capture.AuditEntry, error)

	GetState(ctx context.Context, key string) ([]byte, error) // nil, nil when absent
	PutState(ctx context.Context, key string, value []byte) error

	// UsageBytes reports the adapter-specific usage measurement.
	UsageBytes(ctx context.Context) (int64, error)
	// QuotaBytes is the fixed capacity this adapter admits writes against.
	QuotaBytes() int64

	Close() error
}

// matchWAL applies a WALFilter to one entry.
func matchWAL(e *capture.WALEntry, f WALFilter) bool {
	if !f.IncludePruned && e.Pruned {
		return false
	}
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	return true
}

// matchAudit applies an AuditFilter to one entry (limit handled by caller).
func matchAudit(e *capture.AuditEntry, f AuditFilter) bool {
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	if f.Start != 0 && e.Timestamp < f.Start {
		return false
	}
	if f.End != 0 && e.Timestamp > f.End {
		return false
	}
	return true
}
