package backend

import (
	"context"
	"sort"
	"sync"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
)

// MemoryBackend is the volatile in-memory store, the last-resort
// fallback. Nothing survives process exit.
type MemoryBackend struct {
	mu        sync.Mutex
	quota     int64
	documents map[string]*capture.Document
	receipts  []*capture.Receipt
	wal       []*capture.WALEntry
	audit     []*capture.AuditEntry
	nextLogID int64
	state     map[string][]byte
}

// OpenMemory creates an empty in-memory store.
func OpenMemory(cfg *config.Config) *MemoryBackend {
	return &MemoryBackend{
		quota:     cfg.MemoryQuotaBytes,
		documents: make(map[string]*capture.Document),
		nextLogID: 1,
		state:     make(map[string][]byte),
	}
}

// Name implements Backend.
func (b *MemoryBackend) Name() string { return NameMemory }

// QuotaBytes implements Backend.
func (b *MemoryBackend) QuotaBytes() int64 { return b.quota }

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

// PutDocument inserts or overwrites a document record.
func (b *MemoryBackend) PutDocument(ctx context.Context, doc *capture.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := *doc
	b.documents[doc.ID] = &d
	return nil
}

// GetDocument retrieves a document by ID, or ErrNotFound.
func (b *MemoryBackend) GetDocument(ctx context.Context, id string) (*capture.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	d := *doc
	return &d, nil
}

// AllDocuments returns every document, oldest persisted first.
func (b *MemoryBackend) AllDocuments(ctx context.Context) ([]*capture.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*capture.Document, 0, len(b.documents))
	for _, doc := range b.documents {
		d := *doc
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersistedAt != out[j].PersistedAt {
			return out[i].PersistedAt < out[j].PersistedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveWithReceipt writes the document then appends the receipt.
func (b *MemoryBackend) SaveWithReceipt(ctx context.Context, doc *capture.Document, rcpt *capture.Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.receipts {
		if existing.ReceiptID == rcpt.ReceiptID {
			return ErrDuplicateReceipt
		}
	}
	d := *doc
	b.documents[doc.ID] = &d
	r := *rcpt
	b.receipts = append(b.receipts, &r)
	return nil
}

// AppendReceipt appends a receipt; duplicate IDs fail, never overwrite.
func (b *MemoryBackend) AppendReceipt(ctx context.Context, rcpt *capture.Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.receipts {
		if existing.ReceiptID == rcpt.ReceiptID {
			return ErrDuplicateReceipt
		}
	}
	r := *rcpt
	b.receipts = append(b.receipts, &r)
	return nil
}

// GetReceipt retrieves a receipt by its ID, or ErrNotFound.
func (b *MemoryBackend) GetReceipt(ctx context.Context, receiptID string) (*capture.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.receipts {
		if r.ReceiptID == receiptID {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// Receipts returns receipts oldest-first (append order).
func (b *MemoryBackend) Receipts(ctx context.Context, f ReceiptFilter) ([]*capture.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*capture.Receipt
	for _, r := range b.receipts {
		if f.DocumentID != "" && r.DocumentID != f.DocumentID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

// AppendWAL appends a WAL entry.
func (b *MemoryBackend) AppendWAL(ctx context.Context, entry *capture.WALEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := *entry
	b.wal = append(b.wal, &e)
	return nil
}

// WALEntries returns WAL entries oldest-first (append order).
func (b *MemoryBackend) WALEntries(ctx context.Context, f WALFilter) ([]*capture.WALEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*capture.WALEntry
	for _, e := range b.wal {
		if matchWAL(e, f) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

// MarkWALPruned sets the pruned flag on the given entries.
func (b *MemoryBackend) MarkWALPruned(ctx context.Context, entryIDs []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		ids[id] = true
	}
	for _, e := range b.wal {
		if ids[e.EntryID] {
			e.Pruned = true
		}
	}
	return nil
}

// AppendAudit appends an audit entry, assigning the next local log_id.
func (b *MemoryBackend) AppendAudit(ctx context.Context, entry *capture.AuditEntry) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := *entry
	e.LogID = b.nextLogID
	b.nextLogID++
	b.audit = append(b.audit, &e)
	entry.LogID = e.LogID
	return e.LogID, nil
}

// AuditEntries returns audit entries oldest-first.
func (b *MemoryBackend) AuditEntries(ctx context.Context, f AuditFilter) ([]*capture.AuditEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*capture.AuditEntry
	for _, e := range b.audit {
		if !matchAudit(e, f) {
			continue
		}
		c := *e
		out = append(out, &c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// GetState returns the stored blob for key, or nil when absent.
func (b *MemoryBackend) GetState(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.state[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// PutState stores or replaces the blob for key.
func (b *MemoryBackend) PutState(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	b.state[key] = stored
	return nil
}

// UsageBytes is an in-process byte-size estimate of held records.
func (b *MemoryBackend) UsageBytes(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, doc := range b.documents {
		total += int64(len(doc.ID) + len(doc.Content) + len(doc.Fingerprint) + 64)
		for k, v := range doc.Metadata {
			total += int64(len(k) + len(v))
		}
	}
	total += int64(len(b.receipts)) * 160
	for _, e := range b.wal {
		total += int64(len(e.EntryID)+len(e.DocumentID)+len(e.Fingerprint)+len(e.SessionID)) + 32
	}
	for _, e := range b.audit {
		total += int64(len(e.Operation)+len(e.DocumentID)+len(e.Outcome)) + 48
	}
	for k, v := range b.state {
		total += int64(len(k) + len(v))
	}
	return total, nil
}
