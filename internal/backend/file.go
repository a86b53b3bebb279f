package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
)

// FileBackend is the simple key-value durable store: one JSON file per
// logical container under <base>/kv, rewritten atomically via
// temp-file-and-rename. Smaller capacity than the SQLite backend.
//
// The mutex only guards concurrent readers inside this process (the
// web dashboard); cross-process writers are out of scope per the
// single-writer assumption.
type FileBackend struct {
	mu    sync.Mutex
	dir   string
	quota int64
}

type fileAuditLog struct {
	NextLogID int64                 `json:"next_log_id"`
	Entries   []*capture.AuditEntry `json:"entries"`
}

// OpenFile initializes the file-backed store under baseDir/kv.
func OpenFile(baseDir string, cfg *config.Config) (*FileBackend, error) {
	dir := filepath.Join(baseDir, "kv")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create kv directory: %w", err)
	}
	_ = os.Chmod(dir, 0700)
	return &FileBackend{dir: dir, quota: cfg.FileQuotaBytes}, nil
}

// Name implements Backend.
func (b *FileBackend) Name() string { return NameFile }

// QuotaBytes implements Backend.
func (b *FileBackend) QuotaBytes() int64 { return b.quota }

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) path(container string) string {
	return filepath.Join(b.dir, container+".json")
}

// load reads a container file into v. A missing file leaves v untouched.
func (b *FileBackend) load(container string, v any) error {
	data, err := os.ReadFile(b.path(container))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// store rewrites a container file atomically via temp + rename.
func (b *FileBackend) store(container string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, container+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.path(container)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// PutDocument inserts or overwrites a document record.
func (b *FileBackend) PutDocument(ctx context.Context, doc *capture.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.putDocumentLocked(doc)
}

func (b *FileBackend) putDocumentLocked(doc *capture.Document) error {
	docs := map[string]*capture.Document{}
	if err := b.load("documents", &docs); err != nil {
		return err
	}
	docs[doc.ID] = doc
	return b.store("documents", docs)
}

// GetDocument retrieves a document by ID, or ErrNotFound.
func (b *FileBackend) GetDocument(ctx context.Context, id string) (*capture.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs := map[string]*capture.Document{}
	if err := b.load("documents", &docs); err != nil {
		return nil, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// AllDocuments returns every document, oldest persisted first.
func (b *FileBackend) AllDocuments(ctx context.Context) ([]*capture.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs := map[string]*capture.Document{}
	if err := b.load("documents", &docs); err != nil {
		return nil, err
	}
	out := make([]*capture.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PersistedAt != out[j].PersistedAt {
			return out[i].PersistedAt < out[j].PersistedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveWithReceipt writes the document then appends the receipt. Without
// transactions this is sequential read-modify-write, relying on the
// single-writer assumption.
func (b *FileBackend) SaveWithReceipt(ctx context.Context, doc *capture.Document, rcpt *capture.Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.putDocumentLocked(doc); err != nil {
		return err
	}
	return b.appendReceiptLocked(rcpt)
}

// AppendReceipt appends a receipt; duplicate IDs fail, never overwrite.
func (b *FileBackend) AppendReceipt(ctx context.Context, rcpt *capture.Receipt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendReceiptLocked(rcpt)
}

func (b *FileBackend) appendReceiptLocked(rcpt *capture.Receipt) error {
	var receipts []*capture.Receipt
	if err := b.load("receipts", &receipts); err != nil {
		return err
	}
	for _, existing := range receipts {
		if existing.ReceiptID == rcpt.ReceiptID {
			return ErrDuplicateReceipt
		}
	}
	receipts = append(receipts, rcpt)
	return b.store("receipts", receipts)
}

// GetReceipt retrieves a receipt by its ID, or ErrNotFound.
func (b *FileBackend) GetReceipt(ctx context.Context, receiptID string) (*capture.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var receipts []*capture.Receipt
	if err := b.load("receipts", &receipts); err != nil {
		return nil, err
	}
	for _, r := range receipts {
		if r.ReceiptID == receiptID {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Receipts returns receipts oldest-first (append order).
func (b *FileBackend) Receipts(ctx context.Context, f ReceiptFilter) ([]*capture.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var receipts []*capture.Receipt
	if err := b.load("receipts", &receipts); err != nil {
		return nil, err
	}
	if f.DocumentID == "" {
		return receipts, nil
	}
	var out []*capture.Receipt
	for _, r := range receipts {
		if r.DocumentID == f.DocumentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// AppendWAL appends a WAL entry.
func (b *FileBackend) AppendWAL(ctx context.Context, entry *capture.WALEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var entries []*capture.WALEntry
	if err := b.load("wal", &entries); err != nil {
		return err
	}
	entries = append(entries, entry)
	return b.store("wal", entries)
}

// WALEntries returns WAL entries oldest-first (append order).
func (b *FileBackend) WALEntries(ctx context.Context, f WALFilter) ([]*capture.WALEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var entries []*capture.WALEntry
	if err := b.load("wal", &entries); err != nil {
		return nil, err
	}
	var out []*capture.WALEntry
	for _, e := range entries {
		if matchWAL(e, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkWALPruned sets the pruned flag on the given entries.
func (b *FileBackend) MarkWALPruned(ctx context.Context, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var entries []*capture.WALEntry
	if err := b.load("wal", &entries); err != nil {
		return err
	}
	ids := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		ids[id] = true
	}
	for _, e := range entries {
		if ids[e.EntryID] {
			e.Pruned = true
		}
	}
	return b.store("wal", entries)
}

// AppendAudit appends an audit entry, assigning the next local log_id.
func (b *FileBackend) AppendAudit(ctx context.Context, entry *capture.AuditEntry) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log := fileAuditLog{NextLogID: 1}
	if err := b.load("audit", &log); err != nil {
		return 0, err
	}
	entry.LogID = log.NextLogID
	log.NextLogID++
	log.Entries = append(log.Entries, entry)
	if err := b.store("audit", &log); err != nil {
		return 0, err
	}
	return entry.LogID, nil
}

// AuditEntries returns audit entries oldest-first.
func (b *FileBackend) AuditEntries(ctx context.Context, f AuditFilter) ([]*capture.AuditEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	log := fileAuditLog{NextLogID: 1}
	if err := b.load("audit", &log); err != nil {
		return nil, err
	}
	var out []*capture.AuditEntry
	for _, e := range log.Entries {
		if !matchAudit(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// GetState returns the stored blob for key, or nil when absent.
func (b *FileBackend) GetState(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := map[string]json.RawMessage{}
	if err := b.load("state", &state); err != nil {
		return nil, err
	}
	value, ok := state[key]
	if !ok {
		return nil, nil
	}
	return []byte(value), nil
}

// PutState stores or replaces the blob for key.
func (b *FileBackend) PutState(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := map[string]json.RawMessage{}
	if err := b.load("state", &state); err != nil {
		return err
	}
	state[key] = json.RawMessage(value)
	return b.store("state", state)
}

// UsageBytes sums the container file sizes on disk.
func (b *FileBackend) UsageBytes(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, container := range []string{"documents", "receipts", "wal", "audit", "state"} {
		info, err := os.Stat(b.path(container))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
