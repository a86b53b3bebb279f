package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
)

// currentSchemaVersion is the latest SQLite schema version.
// Bump this when adding migrations.
const currentSchemaVersion = 1

// SQLiteBackend is the primary structured durable store.
type SQLiteBackend struct {
	db    *sql.DB
	path  string
	quota int64
}

// OpenSQLite initializes the SQLite database at baseDir/capstore.db.
// The baseDir parameter allows tests to use t.TempDir() instead of
// ~/.capstore.
func OpenSQLite(baseDir string, cfg *config.Config) (*SQLiteBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	dbPath := filepath.Join(baseDir, "capstore.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}

	return &SQLiteBackend{db: db, path: dbPath, quota: cfg.SQLiteQuotaBytes}, nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// migrateSchema applies schema migrations based on user_version.
func migrateSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("failed to get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS documents (
		  id            TEXT PRIMARY KEY,
		  content       TEXT NOT NULL,
		  fingerprint   TEXT NOT NULL,
		  backend       TEXT NOT NULL,
		  persisted_at  INTEGER NOT NULL,
		  verified      INTEGER NOT NULL DEFAULT 0,
		  metadata_json TEXT
		);

		CREATE TABLE IF NOT EXISTS receipts (
		  receipt_id     TEXT PRIMARY KEY,
		  document_id    TEXT NOT NULL,
		  fingerprint    TEXT NOT NULL,
		  backend        TEXT NOT NULL,
		  persisted_at   INTEGER NOT NULL,
		  schema_version INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_receipts_document
		ON receipts(document_id);

		CREATE TABLE IF NOT EXISTS wal_entries (
		  entry_id    TEXT PRIMARY KEY,
		  document_id TEXT NOT NULL,
		  entry_type  TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  fingerprint TEXT,
		  session_id  TEXT NOT NULL,
		  pruned      INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_wal_document
		ON wal_entries(document_id, entry_type);

		CREATE TABLE IF NOT EXISTS audit_log (
		  log_id       INTEGER PRIMARY KEY AUTOINCREMENT,
		  created_at   INTEGER NOT NULL,
		  operation    TEXT NOT NULL,
		  document_id  TEXT,
		  outcome      TEXT,
		  fingerprint  TEXT,
		  backend      TEXT,
		  context_json TEXT
		);

		CREATE TABLE IF NOT EXISTS engine_state (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", 1)); err != nil {
			return fmt.Errorf("failed to set user_version: %w", err)
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return NameSQLite }

// QuotaBytes implements Backend.
func (b *SQLiteBackend) QuotaBytes() int64 { return b.quota }

// Close implements Backend.
func (b *SQLiteBackend) Close() error { return b.db.Close() }

// PutDocument inserts or overwrites a document record in place.
func (b *SQLiteBackend) PutDocument(ctx context.Context, doc *capture.Document) error {
	return putDocumentTx(ctx, b.db, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putDocumentTx(ctx context.Context, e execer, doc *capture.Document) error {
	var metadataJSON sql.NullString
	if len(doc.Metadata) > 0 {
		data, err := json.Marshal(doc.Metadata)
		if err != nil {
			return err
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO documents (id, content, fingerprint, backend, persisted_at, verified, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			fingerprint = excluded.fingerprint,
			backend = excluded.backend,
			persisted_at = excluded.persisted_at,
			verified = excluded.verified,
			metadata_json = excluded.metadata_json
	`
	_, err := e.ExecContext(ctx, query,
		doc.ID, doc.Content, doc.Fingerprint, doc.Backend,
		doc.PersistedAt, boolToInt(doc.Verified), metadataJSON,
	)
	return err
}

func appendReceiptTx(ctx context.Context, e execer, rcpt *capture.Receipt) error {
	query := `
		INSERT INTO receipts (receipt_id, document_id, fingerprint, backend, persisted_at, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := e.ExecContext(ctx, query,
		rcpt.ReceiptID, rcpt.DocumentID, rcpt.Fingerprint,
		rcpt.Backend, rcpt.PersistedAt, rcpt.SchemaVersion,
	)
	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicateReceipt
	}
	return err
}

// SaveWithReceipt writes the document and its receipt in one transaction.
func (b *SQLiteBackend) SaveWithReceipt(ctx context.Context, doc *capture.Document, rcpt *capture.Receipt) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := putDocumentTx(ctx, tx, doc); err != nil {
		tx.Rollback()
		return err
	}
	if err := appendReceiptTx(ctx, tx, rcpt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetDocument retrieves a document by ID, or ErrNotFound.
func (b *SQLiteBackend) GetDocument(ctx context.Context, id string) (*capture.Document, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, content, fingerprint, backend, persisted_at, verified, metadata_json
		FROM documents WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

// AllDocuments returns every document, oldest persisted first.
func (b *SQLiteBackend) AllDocuments(ctx context.Context) ([]*capture.Document, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, content, fingerprint, backend, persisted_at, verified, metadata_json
		FROM documents ORDER BY persisted_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*capture.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// AppendReceipt inserts a receipt. Duplicate receipt IDs fail with
// ErrDuplicateReceipt via the primary key, never overwrite.
func (b *SQLiteBackend) AppendReceipt(ctx context.Context, rcpt *capture.Receipt) error {
	return appendReceiptTx(ctx, b.db, rcpt)
}

// GetReceipt retrieves a receipt by its ID, or ErrNotFound.
func (b *SQLiteBackend) GetReceipt(ctx context.Context, receiptID string) (*capture.Receipt, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT receipt_id, document_id, fingerprint, backend, persisted_at, schema_version
		FROM receipts WHERE receipt_id = ?
	`, receiptID)
	var r capture.Receipt
	err := row.Scan(&r.ReceiptID, &r.DocumentID, &r.Fingerprint, &r.Backend, &r.PersistedAt, &r.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Receipts returns receipts oldest-first, optionally filtered by document.
func (b *SQLiteBackend) Receipts(ctx context.Context, f ReceiptFilter) ([]*capture.Receipt, error) {
	query := `
		SELECT receipt_id, document_id, fingerprint, backend, persisted_at, schema_version
		FROM receipts
	`
	var args []any
	if f.DocumentID != "" {
		query += " WHERE document_id = ?"
		args = append(args, f.DocumentID)
	}
	query += " ORDER BY persisted_at ASC, receipt_id ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []*capture.Receipt
	for rows.Next() {
		var r capture.Receipt
		if err := rows.Scan(&r.ReceiptID, &r.DocumentID, &r.Fingerprint, &r.Backend, &r.PersistedAt, &r.SchemaVersion); err != nil {
			return nil, err
		}
		receipts = append(receipts, &r)
	}
	return receipts, rows.Err()
}

// AppendWAL inserts a WAL entry.
func (b *SQLiteBackend) AppendWAL(ctx context.Context, entry *capture.WALEntry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO wal_entries (entry_id, document_id, entry_type, created_at, fingerprint, session_id, pruned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.EntryID, entry.DocumentID, entry.Type, entry.Timestamp,
		toNullString(entry.Fingerprint), entry.SessionID, boolToInt(entry.Pruned))
	return err
}

// WALEntries returns WAL entries oldest-first.
func (b *SQLiteBackend) WALEntries(ctx context.Context, f WALFilter) ([]*capture.WALEntry, error) {
	query := `
		SELECT entry_id, document_id, entry_type, created_at, fingerprint, session_id, pruned
		FROM wal_entries
	`
	var conds []string
	var args []any
	if !f.IncludePruned {
		conds = append(conds, "pruned = 0")
	}
	if f.DocumentID != "" {
		conds = append(conds, "document_id = ?")
		args = append(args, f.DocumentID)
	}
	if f.Type != "" {
		conds = append(conds, "entry_type = ?")
		args = append(args, f.Type)
	}
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, entry_id ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*capture.WALEntry
	for rows.Next() {
		var (
			e           capture.WALEntry
			fingerprint sql.NullString
			pruned      int
		)
		if err := rows.Scan(&e.EntryID, &e.DocumentID, &e.Type, &e.Timestamp, &fingerprint, &e.SessionID, &pruned); err != nil {
			return nil, err
		}
		e.Fingerprint = fingerprint.String
		e.Pruned = pruned != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MarkWALPruned sets the pruned flag on the given entries. The flag is
// the only WAL field ever mutated.
func (b *SQLiteBackend) MarkWALPruned(ctx context.Context, entryIDs []string) error {
	if len(entryIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(entryIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(entryIDs))
	for i, id := range entryIDs {
		args[i] = id
	}
	_, err := b.db.ExecContext(ctx,
		"UPDATE wal_entries SET pruned = 1 WHERE entry_id IN ("+placeholders+")", args...)
	return err
}

// AppendAudit inserts an audit entry and returns the assigned log_id.
func (b *SQLiteBackend) AppendAudit(ctx context.Context, entry *capture.AuditEntry) (int64, error) {
	var contextJSON sql.NullString
	if len(entry.Context) > 0 {
		data, err := json.Marshal(entry.Context)
		if err != nil {
			return 0, err
		}
		contextJSON = sql.NullString{String: string(data), Valid: true}
	}

	result, err := b.db.ExecContext(ctx, `
		INSERT INTO audit_log (created_at, operation, document_id, outcome, fingerprint, backend, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.Timestamp, entry.Operation, toNullString(entry.DocumentID),
		toNullString(entry.Outcome), toNullString(entry.Fingerprint),
		toNullString(entry.Backend), contextJSON)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// AuditEntries returns audit entries oldest-first.
func (b *SQLiteBackend) AuditEntries(ctx context.Context, f AuditFilter) ([]*capture.AuditEntry, error) {
	query := `
		SELECT log_id, created_at, operation, document_id, outcome, fingerprint, backend, context_json
		FROM audit_log
	`
	var conds []string
	var args []any
	if f.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.DocumentID != "" {
		conds = append(conds, "document_id = ?")
		args = append(args, f.DocumentID)
	}
	if f.Start != 0 {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Start)
	}
	if f.End != 0 {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.End)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY log_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*capture.AuditEntry
	for rows.Next() {
		var (
			e           capture.AuditEntry
			documentID  sql.NullString
			outcome     sql.NullString
			fingerprint sql.NullString
			backendName sql.NullString
			contextJSON sql.NullString
		)
		if err := rows.Scan(&e.LogID, &e.Timestamp, &e.Operation, &documentID, &outcome, &fingerprint, &backendName, &contextJSON); err != nil {
			return nil, err
		}
		e.DocumentID = documentID.String
		e.Outcome = outcome.String
		e.Fingerprint = fingerprint.String
		e.Backend = backendName.String
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
				return nil, err
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// GetState returns the stored blob for key, or nil when absent.
func (b *SQLiteBackend) GetState(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := b.db.QueryRowContext(ctx, "SELECT value FROM engine_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// PutState stores or replaces the blob for key.
func (b *SQLiteBackend) PutState(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), capture.NowMillis())
	return err
}

// UsageBytes reports page_count * page_size, the database's
// backend-reported bytes in use.
func (b *SQLiteBackend) UsageBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := b.db.QueryRowContext(ctx, "PRAGMA page_count;").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := b.db.QueryRowContext(ctx, "PRAGMA page_size;").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*capture.Document, error) {
	var (
		doc          capture.Document
		verified     int
		metadataJSON sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Content, &doc.Fingerprint, &doc.Backend, &doc.PersistedAt, &verified, &metadataJSON)
	if err != nil {
		return nil, err
	}
	doc.Verified = verified != 0
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// isUniqueConstraintError checks for a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
