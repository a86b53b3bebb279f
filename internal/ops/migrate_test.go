package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
)

func plantSourceDocument(t *testing.T, src backend.Backend, id, content string) {
	t.Helper()
	err := src.PutDocument(context.Background(), &capture.Document{
		ID:          id,
		Content:     content,
		Fingerprint: capture.Fingerprint(content),
		Backend:     src.Name(),
		PersistedAt: capture.NowMillis(),
	})
	if err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
}

func TestMigrate_EmptySource(t *testing.T) {
	e := newTestEngine(t)
	src := backend.OpenMemory(config.DefaultConfig())

	result, err := e.Migrate(context.Background(), src)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil for empty source", result)
	}

	// Nothing persisted for a pass that never ran.
	state, err := e.MigrationState(context.Background())
	if err != nil {
		t.Fatalf("MigrationState failed: %v", err)
	}
	if state.State != MigrationNotStarted {
		t.Errorf("State = %q, want not_started", state.State)
	}
}

func TestMigrate_TransfersAndReceipts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	src := backend.OpenMemory(config.DefaultConfig())
	plantSourceDocument(t, src, "doc-1", "first")
	plantSourceDocument(t, src, "doc-2", "second")

	result, err := e.Migrate(ctx, src)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !result.Success() {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Migrated != 2 || result.Skipped != 0 {
		t.Errorf("Migrated/Skipped = %d/%d, want 2/0", result.Migrated, result.Skipped)
	}

	// Each migrated record is fetchable and receipted in the destination.
	for _, id := range []string{"doc-1", "doc-2"} {
		out, err := e.FetchDocument(ctx, id)
		if err != nil {
			t.Fatalf("FetchDocument(%s) failed: %v", id, err)
		}
		if out.PotentiallyCorrupted {
			t.Errorf("%s flagged corrupted after migration", id)
		}
		receipts, err := e.GetReceipts(ctx, ReceiptsInput{DocumentID: id})
		if err != nil {
			t.Fatalf("GetReceipts failed: %v", err)
		}
		if len(receipts) != 1 {
			t.Errorf("receipts for %s = %d, want 1", id, len(receipts))
		}
	}

	state, err := e.MigrationState(ctx)
	if err != nil {
		t.Fatalf("MigrationState failed: %v", err)
	}
	if state.State != MigrationCompleted {
		t.Errorf("persisted State = %q, want completed", state.State)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	src := backend.OpenMemory(config.DefaultConfig())
	plantSourceDocument(t, src, "doc-1", "content")

	first, err := e.Migrate(ctx, src)
	if err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}
	if first.Migrated != 1 {
		t.Fatalf("Migrated = %d, want 1", first.Migrated)
	}

	second, err := e.Migrate(ctx, src)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if second.Migrated != 0 || second.Skipped != 1 {
		t.Errorf("second pass Migrated/Skipped = %d/%d, want 0/1", second.Migrated, second.Skipped)
	}

	receipts, err := e.GetReceipts(ctx, ReceiptsInput{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("GetReceipts failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Errorf("receipts = %d, want 1 (no duplicate from re-run)", len(receipts))
	}
}

// faultyDest fails document writes for one ID, exercising per-record
// failure collection.
type faultyDest struct {
	*backend.MemoryBackend
	failID string
}

func (b *faultyDest) PutDocument(ctx context.Context, doc *capture.Document) error {
	if doc.ID == b.failID {
		return errors.New("disk full")
	}
	return b.MemoryBackend.PutDocument(ctx, doc)
}

func TestMigrate_CollectsPerRecordFailures(t *testing.T) {
	dest := &faultyDest{MemoryBackend: backend.OpenMemory(config.DefaultConfig()), failID: "doc-bad"}
	e := NewEngine(dest, config.DefaultConfig())
	ctx := context.Background()

	src := backend.OpenMemory(config.DefaultConfig())
	plantSourceDocument(t, src, "doc-bad", "will fail")
	plantSourceDocument(t, src, "doc-good", "will succeed")

	result, err := e.Migrate(ctx, src)
	if err != nil {
		t.Fatalf("Migrate failed: %v (per-record failures must not abort)", err)
	}
	if result.State != MigrationFailed {
		t.Errorf("State = %q, want failed", result.State)
	}
	if result.Migrated != 1 {
		t.Errorf("Migrated = %d, want 1 (the good record)", result.Migrated)
	}
	if len(result.Failures) != 1 || result.Failures[0].DocumentID != "doc-bad" {
		t.Errorf("Failures = %v, want [doc-bad]", result.Failures)
	}
	if result.Success() {
		t.Error("Success() = true, want false with failures")
	}

	// The good record made it regardless.
	if _, err := e.FetchDocument(ctx, "doc-good"); err != nil {
		t.Errorf("FetchDocument(doc-good) failed: %v", err)
	}
}

func TestMigrate_AuditsTrail(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	src := backend.OpenMemory(config.DefaultConfig())
	plantSourceDocument(t, src, "doc-1", "content")

	if _, err := e.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	started, err := e.GetAuditLog(ctx, AuditInput{Operation: capture.OpMigrationStarted})
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(started) != 1 {
		t.Errorf("migration_started entries = %d, want 1", len(started))
	}
	completed, err := e.GetAuditLog(ctx, AuditInput{Operation: capture.OpMigrationCompleted})
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(completed) != 1 {
		t.Errorf("migration_completed entries = %d, want 1", len(completed))
	}
}
