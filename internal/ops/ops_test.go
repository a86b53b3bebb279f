package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
)

func TestInitialize_PrimaryHealthy(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	e, result, err := Initialize(ctx, tmpDir, config.DefaultConfig())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close()

	if result.ActiveBackend != backend.NameSQLite {
		t.Errorf("ActiveBackend = %q, want sqlite", result.ActiveBackend)
	}
	if result.Degraded || e.DegradedMode() {
		t.Error("Degraded = true, want false on healthy primary")
	}
	if result.MigrationRan {
		t.Error("MigrationRan = true, want false with an empty file store")
	}
	if len(result.Attempts) != 1 {
		t.Errorf("Attempts = %v, want single successful attempt", result.Attempts)
	}

	// Startup is audited.
	entries, err := e.GetAuditLog(ctx, AuditInput{Operation: capture.OpInitialize})
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("initialize audit entries = %d, want 1", len(entries))
	}
}

func TestInitialize_RunsMigrationFromFileStore(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()
	cfg := config.DefaultConfig()

	// Simulate a degraded earlier run that wrote to the file store.
	fileStore, err := backend.OpenFile(tmpDir, cfg)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	err = fileStore.PutDocument(ctx, &capture.Document{
		ID:          "doc-stranded",
		Content:     "written while degraded",
		Fingerprint: capture.Fingerprint("written while degraded"),
		Backend:     backend.NameFile,
		PersistedAt: capture.NowMillis(),
	})
	if err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
	fileStore.Close()

	e, result, err := Initialize(ctx, tmpDir, cfg)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close()

	if !result.MigrationRan {
		t.Fatal("MigrationRan = false, want true with stranded file-store records")
	}
	if result.Migration.Migrated != 1 {
		t.Errorf("Migrated = %d, want 1", result.Migration.Migrated)
	}

	// The stranded record is now in the primary with a receipt.
	out, err := e.FetchDocument(ctx, "doc-stranded")
	if err != nil {
		t.Fatalf("FetchDocument failed: %v", err)
	}
	if out.Document.Backend != backend.NameSQLite {
		t.Errorf("Backend = %q, want sqlite after migration", out.Document.Backend)
	}
	receipts, err := e.GetReceipts(ctx, ReceiptsInput{DocumentID: "doc-stranded"})
	if err != nil {
		t.Fatalf("GetReceipts failed: %v", err)
	}
	if len(receipts) != 1 {
		t.Errorf("receipts = %d, want 1", len(receipts))
	}
}

func TestInitialize_DegradedFallsToMemory(t *testing.T) {
	// A regular file where the base directory should be breaks both
	// durable backends; selection lands on memory.
	tmpDir := t.TempDir()
	blocked := filepath.Join(tmpDir, "occupied")
	if err := os.WriteFile(blocked, []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	e, result, err := Initialize(context.Background(), blocked, config.DefaultConfig())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Close()

	if result.ActiveBackend != backend.NameMemory {
		t.Errorf("ActiveBackend = %q, want memory", result.ActiveBackend)
	}
	if !result.Degraded || !e.DegradedMode() {
		t.Error("Degraded = false, want true on fallback")
	}
	if len(result.Attempts) != 3 {
		t.Errorf("Attempts = %v, want all three recorded", result.Attempts)
	}
	if len(e.Attempts()) != 3 {
		t.Errorf("engine Attempts = %v, want selection history retained", e.Attempts())
	}
}

func TestEngine_SessionID(t *testing.T) {
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)

	if e1.SessionID() == "" {
		t.Error("SessionID empty")
	}
	if e1.SessionID() == e2.SessionID() {
		t.Error("two engines share a session ID")
	}
}

func TestEngine_CloseRejectsFurtherOps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := e.SaveDocument(ctx, SaveInput{ID: "doc-1", Content: "x"}); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("SaveDocument after close = %v, want BACKEND_UNAVAILABLE", err)
	}
	if _, err := e.GetReceipts(ctx, ReceiptsInput{}); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("GetReceipts after close = %v, want BACKEND_UNAVAILABLE", err)
	}

	// Close is idempotent.
	if err := e.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestEngine_BackendName(t *testing.T) {
	e := newTestEngine(t)
	if e.Backend() != backend.NameMemory {
		t.Errorf("Backend() = %q, want memory", e.Backend())
	}
}
