package ops

import (
	"context"
	"testing"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
)

// newWALFixture returns an engine plus its raw backend, for planting
// WAL entries with explicit timestamps.
func newWALFixture(t *testing.T) (*Engine, *backend.MemoryBackend) {
	t.Helper()
	mem := backend.OpenMemory(config.DefaultConfig())
	return NewEngine(mem, config.DefaultConfig()), mem
}

func plantWAL(t *testing.T, b *backend.MemoryBackend, entryID, documentID, entryType string, ts int64) {
	t.Helper()
	err := b.AppendWAL(context.Background(), &capture.WALEntry{
		EntryID:    entryID,
		DocumentID: documentID,
		Type:       entryType,
		Timestamp:  ts,
		SessionID:  "fixture",
	})
	if err != nil {
		t.Fatalf("AppendWAL failed: %v", err)
	}
}

func TestLogIntent(t *testing.T) {
	e, _ := newWALFixture(t)

	entry, err := e.LogIntent(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("LogIntent failed: %v", err)
	}
	if entry.Type != capture.WALIntent {
		t.Errorf("Type = %q, want intent", entry.Type)
	}
	if entry.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", entry.DocumentID)
	}
	if entry.SessionID != e.SessionID() {
		t.Errorf("SessionID = %q, want engine session %q", entry.SessionID, e.SessionID())
	}
}

func TestLogComplete_WithoutPriorIntent(t *testing.T) {
	e, _ := newWALFixture(t)

	// Accepted without error; the WAL is an evidence log, not a state
	// machine.
	entry, err := e.LogComplete(context.Background(), "doc-1", "fp")
	if err != nil {
		t.Fatalf("LogComplete without intent = %v, want accepted", err)
	}
	if entry.Fingerprint != "fp" {
		t.Errorf("Fingerprint = %q, want fp", entry.Fingerprint)
	}
}

func TestAppendWAL_EmptyID(t *testing.T) {
	e, _ := newWALFixture(t)

	if _, err := e.LogIntent(context.Background(), "  "); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("LogIntent(blank) = %v, want VALIDATION", err)
	}
}

func TestIncompleteExtractions_IntentWithoutComplete(t *testing.T) {
	e, b := newWALFixture(t)
	ctx := context.Background()

	plantWAL(t, b, "w-1", "doc-a", capture.WALIntent, 100)
	plantWAL(t, b, "w-2", "doc-b", capture.WALIntent, 200)
	plantWAL(t, b, "w-3", "doc-b", capture.WALComplete, 300)

	incomplete, err := e.IncompleteExtractions(ctx)
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 1 {
		t.Fatalf("len(incomplete) = %d, want 1", len(incomplete))
	}
	if incomplete[0].DocumentID != "doc-a" || incomplete[0].Timestamp != 100 {
		t.Errorf("incomplete = %+v, want doc-a@100", incomplete[0])
	}
}

func TestIncompleteExtractions_ReintentAfterComplete(t *testing.T) {
	e, b := newWALFixture(t)

	// Completed once, then claimed again and interrupted.
	plantWAL(t, b, "w-1", "doc-a", capture.WALIntent, 100)
	plantWAL(t, b, "w-2", "doc-a", capture.WALComplete, 200)
	plantWAL(t, b, "w-3", "doc-a", capture.WALIntent, 300)

	incomplete, err := e.IncompleteExtractions(context.Background())
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].Timestamp != 300 {
		t.Errorf("incomplete = %v, want the later intent at 300", incomplete)
	}
}

func TestIncompleteExtractions_OldestFirst(t *testing.T) {
	e, b := newWALFixture(t)

	plantWAL(t, b, "w-1", "doc-late", capture.WALIntent, 500)
	plantWAL(t, b, "w-2", "doc-early", capture.WALIntent, 100)

	incomplete, err := e.IncompleteExtractions(context.Background())
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 2 {
		t.Fatalf("len(incomplete) = %d, want 2", len(incomplete))
	}
	if incomplete[0].DocumentID != "doc-early" {
		t.Errorf("order = [%s, %s], want oldest intent first", incomplete[0].DocumentID, incomplete[1].DocumentID)
	}
}

func TestIncompleteExtractions_Empty(t *testing.T) {
	e, _ := newWALFixture(t)

	incomplete, err := e.IncompleteExtractions(context.Background())
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 0 {
		t.Errorf("len(incomplete) = %d, want 0 on empty WAL", len(incomplete))
	}
}

func TestPruneWAL_MarksMatchedPairs(t *testing.T) {
	e, b := newWALFixture(t)
	ctx := context.Background()

	plantWAL(t, b, "w-1", "doc-done", capture.WALIntent, 100)
	plantWAL(t, b, "w-2", "doc-done", capture.WALComplete, 200)
	plantWAL(t, b, "w-3", "doc-open", capture.WALIntent, 300)

	out, err := e.PruneWAL(ctx)
	if err != nil {
		t.Fatalf("PruneWAL failed: %v", err)
	}
	if out.Pruned != 2 {
		t.Errorf("Pruned = %d, want 2 (matched pair only)", out.Pruned)
	}

	// Pruned entries are flagged, not deleted.
	all, err := b.WALEntries(ctx, backend.WALFilter{IncludePruned: true})
	if err != nil {
		t.Fatalf("WALEntries failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3 (no deletion)", len(all))
	}

	// A later scan only sees the open intent.
	incomplete, err := e.IncompleteExtractions(ctx)
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].DocumentID != "doc-open" {
		t.Errorf("incomplete = %v, want [doc-open]", incomplete)
	}
}

func TestPruneWAL_KeepsIntentAfterLatestComplete(t *testing.T) {
	e, b := newWALFixture(t)

	plantWAL(t, b, "w-1", "doc-a", capture.WALIntent, 100)
	plantWAL(t, b, "w-2", "doc-a", capture.WALComplete, 200)
	plantWAL(t, b, "w-3", "doc-a", capture.WALIntent, 300)

	out, err := e.PruneWAL(context.Background())
	if err != nil {
		t.Fatalf("PruneWAL failed: %v", err)
	}
	if out.Pruned != 2 {
		t.Errorf("Pruned = %d, want 2 (the open re-intent survives)", out.Pruned)
	}

	incomplete, err := e.IncompleteExtractions(context.Background())
	if err != nil {
		t.Fatalf("IncompleteExtractions failed: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].Timestamp != 300 {
		t.Errorf("incomplete = %v, want the surviving intent at 300", incomplete)
	}
}

func TestPruneWAL_NothingToPrune(t *testing.T) {
	e, b := newWALFixture(t)

	plantWAL(t, b, "w-1", "doc-open", capture.WALIntent, 100)

	out, err := e.PruneWAL(context.Background())
	if err != nil {
		t.Fatalf("PruneWAL failed: %v", err)
	}
	if out.Pruned != 0 {
		t.Errorf("Pruned = %d, want 0", out.Pruned)
	}

	// No audit entry for a no-op prune.
	entries, err := e.GetAuditLog(context.Background(), AuditInput{Operation: capture.OpWALPruned})
	if err != nil {
		t.Fatalf("GetAuditLog failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("audit entries = %v, want none for no-op prune", entries)
	}
}
