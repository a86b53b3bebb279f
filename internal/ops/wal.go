package ops

import (
	"context"
	"sort"
	"strconv"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// LogIntent writes an intent WAL entry before extraction begins.
func (e *Engine) LogIntent(ctx context.Context, documentID string) (*capture.WALEntry, error) {
	return e.appendWAL(ctx, documentID, capture.WALIntent, "")
}

// LogComplete writes a complete WAL entry after a successful atomic
// save. A complete with no prior intent is accepted without error.
func (e *Engine) LogComplete(ctx context.Context, documentID, fingerprint string) (*capture.WALEntry, error) {
	return e.appendWAL(ctx, documentID, capture.WALComplete, fingerprint)
}

func (e *Engine) appendWAL(ctx context.Context, documentID, entryType, fingerprint string) (*capture.WALEntry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := capture.ValidateDocumentID(documentID); err != nil {
		return nil, err
	}
	documentID = capture.NormalizeID(documentID)

	entryID, err := capture.NewID()
	if err != nil {
		return nil, errors.Classify("wal_append", err, map[string]any{"document_id": documentID})
	}
	entry := &capture.WALEntry{
		EntryID:     entryID,
		DocumentID:  documentID,
		Type:        entryType,
		Timestamp:   capture.NowMillis(),
		Fingerprint: fingerprint,
		SessionID:   e.sessionID,
	}
	if err := e.backend.AppendWAL(ctx, entry); err != nil {
		return nil, errors.Classify("wal_append", err, map[string]any{"document_id": documentID})
	}

	op := capture.OpWALIntent
	if entryType == capture.WALComplete {
		op = capture.OpWALComplete
	}
	e.audit(ctx, &capture.AuditEntry{
		Operation:   op,
		DocumentID:  documentID,
		Outcome:     "ok",
		Fingerprint: fingerprint,
	})

	return entry, nil
}

// IncompleteExtraction identifies work that was claimed but never
// confirmed durable: the crash-recovery surface.
type IncompleteExtraction struct {
	DocumentID string `json:"document_id"`
	Timestamp  int64  `json:"timestamp"`
}

// IncompleteExtractions computes, over all non-pruned entries, the
// documents with an intent but no later complete, sorted oldest-first.
// On restart these must be retried from scratch; the protocol does not
// resume a single document's extraction partway.
func (e *Engine) IncompleteExtractions(ctx context.Context) ([]IncompleteExtraction, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := e.backend.WALEntries(ctx, backend.WALFilter{})
	if err != nil {
		return nil, errors.Classify("wal_incomplete", err, nil)
	}

	// Entries arrive oldest-first; track the latest intent and complete
	// times per document.
	type walTimes struct {
		intentAt   int64
		completeAt int64
	}
	times := make(map[string]*walTimes)
	order := make([]string, 0)
	for _, entry := range entries {
		t, ok := times[entry.DocumentID]
		if !ok {
			t = &walTimes{}
			times[entry.DocumentID] = t
			order = append(order, entry.DocumentID)
		}
		switch entry.Type {
		case capture.WALIntent:
			if entry.Timestamp > t.intentAt {
				t.intentAt = entry.Timestamp
			}
		case capture.WALComplete:
			if entry.Timestamp > t.completeAt {
				t.completeAt = entry.Timestamp
			}
		}
	}

	var incomplete []IncompleteExtraction
	for _, id := range order {
		t := times[id]
		if t.intentAt > 0 && t.completeAt < t.intentAt {
			incomplete = append(incomplete, IncompleteExtraction{
				DocumentID: id,
				Timestamp:  t.intentAt,
			})
		}
	}
	sort.SliceStable(incomplete, func(i, j int) bool {
		return incomplete[i].Timestamp < incomplete[j].Timestamp
	})
	return incomplete, nil
}

// PruneWALOutput reports how many entries a prune pass marked.
type PruneWALOutput struct {
	Pruned int `json:"pruned"`
}

// PruneWAL marks matched intent/complete pairs pruned so later
// incomplete-extraction scans skip them. Entries are never deleted;
// the pruned flag is the only mutation the WAL permits.
func (e *Engine) PruneWAL(ctx context.Context) (*PruneWALOutput, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := e.backend.WALEntries(ctx, backend.WALFilter{})
	if err != nil {
		return nil, errors.Classify("wal_prune", err, nil)
	}

	completeAt := make(map[string]int64)
	for _, entry := range entries {
		if entry.Type == capture.WALComplete && entry.Timestamp > completeAt[entry.DocumentID] {
			completeAt[entry.DocumentID] = entry.Timestamp
		}
	}

	var prunable []string
	for _, entry := range entries {
		latest, ok := completeAt[entry.DocumentID]
		if !ok {
			continue
		}
		if entry.Type == capture.WALComplete || entry.Timestamp <= latest {
			prunable = append(prunable, entry.EntryID)
		}
	}
	if err := e.backend.MarkWALPruned(ctx, prunable); err != nil {
		return nil, errors.Classify("wal_prune", err, nil)
	}

	if len(prunable) > 0 {
		e.audit(ctx, &capture.AuditEntry{
			Operation: capture.OpWALPruned,
			Outcome:   "ok",
			Context:   map[string]string{"count": strconv.Itoa(len(prunable))},
		})
	}
	return &PruneWALOutput{Pruned: len(prunable)}, nil
}
