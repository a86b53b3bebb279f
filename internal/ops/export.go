package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// Rate limit bounds for batch export, in milliseconds.
const (
	MinRateLimitMS     = 100
	MaxRateLimitMS     = 5000
	DefaultRateLimitMS = 500
)

// Export statuses.
const (
	ExportInProgress = "in_progress"
	ExportPaused     = "paused"
	ExportCompleted  = "completed"
	ExportCancelled  = "cancelled"
)

const exportStateKey = "export_progress"

// exportProgress is the persisted per-batch export position.
type exportProgress struct {
	ExportID    string   `json:"export_id"`
	DocumentIDs []string `json:"document_ids"`
	Exported    []string `json:"exported"`
	Failed      []string `json:"failed"`
	Status      string   `json:"status"`
}

func (p *exportProgress) remaining() []string {
	done := make(map[string]bool, len(p.Exported)+len(p.Failed))
	for _, id := range p.Exported {
		done[id] = true
	}
	for _, id := range p.Failed {
		done[id] = true
	}
	var out []string
	for _, id := range p.DocumentIDs {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) loadExport(ctx context.Context) (*exportProgress, error) {
	data, err := e.backend.GetState(ctx, exportStateKey)
	if err != nil {
		return nil, errors.Classify("export_progress", err, nil)
	}
	if data == nil {
		return nil, nil
	}
	p := &exportProgress{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Classify("export_progress", err, nil)
	}
	return p, nil
}

func (e *Engine) saveExport(ctx context.Context, p *exportProgress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Classify("export_progress", err, nil)
	}
	if err := e.backend.PutState(ctx, exportStateKey, data); err != nil {
		return errors.Classify("export_progress", err, nil)
	}
	return nil
}

// StartExport begins a resumable batch export over the given document
// IDs and returns the export identifier. An export already in
// progress must be resumed or cancelled first.
func (e *Engine) StartExport(ctx context.Context, documentIDs []string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if len(documentIDs) == 0 {
		return "", errors.NewValidation("export requires at least one document id")
	}
	existing, err := e.loadExport(ctx)
	if err != nil {
		return "", err
	}
	if existing != nil && (existing.Status == ExportInProgress || existing.Status == ExportPaused) {
		return "", errors.NewValidation(fmt.Sprintf("export %s is still %s; resume or cancel it first", existing.ExportID, existing.Status))
	}

	exportID, err := capture.NewID()
	if err != nil {
		return "", errors.Classify("start_export", err, nil)
	}
	p := &exportProgress{
		ExportID:    exportID,
		DocumentIDs: documentIDs,
		Status:      ExportInProgress,
	}
	if err := e.saveExport(ctx, p); err != nil {
		return "", err
	}
	e.audit(ctx, &capture.AuditEntry{
		Operation: capture.OpExportStarted,
		Outcome:   "ok",
		Context:   map[string]string{"export_id": exportID, "total": fmt.Sprint(len(documentIDs))},
	})
	return exportID, nil
}

// RecordExported marks one document of the current batch exported.
func (e *Engine) RecordExported(ctx context.Context, documentID string) error {
	return e.recordExportOutcome(ctx, documentID, true)
}

// RecordFailed marks one document of the current batch failed; the
// batch continues.
func (e *Engine) RecordFailed(ctx context.Context, documentID string) error {
	return e.recordExportOutcome(ctx, documentID, false)
}

func (e *Engine) recordExportOutcome(ctx context.Context, documentID string, exported bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	p, err := e.loadExport(ctx)
	if err != nil {
		return err
	}
	if p == nil || p.Status != ExportInProgress {
		return errors.NewValidation("no export in progress")
	}
	if exported {
		p.Exported = append(p.Exported, documentID)
	} else {
		p.Failed = append(p.Failed, documentID)
	}
	if len(p.remaining()) == 0 {
		p.Status = ExportCompleted
		// A finished batch resets the since-last-export checkpoint.
		if err := e.saveCheckpoint(ctx, &exportCheckpoint{}); err != nil {
			return err
		}
		e.audit(ctx, &capture.AuditEntry{
			Operation: capture.OpExportCompleted,
			Outcome:   "ok",
			Context: map[string]string{
				"export_id": p.ExportID,
				"exported":  fmt.Sprint(len(p.Exported)),
				"failed":    fmt.Sprint(len(p.Failed)),
			},
		})
	}
	return e.saveExport(ctx, p)
}

// InterruptedExport describes a resumable batch found at startup.
type InterruptedExport struct {
	CanResume bool     `json:"can_resume"`
	ExportID  string   `json:"export_id,omitempty"`
	Remaining []string `json:"remaining,omitempty"`
}

// CheckForInterruptedExport reports whether a previous run left a
// batch export unfinished and which documents remain.
func (e *Engine) CheckForInterruptedExport(ctx context.Context) (*InterruptedExport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	p, err := e.loadExport(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil || (p.Status != ExportInProgress && p.Status != ExportPaused) {
		return &InterruptedExport{}, nil
	}
	return &InterruptedExport{
		CanResume: true,
		ExportID:  p.ExportID,
		Remaining: p.remaining(),
	}, nil
}

// ResumeExport moves a paused or interrupted export back to in
// progress and returns the remaining document IDs.
func (e *Engine) ResumeExport(ctx context.Context) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	p, err := e.loadExport(ctx)
	if err != nil {
		return nil, err
	}
	if p == nil || (p.Status != ExportPaused && p.Status != ExportInProgress) {
		return nil, errors.NewValidation("no export to resume")
	}
	p.Status = ExportInProgress
	if err := e.saveExport(ctx, p); err != nil {
		return nil, err
	}
	return p.remaining(), nil
}

// PauseExport pauses the current export; progress is kept.
func (e *Engine) PauseExport(ctx context.Context) error {
	return e.setExportStatus(ctx, ExportInProgress, ExportPaused, "")
}

// CancelExport abandons the current export; progress is kept for
// inspection but the batch cannot be resumed.
func (e *Engine) CancelExport(ctx context.Context) error {
	return e.setExportStatus(ctx, "", ExportCancelled, capture.OpExportCancelled)
}

func (e *Engine) setExportStatus(ctx context.Context, requireStatus, newStatus, auditOp string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	p, err := e.loadExport(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.NewValidation("no export in progress")
	}
	if requireStatus != "" && p.Status != requireStatus {
		return errors.NewValidation(fmt.Sprintf("export %s is %s, not %s", p.ExportID, p.Status, requireStatus))
	}
	if newStatus == ExportCancelled && (p.Status == ExportCompleted || p.Status == ExportCancelled) {
		return errors.NewValidation(fmt.Sprintf("export %s is already %s", p.ExportID, p.Status))
	}
	p.Status = newStatus
	if err := e.saveExport(ctx, p); err != nil {
		return err
	}
	if auditOp != "" {
		e.audit(ctx, &capture.AuditEntry{
			Operation: auditOp,
			Outcome:   "ok",
			Context:   map[string]string{"export_id": p.ExportID},
		})
	}
	return nil
}

// SetRateLimit sets the delay between exported items, clamped to
// [MinRateLimitMS, MaxRateLimitMS]. Returns the effective value.
func (e *Engine) SetRateLimit(ms int) int {
	if ms < MinRateLimitMS {
		ms = MinRateLimitMS
	}
	if ms > MaxRateLimitMS {
		ms = MaxRateLimitMS
	}
	e.rateLimitMS = ms
	return ms
}

// RateLimit returns the current delay between exported items.
func (e *Engine) RateLimit() int {
	return e.rateLimitMS
}
