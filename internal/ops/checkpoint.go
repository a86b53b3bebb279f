package ops

import (
	"context"
	"encoding/json"

	"github.com/capstore/capstore/internal/errors"
)

const checkpointStateKey = "export_checkpoint"

// exportCheckpoint is the persisted "acts since last export" counter
// driving the shell's export prompt.
type exportCheckpoint struct {
	Count     int  `json:"count"`
	Dismissed bool `json:"dismissed"`
}

// CheckpointStatus reports the prompt decision for the shell.
type CheckpointStatus struct {
	Count        int  `json:"count"`
	Threshold    int  `json:"threshold"`
	ShouldPrompt bool `json:"should_prompt"`
}

func (e *Engine) loadCheckpoint(ctx context.Context) (*exportCheckpoint, error) {
	data, err := e.backend.GetState(ctx, checkpointStateKey)
	if err != nil {
		return nil, errors.Classify("export_checkpoint", err, nil)
	}
	cp := &exportCheckpoint{}
	if data != nil {
		if err := json.Unmarshal(data, cp); err != nil {
			return nil, errors.Classify("export_checkpoint", err, nil)
		}
	}
	return cp, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, cp *exportCheckpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Classify("export_checkpoint", err, nil)
	}
	if err := e.backend.PutState(ctx, checkpointStateKey, data); err != nil {
		return errors.Classify("export_checkpoint", err, nil)
	}
	return nil
}

func (e *Engine) checkpointStatus(cp *exportCheckpoint) *CheckpointStatus {
	threshold := e.cfg.ExportPromptThreshold
	return &CheckpointStatus{
		Count:        cp.Count,
		Threshold:    threshold,
		ShouldPrompt: !cp.Dismissed && cp.Count >= threshold,
	}
}

// Checkpoint reports the current export-prompt state without
// modifying it.
func (e *Engine) Checkpoint(ctx context.Context) (*CheckpointStatus, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	cp, err := e.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	return e.checkpointStatus(cp), nil
}

// RecordExtraction increments the since-last-export counter and
// reports whether the shell should prompt the user to export.
func (e *Engine) RecordExtraction(ctx context.Context) (*CheckpointStatus, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	cp, err := e.loadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	cp.Count++
	if err := e.saveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return e.checkpointStatus(cp), nil
}

// DismissPrompt suppresses the export prompt until the next export
// resets the checkpoint.
func (e *Engine) DismissPrompt(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	cp, err := e.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	cp.Dismissed = true
	return e.saveCheckpoint(ctx, cp)
}

// RecordExport resets the checkpoint after a completed export.
func (e *Engine) RecordExport(ctx context.Context) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return e.saveCheckpoint(ctx, &exportCheckpoint{})
}
