package ops

import (
	"context"
	"fmt"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/errors"
)

// Admission thresholds, fixed across backends.
const (
	WarningThresholdPercent  = 80.0
	CriticalThresholdPercent = 95.0
)

// StorageStatus describes backend usage against its quota.
type StorageStatus struct {
	Backend      string  `json:"backend"`
	UsageBytes   int64   `json:"usage_bytes"`
	QuotaBytes   int64   `json:"quota_bytes"`
	UsagePercent float64 `json:"usage_percent"`
	IsWarning    bool    `json:"is_warning"`
	IsCritical   bool    `json:"is_critical"`
	IsHealthy    bool    `json:"is_healthy"`
}

// StorageStatus measures usage via the backend-specific strategy and
// evaluates the fixed thresholds.
func (e *Engine) StorageStatus(ctx context.Context) (*StorageStatus, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	usage, err := e.backend.UsageBytes(ctx)
	if err != nil {
		return nil, errors.Classify("storage_status", err, nil)
	}
	quota := e.backend.QuotaBytes()

	percent := 0.0
	if quota > 0 {
		percent = float64(usage) / float64(quota) * 100
	}

	status := &StorageStatus{
		Backend:      e.backend.Name(),
		UsageBytes:   usage,
		QuotaBytes:   quota,
		UsagePercent: percent,
		IsWarning:    percent >= WarningThresholdPercent,
		IsCritical:   percent >= CriticalThresholdPercent,
	}
	status.IsHealthy = !status.IsCritical
	return status, nil
}

// AdmitWrite gates a write on current usage: at or above critical it
// raises QuotaExceeded and the write must not proceed; between warning
// and critical the write is allowed and an advisory message returned.
func (e *Engine) AdmitWrite(ctx context.Context) (string, error) {
	status, err := e.StorageStatus(ctx)
	if err != nil {
		return "", err
	}
	if status.IsCritical {
		e.audit(ctx, &capture.AuditEntry{
			Operation: capture.OpQuotaWarning,
			Outcome:   "blocked",
			Context:   map[string]string{"usage_percent": fmt.Sprintf("%.1f", status.UsagePercent)},
		})
		return "", errors.NewQuotaExceeded(status.Backend, status.UsagePercent)
	}
	if status.IsWarning {
		return fmt.Sprintf("storage usage %.1f%% on backend %q is above the %.0f%% warning threshold",
			status.UsagePercent, status.Backend, WarningThresholdPercent), nil
	}
	return "", nil
}
