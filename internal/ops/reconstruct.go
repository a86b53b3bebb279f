package ops

import (
	"github.com/capstore/capstore/internal/capture"
)

// Discrepancy tags and resolutions.
const (
	IssueMarkedCompleteNoReceipt = "marked_complete_no_receipt"
	ResolutionResetToPending     = "reset_to_pending"
)

// Discrepancy is a queue item claiming completion without
// corroborating receipt evidence.
type Discrepancy struct {
	DocumentID string `json:"document_id"`
	Issue      string `json:"issue"`
	Resolution string `json:"resolution"`
}

// ReconstructionResult is the authoritative pending/completed view
// derived from receipts.
type ReconstructionResult struct {
	Pending       []capture.QueueItem `json:"pending"`
	Completed     []string            `json:"completed"`
	Discrepancies []Discrepancy       `json:"discrepancies"`
}

// Reconstruct derives queue state from the receipt log. Receipts are
// the ground truth: an item whose status claims completion without a
// receipt is a discrepancy and is treated as pending. Pure and
// deterministic, so it can run at process start and opportunistically
// thereafter.
func Reconstruct(items []capture.QueueItem, receipts []*capture.Receipt) *ReconstructionResult {
	receipted := make(map[string]bool, len(receipts))
	completed := make([]string, 0, len(receipts))
	for _, r := range receipts {
		if !receipted[r.DocumentID] {
			receipted[r.DocumentID] = true
			completed = append(completed, r.DocumentID)
		}
	}

	result := &ReconstructionResult{
		Pending:       make([]capture.QueueItem, 0, len(items)),
		Completed:     completed,
		Discrepancies: make([]Discrepancy, 0),
	}
	for _, item := range items {
		if receipted[item.DocumentID] {
			continue
		}
		if item.Status == capture.StatusCompleted {
			result.Discrepancies = append(result.Discrepancies, Discrepancy{
				DocumentID: item.DocumentID,
				Issue:      IssueMarkedCompleteNoReceipt,
				Resolution: ResolutionResetToPending,
			})
		}
		pending := item
		pending.Status = capture.StatusPending
		result.Pending = append(result.Pending, pending)
	}
	return result
}

// ResetProcessingStatus converts every processing item to pending.
// "In progress" cannot be proven complete, so it is never trusted
// across a restart. Returns the new slice and the reset count.
func ResetProcessingStatus(items []capture.QueueItem) ([]capture.QueueItem, int) {
	out := make([]capture.QueueItem, len(items))
	reset := 0
	for i, item := range items {
		if item.Status == capture.StatusProcessing {
			item.Status = capture.StatusPending
			reset++
		}
		out[i] = item
	}
	return out, reset
}

// FullReconstructionResult adds combined observability counts to a
// reconstruction.
type FullReconstructionResult struct {
	ReconstructionResult
	ResetCount       int `json:"reset_count"`
	DiscrepancyCount int `json:"discrepancy_count"`
}

// FullReconstruction composes the processing-status reset pass with
// the receipt-driven reconstruction pass.
func FullReconstruction(items []capture.QueueItem, receipts []*capture.Receipt) *FullReconstructionResult {
	reset, resetCount := ResetProcessingStatus(items)
	result := Reconstruct(reset, receipts)
	return &FullReconstructionResult{
		ReconstructionResult: *result,
		ResetCount:           resetCount,
		DiscrepancyCount:     len(result.Discrepancies),
	}
}
