package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
	"github.com/capstore/capstore/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine *ops.Engine
	cfg    *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *ops.Engine, cfg *config.Config) *Handlers {
	return &Handlers{engine: engine, cfg: cfg}
}

// Request types for each tool

// SaveRequest represents the arguments for document_save.
type SaveRequest struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FetchRequest represents the arguments for document_fetch.
type FetchRequest struct {
	ID string `json:"id"`
}

// ReceiptsRequest represents the arguments for receipts_get.
type ReceiptsRequest struct {
	DocumentID string `json:"document_id,omitempty"`
}

// AuditGetRequest represents the arguments for audit_get.
type AuditGetRequest struct {
	Operation  string `json:"operation,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Start      int64  `json:"start,omitempty"`
	End        int64  `json:"end,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AuditLogRequest represents the arguments for audit_log.
type AuditLogRequest struct {
	Operation  string            `json:"operation"`
	DocumentID string            `json:"document_id,omitempty"`
	Outcome    string            `json:"outcome,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// WALRequest represents the arguments for wal_intent and wal_complete.
type WALRequest struct {
	DocumentID  string `json:"document_id"`
	Fingerprint string `json:"content_fingerprint,omitempty"`
}

// ReconstructRequest represents the arguments for queue_reconstruct.
type ReconstructRequest struct {
	Items []capture.QueueItem `json:"items"`
}

// ExportStartRequest represents the arguments for export_start.
type ExportStartRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// Handler implementations

// HandleSave handles the document_save tool call.
func (h *Handlers) HandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SaveRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := h.engine.SaveDocument(ctx, ops.SaveInput{
		ID:       input.ID,
		Content:  input.Content,
		Metadata: input.Metadata,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the document_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	result, err := h.engine.FetchDocument(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReceipts handles the receipts_get tool call.
func (h *Handlers) HandleReceipts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReceiptsRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	receipts, err := h.engine.GetReceipts(ctx, ops.ReceiptsInput{DocumentID: input.DocumentID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"receipts": receipts, "count": len(receipts)})
}

// HandleAuditGet handles the audit_get tool call.
func (h *Handlers) HandleAuditGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AuditGetRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	entries, err := h.engine.GetAuditLog(ctx, ops.AuditInput{
		Operation:  input.Operation,
		DocumentID: input.DocumentID,
		Start:      input.Start,
		End:        input.End,
		Limit:      input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"entries": entries, "count": len(entries)})
}

// HandleAuditLog handles the audit_log tool call.
func (h *Handlers) HandleAuditLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AuditLogRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	entry, err := h.engine.LogAuditEntry(ctx, ops.AuditEntryInput{
		Operation:  input.Operation,
		DocumentID: input.DocumentID,
		Outcome:    input.Outcome,
		Context:    input.Context,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(entry)
}

// HandleStatus handles the storage_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.engine.StorageStatus(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(status)
}

// HandleWALIntent handles the wal_intent tool call.
func (h *Handlers) HandleWALIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WALRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	entry, err := h.engine.LogIntent(ctx, input.DocumentID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleWALComplete handles the wal_complete tool call.
func (h *Handlers) HandleWALComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WALRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	entry, err := h.engine.LogComplete(ctx, input.DocumentID, input.Fingerprint)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleWALIncomplete handles the wal_incomplete tool call.
func (h *Handlers) HandleWALIncomplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	incomplete, err := h.engine.IncompleteExtractions(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"incomplete": incomplete, "count": len(incomplete)})
}

// HandleReconstruct handles the queue_reconstruct tool call.
func (h *Handlers) HandleReconstruct(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ReconstructRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	receipts, err := h.engine.GetReceipts(ctx, ops.ReceiptsInput{})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(ops.FullReconstruction(input.Items, receipts))
}

// HandleExportStart handles the export_start tool call.
func (h *Handlers) HandleExportStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportStartRequest](req)
	if err != nil {
		return errorResult(errors.NewValidation(err.Error())), nil
	}

	exportID, err := h.engine.StartExport(ctx, input.DocumentIDs)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"export_id": exportID})
}

// HandleExportStatus handles the export_status tool call.
func (h *Handlers) HandleExportStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.engine.CheckForInterruptedExport(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(status)
}

// HandleCheckpointRecord handles the checkpoint_record tool call.
func (h *Handlers) HandleCheckpointRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := h.engine.RecordExtraction(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(status)
}

// HandleCheckpointDismiss handles the checkpoint_dismiss tool call.
func (h *Handlers) HandleCheckpointDismiss(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.engine.DismissPrompt(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]bool{"dismissed": true})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := err.(*errors.Error); ok {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrUnknown && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "UNKNOWN",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
