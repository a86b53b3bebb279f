package web

import (
	"html/template"
	"log"
	"net/http"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
	"github.com/capstore/capstore/internal/ops"
)

// Handlers holds dependencies for the dashboard's read-only pages.
type Handlers struct {
	engine   *ops.Engine
	cfg      *config.Config
	renderer *Renderer
}

// StatusPageData is the template data for the storage status page.
type StatusPageData struct {
	PageData
	Status       *ops.StorageStatus
	Degraded     bool
	SessionID    string
	Incomplete   []ops.IncompleteExtraction
	Migration    *ops.MigrationResult
	ExportStatus *ops.InterruptedExport
	Checkpoint   *ops.CheckpointStatus
	Attempts     []backend.Attempt
}

// ReceiptsPageData is the template data for the receipts list page.
type ReceiptsPageData struct {
	PageData
	Receipts   []*capture.Receipt
	DocumentID string
}

// DocumentPageData is the template data for the document detail page.
type DocumentPageData struct {
	PageData
	Document             *capture.Document
	Receipts             []*capture.Receipt
	RenderedHTML         template.HTML
	PotentiallyCorrupted bool
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// HandleStatus renders the storage status page.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.engine.StorageStatus(ctx)
	if err != nil {
		h.renderError(w, err)
		return
	}
	incomplete, err := h.engine.IncompleteExtractions(ctx)
	if err != nil {
		h.renderError(w, err)
		return
	}
	migration, err := h.engine.MigrationState(ctx)
	if err != nil {
		h.renderError(w, err)
		return
	}
	exportStatus, err := h.engine.CheckForInterruptedExport(ctx)
	if err != nil {
		h.renderError(w, err)
		return
	}
	checkpoint, err := h.engine.Checkpoint(ctx)
	if err != nil {
		h.renderError(w, err)
		return
	}

	h.renderer.Render(w, "status", StatusPageData{
		PageData:     PageData{Title: "Storage Status", Version: h.renderer.version, Nav: "status"},
		Status:       status,
		Degraded:     h.engine.DegradedMode(),
		SessionID:    h.engine.SessionID(),
		Incomplete:   incomplete,
		Migration:    migration,
		ExportStatus: exportStatus,
		Checkpoint:   checkpoint,
		Attempts:     h.engine.Attempts(),
	})
}

// HandleReceipts renders the receipts list, optionally filtered by
// document id.
func (h *Handlers) HandleReceipts(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("document_id")

	receipts, err := h.engine.GetReceipts(r.Context(), ops.ReceiptsInput{DocumentID: documentID})
	if err != nil {
		h.renderError(w, err)
		return
	}

	h.renderer.Render(w, "receipts", ReceiptsPageData{
		PageData:   PageData{Title: "Receipts", Version: h.renderer.version, Nav: "receipts"},
		Receipts:   receipts,
		DocumentID: documentID,
	})
}

// HandleDocument renders one stored document with its receipts.
func (h *Handlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	doc, err := h.engine.FetchDocument(r.Context(), id)
	if err != nil {
		h.renderError(w, err)
		return
	}
	receipts, err := h.engine.GetReceipts(r.Context(), ops.ReceiptsInput{DocumentID: id})
	if err != nil {
		h.renderError(w, err)
		return
	}

	rendered, err := RenderMarkdown(doc.Document.Content)
	if err != nil {
		log.Printf("markdown render failed for %s: %v", id, err)
		rendered = template.HTML("<pre>" + template.HTMLEscapeString(doc.Document.Content) + "</pre>")
	}

	h.renderer.Render(w, "document", DocumentPageData{
		PageData:             PageData{Title: "Document " + id, Version: h.renderer.version, Nav: "receipts"},
		Document:             doc.Document,
		Receipts:             receipts,
		RenderedHTML:         rendered,
		PotentiallyCorrupted: doc.PotentiallyCorrupted,
	})
}

// renderError maps a classified error to an HTML error page.
func (h *Handlers) renderError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal error"
	if cErr, ok := err.(*errors.Error); ok {
		statusCode = cErr.Status
		message = cErr.Message
	}
	w.WriteHeader(statusCode)
	h.renderer.Render(w, "error", ErrorPageData{
		PageData:   PageData{Title: "Error", Version: h.renderer.version},
		StatusCode: statusCode,
		Message:    message,
	})
}
