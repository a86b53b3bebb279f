package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions. Names follow the pattern "subject_action".

var saveToolDef = mcp.NewTool("document_save",
	mcp.WithDescription("Durably save a captured document. Returns the receipt proving persistence; the document may only be marked done after receiving it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Unique document identifier")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Raw document content")),
	mcp.WithObject("metadata", mcp.Description("Free-form string metadata")),
)

var fetchToolDef = mcp.NewTool("document_fetch",
	mcp.WithDescription("Fetch a stored document by id. The result flags potentially_corrupted when the recomputed fingerprint mismatches the stored one."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document identifier")),
)

var receiptsToolDef = mcp.NewTool("receipts_get",
	mcp.WithDescription("List persistence receipts oldest-first, optionally filtered by document id."),
	mcp.WithString("document_id", mcp.Description("Filter by document identifier")),
)

var auditGetToolDef = mcp.NewTool("audit_get",
	mcp.WithDescription("Query the append-only audit log oldest-first."),
	mcp.WithString("operation", mcp.Description("Filter by audit operation")),
	mcp.WithString("document_id", mcp.Description("Filter by document identifier")),
	mcp.WithNumber("start", mcp.Description("Earliest timestamp (unix millis, inclusive)")),
	mcp.WithNumber("end", mcp.Description("Latest timestamp (unix millis, inclusive)")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries to return")),
)

var auditLogToolDef = mcp.NewTool("audit_log",
	mcp.WithDescription("Append an audit entry for an operation in the closed enumeration."),
	mcp.WithString("operation", mcp.Required(), mcp.Description("Audit operation name")),
	mcp.WithString("document_id", mcp.Description("Related document identifier")),
	mcp.WithString("outcome", mcp.Description("Operation outcome")),
	mcp.WithObject("context", mcp.Description("Free-form string context")),
)

var statusToolDef = mcp.NewTool("storage_status",
	mcp.WithDescription("Report backend usage against its quota, including warning (80%) and critical (95%) threshold flags."),
)

var walIntentToolDef = mcp.NewTool("wal_intent",
	mcp.WithDescription("Record extraction intent for a document before work begins."),
	mcp.WithString("document_id", mcp.Required(), mcp.Description("Document identifier")),
)

var walCompleteToolDef = mcp.NewTool("wal_complete",
	mcp.WithDescription("Record extraction completion for a document after a successful save."),
	mcp.WithString("document_id", mcp.Required(), mcp.Description("Document identifier")),
	mcp.WithString("content_fingerprint", mcp.Required(), mcp.Description("Fingerprint of the saved content")),
)

var walIncompleteToolDef = mcp.NewTool("wal_incomplete",
	mcp.WithDescription("List documents with extraction intent but no later completion, oldest-first. These must be retried from scratch."),
)

var reconstructToolDef = mcp.NewTool("queue_reconstruct",
	mcp.WithDescription("Rebuild pending/completed work sets from the receipt log. Receipts are authoritative; completed items without receipts are flagged and reset to pending."),
	mcp.WithArray("items", mcp.Required(), mcp.Description("Queue items as {document_id, status} objects")),
)

var exportStartToolDef = mcp.NewTool("export_start",
	mcp.WithDescription("Begin a resumable batch export over the given document ids."),
	mcp.WithArray("document_ids", mcp.Required(), mcp.Description("Document identifiers to export")),
)

var exportStatusToolDef = mcp.NewTool("export_status",
	mcp.WithDescription("Report whether an interrupted batch export can be resumed and which documents remain."),
)

var checkpointRecordToolDef = mcp.NewTool("checkpoint_record",
	mcp.WithDescription("Count one extraction toward the export checkpoint. Returns whether the user should be prompted to export."),
)

var checkpointDismissToolDef = mcp.NewTool("checkpoint_dismiss",
	mcp.WithDescription("Suppress the export prompt until the next completed export resets the checkpoint."),
)
