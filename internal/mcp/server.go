package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"document_save": {
		def:     saveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"document_fetch": {
		def:     fetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFetch },
	},
	"receipts_get": {
		def:     receiptsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReceipts },
	},
	"audit_get": {
		def:     auditGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAuditGet },
	},
	"audit_log": {
		def:     auditLogToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAuditLog },
	},
	"storage_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"wal_intent": {
		def:     walIntentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWALIntent },
	},
	"wal_complete": {
		def:     walCompleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWALComplete },
	},
	"wal_incomplete": {
		def:     walIncompleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWALIncomplete },
	},
	"queue_reconstruct": {
		def:     reconstructToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReconstruct },
	},
	"export_start": {
		def:     exportStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExportStart },
	},
	"export_status": {
		def:     exportStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExportStatus },
	},
	"checkpoint_record": {
		def:     checkpointRecordToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckpointRecord },
	},
	"checkpoint_dismiss": {
		def:     checkpointDismissToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckpointDismiss },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with capstore tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(engine *ops.Engine, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"capstore",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(engine, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(engine *ops.Engine, cfg *config.Config, version string) error {
	s := NewServer(engine, cfg, version)
	return server.ServeStdio(s)
}
