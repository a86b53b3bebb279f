// Package ops implements the persistence engine's operations over a
// selected storage backend: the atomic save-with-receipt protocol,
// write-ahead logging, append-only receipt/audit queries, queue
// reconstruction, quota admission, migration, and export tracking.
package ops

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
)

// Engine is the explicit handle for all persistence operations:
// created by Initialize, torn down by Close, never implicitly
// recreated. It holds no locks; callers follow the single logical
// writer model, and any isolation beyond that comes from the backend.
type Engine struct {
	backend     backend.Backend
	cfg         *config.Config
	sessionID   string
	degraded    bool
	attempts    []backend.Attempt
	rateLimitMS int
	closed      bool
}

// InitResult reports the outcome of backend selection and the
// automatic migration pass.
type InitResult struct {
	ActiveBackend string            `json:"active_backend"`
	Degraded      bool              `json:"degraded"`
	MigrationRan  bool              `json:"migration_ran"`
	Migration     *MigrationResult  `json:"migration_result,omitempty"`
	Attempts      []backend.Attempt `json:"attempts"`
}

// Initialize selects a backend in priority order, runs the automatic
// migration pass when the primary is active, and returns the engine
// handle. A failure to select any backend is fatal to the caller.
func Initialize(ctx context.Context, baseDir string, cfg *config.Config) (*Engine, *InitResult, error) {
	sel, err := backend.Select(ctx, backend.DefaultOpeners(baseDir, cfg))
	if err != nil {
		return nil, nil, err
	}

	e := NewEngine(sel.Active, cfg)
	e.degraded = sel.Degraded
	e.attempts = sel.Attempts

	result := &InitResult{
		ActiveBackend: sel.Active.Name(),
		Degraded:      sel.Degraded,
		Attempts:      sel.Attempts,
	}

	// The primary coming up is the migration trigger: drain anything
	// the file store accumulated while degraded.
	if sel.Active.Name() == backend.Primary {
		secondary, err := backend.OpenFile(baseDir, cfg)
		if err == nil {
			migration, migErr := e.Migrate(ctx, secondary)
			if migErr != nil {
				secondary.Close()
				e.Close()
				return nil, nil, migErr
			}
			if migration != nil {
				result.MigrationRan = true
				result.Migration = migration
			}
			secondary.Close()
		}
	}

	e.audit(ctx, &capture.AuditEntry{
		Operation: capture.OpInitialize,
		Outcome:   "ok",
		Backend:   sel.Active.Name(),
	})

	return e, result, nil
}

// NewEngine wraps an already-opened backend. Used by Initialize and by
// tests that construct a backend directly.
func NewEngine(b backend.Backend, cfg *config.Config) *Engine {
	rate := cfg.RateLimitMS
	if rate < MinRateLimitMS || rate > MaxRateLimitMS {
		rate = DefaultRateLimitMS
	}
	return &Engine{
		backend:     b,
		cfg:         cfg,
		sessionID:   uuid.NewString(),
		rateLimitMS: rate,
	}
}

// Attempts returns the backend selection history recorded at startup.
func (e *Engine) Attempts() []backend.Attempt {
	return e.attempts
}

// Backend returns the active backend name.
func (e *Engine) Backend() string {
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

// DegradedMode reports whether the engine is running on a non-primary
// backend.
func (e *Engine) DegradedMode() bool {
	return e.degraded
}

// SessionID returns the WAL session identifier, generated once per
// engine lifetime and reused across WAL writes.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Close tears down the backend handle. Operations after Close fail
// with BackendUnavailable.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.backend.Close()
}

// checkOpen guards every operation against use before initialization
// or after close.
func (e *Engine) checkOpen() error {
	if e.backend == nil || e.closed {
		return errors.NewBackendUnavailable("engine is not initialized", nil)
	}
	return nil
}

// audit appends an audit entry best-effort: the audit log is
// observability, so a failure to write it never fails the operation
// that produced it.
func (e *Engine) audit(ctx context.Context, entry *capture.AuditEntry) {
	entry.Timestamp = capture.NowMillis()
	if entry.Backend == "" {
		entry.Backend = e.backend.Name()
	}
	if _, err := e.backend.AppendAudit(ctx, entry); err != nil {
		log.Printf("audit append failed for %s: %v", entry.Operation, err)
	}
}
