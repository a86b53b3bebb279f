package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
)

// Attempt records one backend candidate tried during selection.
type Attempt struct {
	Backend string `json:"backend"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Selection is the outcome of ordered fallback: the first candidate
// that opened and passed functional verification.
type Selection struct {
	Active   Backend
	Degraded bool
	Attempts []Attempt
}

// Opener pairs a backend name with its constructor, letting tests
// substitute failing candidates.
type Opener struct {
	Name string
	Open func() (Backend, error)
}

// DefaultOpeners returns the fixed priority order: structured durable
// store, simple key-value durable store, volatile memory.
func DefaultOpeners(baseDir string, cfg *config.Config) []Opener {
	return []Opener{
		{Name: NameSQLite, Open: func() (Backend, error) { return OpenSQLite(baseDir, cfg) }},
		{Name: NameFile, Open: func() (Backend, error) { return OpenFile(baseDir, cfg) }},
		{Name: NameMemory, Open: func() (Backend, error) { return OpenMemory(cfg), nil }},
	}
}

// Select tries each opener in order and returns the first backend that
// both opens and passes a real write/read round-trip. When every
// candidate fails, the full attempt history is reported in a
// BackendUnavailable error; the caller treats that as fatal.
func Select(ctx context.Context, openers []Opener) (*Selection, error) {
	attempts := make([]Attempt, 0, len(openers))
	for i, opener := range openers {
		b, err := opener.Open()
		if err == nil {
			err = verify(ctx, b)
			if err != nil {
				b.Close()
			}
		}
		if err != nil {
			attempts = append(attempts, Attempt{Backend: opener.Name, Error: err.Error()})
			continue
		}
		attempts = append(attempts, Attempt{Backend: opener.Name, OK: true})
		return &Selection{
			Active:   b,
			Degraded: i > 0,
			Attempts: attempts,
		}, nil
	}

	history := make([]map[string]any, len(attempts))
	for i, a := range attempts {
		history[i] = map[string]any{"backend": a.Backend, "error": a.Error}
	}
	return nil, errors.NewBackendUnavailable("no storage backend passed verification", history)
}

// verify performs a write/read round-trip on the state container,
// proving the backend is functional rather than merely present.
func verify(ctx context.Context, b Backend) error {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	probe, err := json.Marshal(hex.EncodeToString(nonce))
	if err != nil {
		return err
	}
	if err := b.PutState(ctx, "startup_probe", probe); err != nil {
		return fmt.Errorf("probe write failed: %w", err)
	}
	got, err := b.GetState(ctx, "startup_probe")
	if err != nil {
		return fmt.Errorf("probe read failed: %w", err)
	}
	if string(got) != string(probe) {
		return fmt.Errorf("probe mismatch: wrote %s, read %s", probe, got)
	}
	return nil
}
