package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/capstore/capstore/internal/backend"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/ops"
)

// setupTestEngine creates an engine over an in-memory backend.
func setupTestEngine(t *testing.T) (*ops.Engine, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	engine := ops.NewEngine(backend.OpenMemory(cfg), cfg)
	return engine, cfg
}

func testInitResult() *ops.InitResult {
	return &ops.InitResult{
		ActiveBackend: backend.NameMemory,
		Degraded:      false,
	}
}

// runApp runs the CLI with captured stdout and returns the output.
func runApp(t *testing.T, app *cli.App, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := app.Run(append([]string{"capstore"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

// runAppWithStdin runs the CLI with the given stdin content and captured stdout.
func runAppWithStdin(t *testing.T, app *cli.App, stdin string, args ...string) (string, error) {
	t.Helper()

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	go func() {
		_, _ = stdinW.WriteString(stdin)
		stdinW.Close()
	}()
	defer func() { os.Stdin = oldStdin }()

	return runApp(t, app, args...)
}

// TestSplitIDs tests the splitIDs helper function.
func TestSplitIDs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single id",
			input:    "doc-1",
			expected: []string{"doc-1"},
		},
		{
			name:     "multiple ids",
			input:    "doc-1,doc-2,doc-3",
			expected: []string{"doc-1", "doc-2", "doc-3"},
		},
		{
			name:     "ids with spaces",
			input:    " doc-1 , doc-2 ",
			expected: []string{"doc-1", "doc-2"},
		},
		{
			name:     "empty segments filtered",
			input:    "doc-1,,doc-2,",
			expected: []string{"doc-1", "doc-2"},
		},
		{
			name:     "empty string",
			input:    "",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitIDs(tt.input)
			if len(result) != len(tt.expected) {
				t.Errorf("expected %d ids, got %d", len(tt.expected), len(result))
				return
			}
			for i, id := range result {
				if id != tt.expected[i] {
					t.Errorf("expected id[%d]=%q, got %q", i, tt.expected[i], id)
				}
			}
		})
	}
}

// TestCLISave tests the save command.
func TestCLISave(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runAppWithStdin(t, app, "captured content", "save", "doc-1")
	if err != nil {
		t.Fatalf("save command failed: %v", err)
	}

	var output ops.SaveOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Receipt == nil {
		t.Fatal("expected a receipt in output")
	}
	if output.Receipt.DocumentID != "doc-1" {
		t.Errorf("expected receipt for doc-1, got %s", output.Receipt.DocumentID)
	}
}

// TestCLISave_MissingID tests that save without an id argument fails.
func TestCLISave_MissingID(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	_, err := runAppWithStdin(t, app, "content", "save")
	if err == nil {
		t.Fatal("expected error for missing id argument")
	}
}

// TestCLIFetch tests the fetch command.
func TestCLIFetch(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	saved, err := engine.SaveDocument(context.Background(), ops.SaveInput{
		ID:      "doc-1",
		Content: "stored text",
	})
	if err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "fetch", "doc-1")
	if err != nil {
		t.Fatalf("fetch command failed: %v", err)
	}

	var output ops.FetchOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Document.Content != "stored text" {
		t.Errorf("expected content 'stored text', got %q", output.Document.Content)
	}
	if output.Document.Fingerprint != saved.Receipt.Fingerprint {
		t.Error("fetched fingerprint does not match save receipt")
	}
}

// TestCLIFetch_NotFound tests fetch for a missing document.
func TestCLIFetch_NotFound(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	_, err := runApp(t, app, "fetch", "missing")
	if err == nil {
		t.Fatal("expected error for missing document")
	}
}

// TestCLIReceipts tests the receipts command.
func TestCLIReceipts(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	ctx := context.Background()
	for _, id := range []string{"doc-a", "doc-b"} {
		if _, err := engine.SaveDocument(ctx, ops.SaveInput{ID: id, Content: "x"}); err != nil {
			t.Fatalf("failed to seed document %s: %v", id, err)
		}
	}

	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "receipts")
	if err != nil {
		t.Fatalf("receipts command failed: %v", err)
	}

	var output struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 2 {
		t.Errorf("expected count=2, got %d", output.Count)
	}

	out, err = runApp(t, app, "receipts", "--document", "doc-a")
	if err != nil {
		t.Fatalf("filtered receipts command failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 1 {
		t.Errorf("expected count=1 for filtered receipts, got %d", output.Count)
	}
}

// TestCLIStatus tests the status command.
func TestCLIStatus(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}

	var output struct {
		Storage *ops.StorageStatus `json:"storage"`
		Startup *ops.InitResult    `json:"startup"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Storage.Backend != backend.NameMemory {
		t.Errorf("expected backend=memory, got %s", output.Storage.Backend)
	}
	if output.Startup.Degraded {
		t.Error("expected degraded=false")
	}
}

// TestCLIPending tests the pending command.
func TestCLIPending(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	if _, err := engine.LogIntent(context.Background(), "doc-1"); err != nil {
		t.Fatalf("failed to log intent: %v", err)
	}

	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "pending")
	if err != nil {
		t.Fatalf("pending command failed: %v", err)
	}

	var output struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Count != 1 {
		t.Errorf("expected count=1, got %d", output.Count)
	}
}

// TestCLIReconstruct tests the reconstruct command.
func TestCLIReconstruct(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	if _, err := engine.SaveDocument(context.Background(), ops.SaveInput{ID: "doc-1", Content: "x"}); err != nil {
		t.Fatalf("failed to seed document: %v", err)
	}

	app := newCLIApp(engine, cfg, testInitResult())

	queue := `[{"document_id":"doc-1","status":"processing"},{"document_id":"doc-2","status":"completed"}]`
	out, err := runAppWithStdin(t, app, queue, "reconstruct")
	if err != nil {
		t.Fatalf("reconstruct command failed: %v", err)
	}

	var output ops.FullReconstructionResult
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.DiscrepancyCount != 1 {
		t.Errorf("expected discrepancy_count=1, got %d", output.DiscrepancyCount)
	}
	if len(output.Completed) != 1 || output.Completed[0] != "doc-1" {
		t.Errorf("expected completed=[doc-1], got %v", output.Completed)
	}
}

// TestCLIReconstruct_InvalidJSON tests reconstruct with bad stdin.
func TestCLIReconstruct_InvalidJSON(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	_, err := runAppWithStdin(t, app, "not json", "reconstruct")
	if err == nil {
		t.Fatal("expected error for invalid queue JSON")
	}
}

// TestCLIExportLifecycle tests export start, done, and check.
func TestCLIExportLifecycle(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "export", "start", "doc-1,doc-2")
	if err != nil {
		t.Fatalf("export start failed: %v", err)
	}
	var started struct {
		ExportID string `json:"export_id"`
		Total    int    `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &started); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if started.ExportID == "" {
		t.Error("expected non-empty export id")
	}
	if started.Total != 2 {
		t.Errorf("expected total=2, got %d", started.Total)
	}

	if _, err := runApp(t, app, "export", "done", "doc-1"); err != nil {
		t.Fatalf("export done failed: %v", err)
	}

	out, err = runApp(t, app, "export", "check")
	if err != nil {
		t.Fatalf("export check failed: %v", err)
	}
	var status ops.InterruptedExport
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if !status.CanResume {
		t.Error("expected can_resume=true with one document remaining")
	}
	if len(status.Remaining) != 1 || status.Remaining[0] != "doc-2" {
		t.Errorf("expected remaining=[doc-2], got %v", status.Remaining)
	}
}

// TestCLIExportRate tests the export rate command.
func TestCLIExportRate(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	app := newCLIApp(engine, cfg, testInitResult())

	var output struct {
		RateLimitMS int `json:"rate_limit_ms"`
	}

	out, err := runApp(t, app, "export", "rate")
	if err != nil {
		t.Fatalf("export rate failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.RateLimitMS != ops.DefaultRateLimitMS {
		t.Errorf("expected default rate %d, got %d", ops.DefaultRateLimitMS, output.RateLimitMS)
	}

	out, err = runApp(t, app, "export", "rate", "50")
	if err != nil {
		t.Fatalf("export rate set failed: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.RateLimitMS != ops.MinRateLimitMS {
		t.Errorf("expected clamped rate %d, got %d", ops.MinRateLimitMS, output.RateLimitMS)
	}

	_, err = runApp(t, app, "export", "rate", "fast")
	if err == nil {
		t.Fatal("expected error for non-integer rate")
	}
}

// TestCLIPrune tests the prune command.
func TestCLIPrune(t *testing.T) {
	engine, cfg := setupTestEngine(t)
	ctx := context.Background()
	if _, err := engine.LogIntent(ctx, "doc-1"); err != nil {
		t.Fatalf("failed to log intent: %v", err)
	}
	if _, err := engine.LogComplete(ctx, "doc-1", ""); err != nil {
		t.Fatalf("failed to log completion: %v", err)
	}

	app := newCLIApp(engine, cfg, testInitResult())

	out, err := runApp(t, app, "prune")
	if err != nil {
		t.Fatalf("prune command failed: %v", err)
	}

	var output ops.PruneWALOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v", err)
	}
	if output.Pruned != 2 {
		t.Errorf("expected pruned=2, got %d", output.Pruned)
	}
}
