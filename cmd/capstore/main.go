package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/mcp"
	"github.com/capstore/capstore/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"save": true, "fetch": true, "receipts": true, "audit": true,
	"status": true, "pending": true, "reconstruct": true, "prune": true,
	"export": true, "web": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// baseDir returns the capstore home directory, overridable for tests
// and side-by-side installs.
func baseDir() (string, error) {
	if dir := os.Getenv("CAPSTORE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".capstore"), nil
}

func main() {
	dir, err := baseDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	engine, initResult, err := ops.Initialize(ctx, dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if initResult.Degraded {
		fmt.Fprintf(os.Stderr, "warning: running degraded on backend %q\n", initResult.ActiveBackend)
	}

	if isCLIMode() {
		app := newCLIApp(engine, cfg, initResult)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := mcp.Run(engine, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server failed: %v\n", err)
		os.Exit(1)
	}
}
