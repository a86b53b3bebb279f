package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/capstore/capstore/internal/capture"
	"github.com/capstore/capstore/internal/config"
	"github.com/capstore/capstore/internal/errors"
	"github.com/capstore/capstore/internal/ops"
	"github.com/capstore/capstore/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(engine *ops.Engine, cfg *config.Config, initResult *ops.InitResult) *cli.App {
	app := &cli.App{
		Name:    "capstore",
		Usage:   "Durable local store for captured documents",
		Version: Version,
		Commands: []*cli.Command{
			saveCmd(engine),
			fetchCmd(engine),
			receiptsCmd(engine),
			auditCmd(engine),
			statusCmd(engine, initResult),
			pendingCmd(engine),
			reconstructCmd(engine),
			pruneCmd(engine),
			exportCmd(engine),
			webCmd(engine, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// saveCmd creates the save command.
func saveCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Durably save a document (reads content from stdin), printing its receipt",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("document id argument is required"))
			}
			if !stdinHasData() {
				return outputError(errors.NewValidation("document content must be piped via stdin"))
			}
			content, err := readStdin()
			if err != nil {
				return outputError(errors.Classify("save", err, nil))
			}

			output, err := engine.SaveDocument(c.Context, ops.SaveInput{
				ID:      c.Args().First(),
				Content: content,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a stored document by id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewValidation("document id argument is required"))
			}
			output, err := engine.FetchDocument(c.Context, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// receiptsCmd creates the receipts command.
func receiptsCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "receipts",
		Usage: "List persistence receipts, oldest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "Filter by document id"},
		},
		Action: func(c *cli.Context) error {
			receipts, err := engine.GetReceipts(c.Context, ops.ReceiptsInput{
				DocumentID: c.String("document"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"receipts": receipts, "count": len(receipts)})
		},
	}
}

// auditCmd creates the audit command.
func auditCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Query the append-only audit log",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Usage: "Filter by operation"},
			&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "Filter by document id"},
			&cli.Int64Flag{Name: "start", Usage: "Earliest timestamp (unix millis)"},
			&cli.Int64Flag{Name: "end", Usage: "Latest timestamp (unix millis)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			entries, err := engine.GetAuditLog(c.Context, ops.AuditInput{
				Operation:  c.String("operation"),
				DocumentID: c.String("document"),
				Start:      c.Int64("start"),
				End:        c.Int64("end"),
				Limit:      c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"entries": entries, "count": len(entries)})
		},
	}
}

// statusCmd creates the status command.
func statusCmd(engine *ops.Engine, initResult *ops.InitResult) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show backend, quota usage, and startup selection history",
		Action: func(c *cli.Context) error {
			status, err := engine.StorageStatus(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"storage": status,
				"startup": initResult,
			})
		},
	}
}

// pendingCmd creates the pending command.
func pendingCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List extractions with intent but no completion (crash-recovery surface)",
		Action: func(c *cli.Context) error {
			incomplete, err := engine.IncompleteExtractions(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"incomplete": incomplete, "count": len(incomplete)})
		},
	}
}

// reconstructCmd creates the reconstruct command.
func reconstructCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "reconstruct",
		Usage: "Rebuild queue state from receipts (reads queue items as JSON from stdin)",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewValidation("queue items must be piped via stdin as JSON"))
			}
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return outputError(errors.Classify("reconstruct", err, nil))
			}
			var items []capture.QueueItem
			if err := json.Unmarshal(data, &items); err != nil {
				return outputError(errors.NewValidation("queue items must be a JSON array of {document_id, status}"))
			}

			receipts, err := engine.GetReceipts(c.Context, ops.ReceiptsInput{})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(ops.FullReconstruction(items, receipts))
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Mark matched intent/complete WAL pairs as pruned",
		Action: func(c *cli.Context) error {
			output, err := engine.PruneWAL(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command group.
func exportCmd(engine *ops.Engine) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Track resumable batch exports",
		Subcommands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start a batch export over comma-separated document ids",
				ArgsUsage: "<id,id,...>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewValidation("document ids argument is required"))
					}
					ids := splitIDs(c.Args().First())
					exportID, err := engine.StartExport(c.Context, ids)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"export_id": exportID, "total": len(ids)})
				},
			},
			{
				Name:      "done",
				Usage:     "Record one document as exported",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewValidation("document id argument is required"))
					}
					if err := engine.RecordExported(c.Context, c.Args().First()); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"recorded": c.Args().First()})
				},
			},
			{
				Name:      "failed",
				Usage:     "Record one document as failed; the batch continues",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewValidation("document id argument is required"))
					}
					if err := engine.RecordFailed(c.Context, c.Args().First()); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"failed": c.Args().First()})
				},
			},
			{
				Name:  "check",
				Usage: "Check for an interrupted export",
				Action: func(c *cli.Context) error {
					status, err := engine.CheckForInterruptedExport(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(status)
				},
			},
			{
				Name:  "resume",
				Usage: "Resume an interrupted export and list remaining ids",
				Action: func(c *cli.Context) error {
					remaining, err := engine.ResumeExport(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"remaining": remaining})
				},
			},
			{
				Name:  "pause",
				Usage: "Pause the current export, keeping progress",
				Action: func(c *cli.Context) error {
					if err := engine.PauseExport(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"status": ops.ExportPaused})
				},
			},
			{
				Name:  "cancel",
				Usage: "Cancel the current export",
				Action: func(c *cli.Context) error {
					if err := engine.CancelExport(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]string{"status": ops.ExportCancelled})
				},
			},
			{
				Name:      "rate",
				Usage:     "Set the export rate limit in milliseconds (clamped to 100-5000)",
				ArgsUsage: "<ms>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputJSON(map[string]int{"rate_limit_ms": engine.RateLimit()})
					}
					var ms int
					if _, err := fmt.Sscanf(c.Args().First(), "%d", &ms); err != nil {
						return outputError(errors.NewValidation("rate limit must be an integer"))
					}
					return outputJSON(map[string]int{"rate_limit_ms": engine.SetRateLimit(ms)})
				},
			},
		},
	}
}

// webCmd creates the web command.
func webCmd(engine *ops.Engine, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the read-only local dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "", Usage: "Bind address (defaults to config)"},
			&cli.IntFlag{Name: "port", Value: 0, Usage: "Port (defaults to config)"},
		},
		Action: func(c *cli.Context) error {
			bind := c.String("bind")
			if bind == "" {
				bind = cfg.WebBind
			}
			port := c.Int("port")
			if port == 0 {
				port = cfg.WebPort
			}
			srv := web.NewServer(engine, cfg, Version, bind, port)
			fmt.Fprintf(os.Stderr, "dashboard listening on http://%s\n", srv.Addr)
			return srv.ListenAndServe()
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// splitIDs splits a comma-separated id list, dropping empties.
func splitIDs(s string) []string {
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
