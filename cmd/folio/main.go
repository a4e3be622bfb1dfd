// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/folio"
	"github.com/poiesic/folio/config"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/graph"
	"github.com/poiesic/folio/ingestion"
	"github.com/poiesic/folio/progress"
	"github.com/poiesic/folio/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "folio",
		Usage: "Ingest PDF documents into vector, relational and graph stores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				EnvVars: []string{"FOLIO_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file if it exists",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for local stores (overrides configuration)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest one or more PDF files and wait for them to finish",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "client",
						Usage: "Client id recorded on each document",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Pages per chunk (overrides configuration)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Documents ingested concurrently (overrides configuration)",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the ingestion status of a document or of every document of a client",
				ArgsUsage: "[DOCUMENT-ID]",
				Action:    statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "client",
						Usage: "List every document uploaded by this client",
					},
				},
			},
			{
				Name:      "graph",
				Usage:     "Print the knowledge graph built for a document",
				ArgsUsage: "DOCUMENT-ID",
				Action:    graphCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "budget",
						Usage: "Truncate output to this many bytes (0 prints everything)",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete documents and everything stored for them",
				ArgsUsage: "DOCUMENT-ID...",
				Action:    deleteCommand,
			},
			{
				Name:      "watch",
				Usage:     "Ingest PDF files as they appear in a directory",
				ArgsUsage: "DIR",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "client",
						Usage: "Client id recorded on each document",
					},
					&cli.DurationFlag{
						Name:  "quiet",
						Usage: "Wait this long after the last write before ingesting a file",
						Value: 2 * time.Second,
					},
				},
			},
		},
	}
}

func setup(c *cli.Context) error {
	if err := loadEnvFile(c.String("env-file")); err != nil {
		return err
	}
	return setupLogger(c)
}

// loadEnvFile loads path into the environment. A missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	level, err := parseLevel(c.String("log-level"))
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if n := c.Int("chunk-size"); n > 0 {
		cfg.Pipeline.ChunkSize = n
	}
	if n := c.Int("workers"); n > 0 {
		cfg.Pipeline.Workers = n
	}
	return cfg, nil
}

func openFolio(c *cli.Context) (*folio.Folio, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	f, err := folio.Open(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open folio: %w", err)
	}
	return f, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	pipeline, err := f.NewPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	tracker := progress.NewTracker(os.Stderr)
	events := f.Progress().Subscribe(ctx)
	go func() {
		for e := range events {
			tracker.Notify(ctx, e.DocumentId, e)
		}
	}()

	var handles []*ingestion.Handle
	for _, path := range c.Args().Slice() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		h, err := pipeline.Submit(ctx, ingestion.Upload{ClientId: c.String("client"), SourcePath: abs})
		if err != nil {
			return fmt.Errorf("failed to submit %s: %w", path, err)
		}
		handles = append(handles, h)
	}

	go func() {
		<-ctx.Done()
		for _, h := range handles {
			h.Cancel()
		}
	}()

	var failed int
	for _, h := range handles {
		doc, err := h.Wait(context.Background())
		if err != nil {
			failed++
		}
		if doc != nil {
			writeDocument(os.Stdout, doc)
		}
	}
	fmt.Fprintf(os.Stderr, "Elapsed: %s\n", tracker.Elapsed().Round(time.Millisecond))

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(handles))
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	client := c.String("client")
	if c.NArg() == 0 && client == "" {
		return fmt.Errorf("a document id or --client is required")
	}

	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	if client != "" {
		docs, err := f.Documents().ListDocumentsByClient(c.Context, client)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			writeDocument(os.Stdout, doc)
		}
		return nil
	}

	doc, err := f.Documents().GetDocument(c.Context, c.Args().First())
	if err != nil {
		return fmt.Errorf("document %s: %w", c.Args().First(), err)
	}
	writeDocument(os.Stdout, doc)
	return nil
}

func graphCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one document id is required")
	}

	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	snapshot, err := f.Graphs().LoadGraph(c.Context, c.Args().First())
	if err != nil {
		return fmt.Errorf("knowledge graph for %s: %w", c.Args().First(), err)
	}
	g, err := graph.Restore(snapshot)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Nodes: %d, edges: %d\n", g.NodeCount(), g.EdgeCount())
	fmt.Fprint(os.Stdout, graph.Summarize(g, c.Int("budget")))
	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one document id is required")
	}

	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	var missing, failed []string
	for _, id := range c.Args().Slice() {
		report, err := f.DeleteDocument(c.Context, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			missing = append(missing, id)
		case err != nil:
			slog.Error("delete failed", "doc_id", id, "err", err)
			failed = append(failed, id)
		default:
			fmt.Fprintf(os.Stdout, "%s  deleted  paragraphs: %d, tables: %d, edges: %d\n",
				id, report.Paragraphs, report.Tables, report.Edges)
		}
	}
	for _, id := range missing {
		fmt.Fprintf(os.Stdout, "%s  not found\n", id)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d deletions failed: %s", len(failed), c.NArg(), strings.Join(failed, ", "))
	}
	return nil
}

// writeDocument prints a one-paragraph status report.
func writeDocument(w io.Writer, doc *core.Document) {
	fmt.Fprintf(w, "%s  %s  %s\n", doc.Id, doc.Status, doc.Filename)
	if len(doc.ChunkIds) > 0 {
		fmt.Fprintf(w, "  chunks: %d/%d\n", doc.LastCompletedChunk+1, len(doc.ChunkIds))
	}
	if doc.Status == core.StatusFailed {
		fmt.Fprintf(w, "  error: %s\n", doc.Error)
		if doc.FailedStage != "" {
			fmt.Fprintf(w, "  resumable after: %s\n", doc.FailedStage)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(doc.TableSummaries)) {
		fmt.Fprintf(w, "  table %s: %s\n", name, doc.TableSummaries[name])
	}
}
