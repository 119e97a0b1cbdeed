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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/poiesic/vitae/aggregate"
	"github.com/poiesic/vitae/ai"
	"github.com/poiesic/vitae/ai/openai"
	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/output"
	"github.com/poiesic/vitae/pipeline"
	"github.com/poiesic/vitae/retrieval"
	"github.com/poiesic/vitae/stage"
	"github.com/poiesic/vitae/storage"
	"github.com/poiesic/vitae/storage/badger"
)

func main() {
	app := &cli.App{
		Name:  "vitae",
		Usage: "Biographical fact extraction from text corpora",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to a rotating file instead of stderr",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run extraction services over a corpus",
				Action: runCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "corpus",
						Aliases:  []string{"c"},
						Usage:    "Path to the corpus JSONL file",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Path to a service descriptor TOML (repeatable)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Directory for service output files",
						Value:   "out",
					},
					&cli.StringFlag{
						Name:    "db",
						Aliases: []string{"d"},
						Usage:   "Path to BadgerDB checkpoint directory (enables resume)",
					},
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "Resume a previous run instead of starting fresh",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Maximum in-flight stage calls across all services",
						Value: 4,
					},
					&cli.StringSliceFlag{
						Name:  "person",
						Usage: "Restrict the run to named people (repeatable)",
					},
				},
			},
			{
				Name:   "aggregate",
				Usage:  "Merge service outputs into person profiles",
				Action: aggregateCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "in",
						Aliases: []string{"i"},
						Usage:   "Directory holding service output files",
						Value:   "out",
					},
					&cli.StringSliceFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Path to a service descriptor TOML (repeatable)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Path for the profile JSONL file",
						Value:   "out/profiles.jsonl",
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "Summarize status counts in service output files",
				Action:    inspectCommand,
				ArgsUsage: "FILE [FILE...]",
			},
			{
				Name:   "checkpoints",
				Usage:  "List one person's stage checkpoints for a run",
				Action: checkpointsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "db",
						Aliases:  []string{"d"},
						Usage:    "Path to BadgerDB checkpoint directory",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "run-id",
						Usage:    "Run to inspect",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Service name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "person",
						Usage:    "Person name",
						Required: true,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCommand(c *cli.Context) error {
	ctx := context.Background()

	services, err := config.LoadAll(c.StringSlice("service")...)
	if err != nil {
		return fmt.Errorf("failed to load service descriptors: %w", err)
	}

	corpus, err := retrieval.LoadCorpus(c.String("corpus"))
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}
	if corpus.Len() == 0 {
		return core.ErrEmptyCorpus
	}

	aiConfig, err := ai.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to read AI configuration: %w", err)
	}
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	provider, err := openai.NewProvider(aiConfig)
	if err != nil {
		return fmt.Errorf("failed to create AI provider: %w", err)
	}
	defer provider.Close()

	outDir := c.String("out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var checkpoints storage.RunRepository
	if dbPath := c.String("db"); dbPath != "" {
		checkpoints, err = badger.NewRunRepository(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint database: %w", err)
		}
		defer checkpoints.Close()
	}

	concurrency := c.Int("concurrency")
	if concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0")
	}

	// One pool across all services keeps the global call budget fixed
	// no matter how many descriptors the run carries.
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	people := c.StringSlice("person")
	for _, svc := range services {
		if err := runService(ctx, svc, corpus, provider, pool, checkpoints, outDir, c.String("run-id"), concurrency, people); err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
	}
	return nil
}

func runService(
	ctx context.Context,
	svc *config.Service,
	corpus *retrieval.Corpus,
	provider ai.AIProvider,
	pool *ants.Pool,
	checkpoints storage.RunRepository,
	outDir, runID string,
	concurrency int,
	people []string,
) error {
	execOpts := []stage.Option{}
	if svc.Defaults.MaxRetries > 0 {
		execOpts = append(execOpts, stage.WithMaxRetries(svc.Defaults.MaxRetries))
	}
	if svc.Defaults.TimeoutSeconds > 0 {
		execOpts = append(execOpts, stage.WithTimeout(time.Duration(svc.Defaults.TimeoutSeconds)*time.Second))
	}
	executor, err := stage.NewExecutor(provider.Completer(), execOpts...)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithConcurrency(concurrency),
		pipeline.WithPool(pool),
	}
	if runID != "" {
		opts = append(opts, pipeline.WithRunID(runID))
	}
	if checkpoints != nil {
		opts = append(opts, pipeline.WithCheckpoints(checkpoints))
	}

	// The writer needs the run ID for its filename, but a fresh ID is
	// minted by the coordinator. Open the writer lazily on the first
	// record, once the ID is known.
	writer := &deferredWriter{open: func(id string) (*output.Writer, error) {
		return output.NewWriter(output.Filename(outDir, svc.Name, id))
	}}
	defer writer.Close()

	coordinator, err := pipeline.NewCoordinator(svc, provider.Embedder(), executor, writer, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	defer coordinator.Release()

	fmt.Fprintf(os.Stderr, "Service: %s (run %s)\n", svc.Name, coordinator.RunID())

	var report *pipeline.Report
	if len(people) > 0 {
		report, err = coordinator.RunPeople(ctx, corpus, people)
	} else {
		report, err = coordinator.Run(ctx, corpus)
	}
	if err != nil {
		return err
	}

	printReport(os.Stderr, report)
	return nil
}

// deferredWriter opens the real output writer on first append, once
// the coordinator's run ID is known. Appends may race.
type deferredWriter struct {
	open func(runID string) (*output.Writer, error)

	mu     sync.Mutex
	writer *output.Writer
}

func (d *deferredWriter) Append(record *core.PersonRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		w, err := d.open(record.RunID)
		if err != nil {
			return err
		}
		d.writer = w
	}
	return d.writer.Append(record)
}

func (d *deferredWriter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	return d.writer.Close()
}

func printReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "  people: %d  ok: %d  insufficient: %d  failed: %d  resumed: %d  elapsed: %s\n",
		report.People, report.Succeeded, report.InsufficientEvidence,
		report.Failed, report.Resumed, report.Elapsed.Round(time.Millisecond))
}

func aggregateCommand(c *cli.Context) error {
	ctx := context.Background()

	services, err := config.LoadAll(c.StringSlice("service")...)
	if err != nil {
		return fmt.Errorf("failed to load service descriptors: %w", err)
	}

	dir := c.String("in")
	inputs := make([]aggregate.Input, 0, len(services))
	for _, svc := range services {
		path, err := output.Latest(dir, svc.Name)
		if err != nil {
			return fmt.Errorf("failed to locate output for %s: %w", svc.Name, err)
		}
		inputs = append(inputs, aggregate.Input{Service: svc, Path: path})
	}

	profiles, err := aggregate.New().Aggregate(ctx, inputs)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	outPath := c.String("out")
	if err := aggregate.WriteProfiles(outPath, profiles); err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Wrote %d profiles to %s\n", len(profiles), outPath)
	return nil
}

func inspectCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one output file is required")
	}

	for _, path := range c.Args().Slice() {
		records, err := output.ReadAll(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\n%s", path, summarize(records))
	}
	return nil
}

func checkpointsCommand(c *cli.Context) error {
	repo, err := badger.NewRunRepository(c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer repo.Close()

	stages, err := repo.ListStages(context.Background(),
		c.String("run-id"), c.String("service"), c.String("person"))
	if err != nil {
		return err
	}
	if len(stages) == 0 {
		fmt.Fprintln(os.Stdout, "no checkpoints")
		return nil
	}

	fmt.Fprint(os.Stdout, formatCheckpoints(stages))
	return nil
}

// formatCheckpoints renders one line per stage checkpoint, with the
// consolidated record count decoded from the payload.
func formatCheckpoints(stages []*core.StageCheckpoint) string {
	var b strings.Builder
	for _, cp := range stages {
		count := 0
		if cp.Payload != "" {
			var records []core.ConsolidatedRecord
			if err := json.Unmarshal([]byte(cp.Payload), &records); err == nil {
				count = len(records)
			}
		}
		fmt.Fprintf(&b, "%02d %-20s %-20s records=%d updated=%s\n",
			cp.StageIndex, cp.StageID, cp.Status, count,
			cp.UpdatedAt.Format(time.RFC3339))
	}
	return b.String()
}

// summarize renders per-status counts, with failure kinds broken out.
func summarize(records []core.PersonRecord) string {
	statuses := make(map[string]int)
	kinds := make(map[string]int)
	for i := range records {
		statuses[records[i].Status]++
		if records[i].FailureKind != "" {
			kinds[records[i].FailureKind]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  records: %d\n", len(records))
	for _, status := range sortedKeys(statuses) {
		fmt.Fprintf(&b, "  %s: %d\n", status, statuses[status])
	}
	for _, kind := range sortedKeys(kinds) {
		fmt.Fprintf(&b, "    failure %s: %d\n", kind, kinds[kind])
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	var sink io.Writer = os.Stderr
	if path := c.String("log-file"); path != "" {
		sink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}

	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
