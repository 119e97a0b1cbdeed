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


package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/poiesic/vitae/ai"
	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/consolidate"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/retrieval"
	"github.com/poiesic/vitae/stage"
	"github.com/poiesic/vitae/storage"
)

// RecordWriter receives every person's terminal record. Appends may
// come from concurrent goroutines; implementations must serialize.
type RecordWriter interface {
	Append(record *core.PersonRecord) error
}

// Report summarizes one service run.
type Report struct {
	RunID                string
	Service              string
	People               int
	Succeeded            int
	InsufficientEvidence int
	Failed               int
	Resumed              int
	Elapsed              time.Duration
}

// Coordinator drives one service's stage sequence over many people.
type Coordinator struct {
	service     *config.Service
	embedder    ai.Embedder
	executor    *stage.Executor
	writer      RecordWriter
	checkpoints storage.RunRepository
	selectors   []*retrieval.Selector
	pool        *ants.Pool
	ownsPool    bool
	concurrency int
	embedDelay  time.Duration
	runID       string
	logger      *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithConcurrency bounds concurrent people and the shared stage-unit
// pool. Default is the service descriptor's concurrency.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) error {
		if n < 1 {
			return ErrInvalidConcurrency
		}
		c.concurrency = n
		return nil
	}
}

// WithRunID fixes the run identifier. Combined with WithCheckpoints,
// reusing a previous run's ID resumes it: completed stages are
// rehydrated from the checkpoint store instead of re-invoking the
// model. Default is a fresh UUID.
func WithRunID(runID string) Option {
	return func(c *Coordinator) error {
		if runID != "" {
			c.runID = runID
		}
		return nil
	}
}

// WithCheckpoints mirrors each completed consolidation to a run
// repository for crash recovery. Without it, runs are purely in-memory.
func WithCheckpoints(repo storage.RunRepository) Option {
	return func(c *Coordinator) error {
		c.checkpoints = repo
		return nil
	}
}

// WithPool shares an existing worker pool instead of owning one, so
// several services can run under one global call budget. The caller
// keeps ownership and releases the pool.
func WithPool(pool *ants.Pool) Option {
	return func(c *Coordinator) error {
		if pool == nil {
			return nil
		}
		if c.ownsPool && c.pool != nil {
			c.pool.Release()
		}
		c.pool = pool
		c.ownsPool = false
		return nil
	}
}

// WithEmbedRetryDelay sets the base backoff for query-embedding
// retries. Default is 500ms.
func WithEmbedRetryDelay(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d > 0 {
			c.embedDelay = d
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewCoordinator wires a coordinator for one service.
func NewCoordinator(service *config.Service, embedder ai.Embedder, executor *stage.Executor, writer RecordWriter, opts ...Option) (*Coordinator, error) {
	if service == nil {
		return nil, ErrServiceRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if executor == nil {
		return nil, ErrExecutorRequired
	}
	if writer == nil {
		return nil, ErrWriterRequired
	}

	c := &Coordinator{
		service:     service,
		embedder:    embedder,
		executor:    executor,
		writer:      writer,
		concurrency: service.Defaults.Concurrency,
		embedDelay:  500 * time.Millisecond,
		runID:       uuid.NewString(),
		logger:      slog.Default().With("component", "pipeline", "service", service.Name),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.release()
			return nil, err
		}
	}

	// Per-stage selectors carry the stage's retrieval overrides.
	floor := service.Defaults.MinSimilarity
	if floor < 0 {
		floor = 0
	}
	c.selectors = make([]*retrieval.Selector, len(service.Stages))
	for i := range service.Stages {
		stg := &service.Stages[i]
		if stg.Input != config.InputChunks {
			continue
		}
		sel, err := retrieval.NewSelector(
			retrieval.WithTopK(stg.TopK),
			retrieval.WithMaxPerSource(stg.MaxPerSource),
			retrieval.WithSimilarityFloor(floor),
			retrieval.WithLogger(c.logger),
		)
		if err != nil {
			c.release()
			return nil, err
		}
		c.selectors[i] = sel
	}

	if c.pool == nil {
		pool, err := ants.NewPool(c.concurrency)
		if err != nil {
			return nil, err
		}
		c.pool = pool
		c.ownsPool = true
	}

	return c, nil
}

// RunID returns the run identifier records are stamped with.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Release frees the coordinator's worker pool when it owns one.
func (c *Coordinator) Release() {
	c.release()
}

func (c *Coordinator) release() {
	if c.ownsPool && c.pool != nil {
		c.pool.Release()
		c.pool = nil
	}
}

// Run processes every person in the corpus. See RunPeople.
func (c *Coordinator) Run(ctx context.Context, corpus *retrieval.Corpus) (*Report, error) {
	return c.RunPeople(ctx, corpus, corpus.People())
}

// RunPeople processes the given people concurrently and appends one
// terminal record per person to the writer. Per-person failures are
// recorded, not returned; the returned error is non-nil only when the
// whole run aborted (fatal configuration error, writer failure, or
// cancellation), in which case the report covers the people that
// finished before the abort.
func (c *Coordinator) RunPeople(ctx context.Context, corpus *retrieval.Corpus, people []string) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: c.runID, Service: c.service.Name, People: len(people)}

	c.logger.Info("service run starting",
		"run_id", c.runID,
		"people", len(people),
		"stages", len(c.service.Stages),
		"concurrency", c.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	var mu sync.Mutex
	for _, person := range people {
		g.Go(func() error {
			record, resumed, err := c.runPerson(gctx, corpus, person)
			if err != nil {
				return err
			}
			if err := c.writer.Append(record); err != nil {
				return fmt.Errorf("append record for %s: %w", person, err)
			}

			mu.Lock()
			switch record.Status {
			case core.StatusOK:
				report.Succeeded++
			case core.StatusInsufficientEvidence:
				report.InsufficientEvidence++
			default:
				report.Failed++
			}
			report.Resumed += resumed
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	report.Elapsed = time.Since(start)

	if err != nil {
		c.logger.Error("service run aborted",
			"run_id", c.runID, "err", err, "elapsed", report.Elapsed)
		return report, err
	}

	c.logger.Info("service run complete",
		"run_id", c.runID,
		"succeeded", report.Succeeded,
		"insufficient_evidence", report.InsufficientEvidence,
		"failed", report.Failed,
		"elapsed", report.Elapsed)
	return report, nil
}

// runPerson advances one person through every stage. It returns the
// person's terminal record and how many stages were rehydrated from
// checkpoints. The error return is reserved for run-aborting
// conditions; recorded failures come back as a record.
func (c *Coordinator) runPerson(ctx context.Context, corpus *retrieval.Corpus, person string) (*core.PersonRecord, int, error) {
	c.transition(person, StatePending, "")

	index, err := corpus.IndexFor(person)
	if err != nil {
		// A person with corrupt chunks fails alone.
		wrapped := fmt.Errorf("%w: corpus for %s: %w", core.ErrValidation, person, err)
		return c.failureRecord(person, wrapped), 0, nil
	}

	var prior []core.ConsolidatedRecord
	resumed := 0

	for i := range c.service.Stages {
		stg := &c.service.Stages[i]

		if restored, ok := c.restoreStage(ctx, person, i); ok {
			prior = restored
			resumed++
			continue
		}

		c.transition(person, StateSelecting, stg.ID)
		units, terminal, err := c.buildUnits(ctx, index, stg, i, person, prior)
		if err != nil {
			if isAbort(err) {
				return nil, resumed, err
			}
			return c.failureRecord(person, err), resumed, nil
		}
		if terminal != nil {
			c.transition(person, terminalState(terminal), stg.ID)
			return terminal, resumed, nil
		}

		c.transition(person, StateExecuting, stg.ID)
		raw, unitErrs, err := c.executeUnits(ctx, units)
		if err != nil {
			return nil, resumed, err
		}

		c.transition(person, StateConsolidating, stg.ID)
		records := consolidate.Consolidate(stg, consolidate.FromExtraction(raw))

		if len(records) == 0 {
			if stg.Required {
				// A required stage that produced nothing is
				// checkpointed as failed, so a resumed run retries it
				// instead of replaying an empty success.
				c.checkpointStage(ctx, person, stg, i, core.CheckpointFailed, nil)
				record := c.requiredStageEmpty(person, stg, unitErrs)
				c.transition(person, StateFailed, stg.ID)
				return record, resumed, nil
			}
			c.checkpointStage(ctx, person, stg, i, core.CheckpointDone, nil)
			prior = nil
			continue
		}

		c.checkpointStage(ctx, person, stg, i, core.CheckpointDone, records)
		prior = records
	}

	c.transition(person, StateDone, "")
	return &core.PersonRecord{
		PersonName: person,
		Service:    c.service.Name,
		RunID:      c.runID,
		Status:     core.StatusOK,
		Records:    prior,
		EmittedAt:  time.Now().UTC(),
	}, resumed, nil
}

// buildUnits materializes a stage's work units. A non-nil terminal
// record means the person ends here without executing the stage.
func (c *Coordinator) buildUnits(ctx context.Context, index *retrieval.Index, stg *config.Stage, stageIndex int, person string, prior []core.ConsolidatedRecord) ([]stage.Unit, *core.PersonRecord, error) {
	if stg.Input != config.InputChunks {
		units := stage.UnitsFor(stg, person, nil, prior)
		if len(units) == 0 && stg.Required {
			return nil, c.insufficientRecord(person,
				fmt.Sprintf("stage %s has no input records", stg.ID)), nil
		}
		return units, nil, nil
	}

	selected, err := c.selectEvidence(ctx, index, stg, stageIndex, person)
	if err != nil {
		return nil, nil, err
	}

	units := stage.UnitsFor(stg, person, selected, nil)
	if len(units) > 0 {
		return units, nil, nil
	}

	// No evidence survived selection. A stage whose templates never
	// reference chunk material can still run once, and decides for
	// itself what no evidence means; anything else ends the person
	// here.
	if evidenceFree(stg) {
		return []stage.Unit{{
			PersonName: person,
			Stage:      stg,
			Vars:       map[string]string{"PERSON_NAME": person},
		}}, nil, nil
	}
	if stg.Required {
		return nil, c.insufficientRecord(person,
			fmt.Sprintf("no evidence chunks for stage %s", stg.ID)), nil
	}
	return nil, nil, nil
}

// selectEvidence embeds the stage query and runs the diverse selection.
// An empty corpus is a legitimate empty selection, not an error.
func (c *Coordinator) selectEvidence(ctx context.Context, index *retrieval.Index, stg *config.Stage, stageIndex int, person string) ([]retrieval.Scored, error) {
	queryText := config.Render(stg.Query, map[string]string{"PERSON_NAME": person})

	embedding, err := c.embedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	selected, err := c.selectors[stageIndex].Select(index, core.Query{
		PersonName: person,
		Purpose:    stg.Purpose,
		Embedding:  embedding,
	})
	if err != nil {
		if errors.Is(err, core.ErrEmptyCorpus) {
			return nil, nil
		}
		return nil, err
	}
	return selected, nil
}

// embedQuery retries transient embedding failures under the service's
// retry budget before giving the person up as a transient failure.
func (c *Coordinator) embedQuery(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	attempts := c.service.Defaults.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			timer := time.NewTimer(c.embedDelay << (attempt - 2))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		embedding, err := c.embedder.EmbedText(ctx, text)
		if err == nil {
			return embedding, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		c.logger.Debug("query embedding failed", "attempt", attempt, "err", err)
	}

	return nil, fmt.Errorf("%w: embed stage query: %w", core.ErrTransientCall, lastErr)
}

// executeUnits fans a stage's units out over the shared pool and
// collects results. Unit failures are contained and returned for the
// consolidation step to weigh; only run-aborting errors propagate.
func (c *Coordinator) executeUnits(ctx context.Context, units []stage.Unit) ([]*core.ExtractionRecord, []error, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		raw      []*core.ExtractionRecord
		unitErrs []error
	)

	for _, unit := range units {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			record, err := c.executor.Execute(ctx, unit)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unitErrs = append(unitErrs, err)
				return
			}
			raw = append(raw, record)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			unitErrs = append(unitErrs, fmt.Errorf("%w: submit unit: %w", core.ErrTransientCall, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	// A canceled run discards whatever the in-flight units produced.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	for _, err := range unitErrs {
		if errors.Is(err, core.ErrFatalConfig) {
			return nil, nil, err
		}
	}
	return raw, unitErrs, nil
}

// restoreStage rehydrates a completed stage from the checkpoint store.
func (c *Coordinator) restoreStage(ctx context.Context, person string, stageIndex int) ([]core.ConsolidatedRecord, bool) {
	if c.checkpoints == nil {
		return nil, false
	}

	cp, err := c.checkpoints.LoadStage(ctx, c.runID, c.service.Name, person, stageIndex)
	if err != nil || cp.Status != core.CheckpointDone {
		return nil, false
	}

	var records []core.ConsolidatedRecord
	if err := json.Unmarshal([]byte(cp.Payload), &records); err != nil {
		c.logger.Warn("discarding unreadable checkpoint",
			"person", person, "stage_index", stageIndex, "err", err)
		return nil, false
	}

	// A required stage can never complete with zero records; a
	// checkpoint claiming otherwise is stale and the stage runs again.
	if len(records) == 0 && c.service.Stages[stageIndex].Required {
		return nil, false
	}

	c.logger.Debug("stage restored from checkpoint",
		"person", person, "stage_index", stageIndex, "records", len(records))
	return records, true
}

// checkpointStage mirrors a stage outcome to the checkpoint store.
// Only CheckpointDone stages are skipped on resume; a failed stage
// runs again. Checkpointing is best-effort: a storage failure is
// logged, never fatal to the person.
func (c *Coordinator) checkpointStage(ctx context.Context, person string, stg *config.Stage, stageIndex int, status string, records []core.ConsolidatedRecord) {
	if c.checkpoints == nil {
		return
	}

	payload, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("checkpoint marshal failed", "person", person, "stage", stg.ID, "err", err)
		return
	}

	err = c.checkpoints.SaveStage(ctx, &core.StageCheckpoint{
		RunID:      c.runID,
		Service:    c.service.Name,
		PersonName: person,
		StageID:    stg.ID,
		StageIndex: stageIndex,
		Status:     status,
		Payload:    string(payload),
	})
	if err != nil {
		c.logger.Warn("checkpoint save failed", "person", person, "stage", stg.ID, "err", err)
	}
}

// requiredStageEmpty builds the terminal record for a required stage
// that consolidated to nothing. Unit failures make it an extraction
// failure with the accumulated reasons; units that ran clean but
// asserted nothing mean the evidence was not there.
func (c *Coordinator) requiredStageEmpty(person string, stg *config.Stage, unitErrs []error) *core.PersonRecord {
	if len(unitErrs) == 0 {
		return c.insufficientRecord(person,
			fmt.Sprintf("stage %s extracted no supported facts", stg.ID))
	}

	joined := errors.Join(unitErrs...)
	return &core.PersonRecord{
		PersonName:    person,
		Service:       c.service.Name,
		RunID:         c.runID,
		Status:        core.StatusExtractionFailed,
		FailureKind:   core.FailureKind(unitErrs[0]),
		FailureDetail: joined.Error(),
		EmittedAt:     time.Now().UTC(),
	}
}

func (c *Coordinator) failureRecord(person string, err error) *core.PersonRecord {
	return &core.PersonRecord{
		PersonName:    person,
		Service:       c.service.Name,
		RunID:         c.runID,
		Status:        core.StatusExtractionFailed,
		FailureKind:   core.FailureKind(err),
		FailureDetail: err.Error(),
		EmittedAt:     time.Now().UTC(),
	}
}

func (c *Coordinator) insufficientRecord(person, detail string) *core.PersonRecord {
	return &core.PersonRecord{
		PersonName:    person,
		Service:       c.service.Name,
		RunID:         c.runID,
		Status:        core.StatusInsufficientEvidence,
		FailureKind:   core.FailureEmptyCorpus,
		FailureDetail: detail,
		EmittedAt:     time.Now().UTC(),
	}
}

func (c *Coordinator) transition(person string, state State, stageID string) {
	if stageID == "" {
		c.logger.Debug("person state", "person", person, "state", state)
		return
	}
	c.logger.Debug("person state", "person", person, "state", state, "stage", stageID)
}

func terminalState(record *core.PersonRecord) State {
	if record.Status == core.StatusOK {
		return StateDone
	}
	return StateFailed
}

// isAbort reports whether an error must take the whole service run
// down rather than one person.
func isAbort(err error) bool {
	return errors.Is(err, core.ErrFatalConfig) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// evidenceFree reports whether a stage's templates reference no chunk
// material, meaning the stage can meaningfully run with an empty
// selection.
func evidenceFree(stg *config.Stage) bool {
	for _, tmpl := range []string{stg.System, stg.Prompt} {
		for _, name := range config.TemplateVars(tmpl) {
			switch name {
			case "CHUNK_TEXT", "CHUNK_ID", "SOURCE_URL":
				return false
			}
		}
	}
	return true
}
