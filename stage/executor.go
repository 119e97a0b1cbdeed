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


package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/poiesic/vitae/ai"
	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
)

// Retry envelope defaults.
const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultTimeout    = 60 * time.Second
)

// Option configures an Executor.
type Option func(*Executor) error

// WithMaxRetries sets how many times a failed attempt is retried.
// Total attempts are 1+n.
func WithMaxRetries(n int) Option {
	return func(e *Executor) error {
		if n < 0 {
			return ErrInvalidMaxRetries
		}
		e.maxRetries = n
		return nil
	}
}

// WithBaseDelay sets the first retry delay. It doubles per retry, with
// jitter.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Executor) error {
		if d <= 0 {
			return ErrInvalidDelay
		}
		e.baseDelay = d
		return nil
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) error {
		if d <= 0 {
			return ErrInvalidTimeout
		}
		e.timeout = d
		return nil
	}
}

// WithLogger sets the logger for attempt auditing.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) error {
		e.logger = logger
		return nil
	}
}

// Executor runs stage units against a completer with typed retries.
// Transient call failures retry after exponential backoff with jitter.
// Validation failures retry with a stricter re-prompt naming the exact
// keys the schema expects. Fatal configuration errors abort
// immediately and are never retried.
type Executor struct {
	completer  ai.Completer
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// NewExecutor creates an executor around a completer.
func NewExecutor(completer ai.Completer, opts ...Option) (*Executor, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}

	e := &Executor{
		completer:  completer,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "stage-executor")
	}

	return e, nil
}

// Execute runs one unit to completion or retry exhaustion. The
// returned error is typed: after exhaustion it wraps
// core.ErrTransientCall or core.ErrValidation (whichever ended the
// last attempt); core.ErrFatalConfig returns immediately; a canceled
// run returns the context error. A built record that fails shape
// validation returns core.ErrInvalidRecord. Failed units are reported
// to the caller for recording, sibling units are unaffected.
func (e *Executor) Execute(ctx context.Context, unit Unit) (*core.ExtractionRecord, error) {
	stg := unit.Stage
	if stg == nil {
		return nil, fmt.Errorf("%w: unit carries no stage", core.ErrFatalConfig)
	}

	system := config.Render(stg.System, unit.Vars)
	basePrompt := config.Render(stg.Prompt, unit.Vars)
	prompt := basePrompt

	attempts := e.maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if attempt > 1 {
			delay := e.backoff(attempt - 1)
			e.logger.Debug("retrying stage unit",
				"person", unit.PersonName,
				"stage", stg.ID,
				"attempt", attempt,
				"delay", delay,
				"err", lastErr)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		fields, err := e.attempt(ctx, unit, system, prompt)
		if err == nil {
			record := e.buildRecord(unit, fields)
			if verr := core.ValidateExtractionRecord(record); verr != nil {
				return nil, verr
			}
			if attempt > 1 {
				e.logger.Debug("stage unit succeeded after retry",
					"person", unit.PersonName, "stage", stg.ID, "attempt", attempt)
			}
			return record, nil
		}

		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, core.ErrFatalConfig):
			return nil, err
		case errors.Is(err, core.ErrValidation):
			prompt = strictPrompt(basePrompt, stg, err)
		}
		lastErr = err

		e.logger.Info("stage attempt failed",
			"person", unit.PersonName,
			"stage", stg.ID,
			"attempt", attempt,
			"max_attempts", attempts,
			"kind", core.FailureKind(err),
			"err", err)
	}

	return nil, lastErr
}

// attempt performs one bounded completion call and parses the result.
func (e *Executor) attempt(ctx context.Context, unit Unit, system, prompt string) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	response, err := e.completer.Complete(attemptCtx, ai.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: unit.Stage.Temperature,
		MaxTokens:   unit.Stage.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		return nil, e.classify(ctx, attemptCtx, err)
	}

	return ParseResponse(unit.Stage, response)
}

// classify maps completer failures onto the engine's error taxonomy.
// Unknown provider errors count as transient: the provider boundary
// already separates out configuration problems.
func (e *Executor) classify(ctx, attemptCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case attemptCtx.Err() != nil:
		// The per-attempt budget expired while the run context is
		// still live.
		return fmt.Errorf("%w: attempt timed out after %s", core.ErrTransientCall, e.timeout)
	case errors.Is(err, core.ErrFatalConfig):
		return err
	case errors.Is(err, ai.ErrEmptyResponse):
		return fmt.Errorf("%w: %w", core.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrTransientCall, err)
	}
}

// backoff returns the delay before the given retry: the base delay
// doubled per retry, jittered to between half and one and a half times
// the nominal value.
func (e *Executor) backoff(retry int) time.Duration {
	delay := e.baseDelay << (retry - 1)
	if delay <= 0 {
		return 0
	}
	return delay/2 + time.Duration(rand.Int64N(int64(delay)+1))
}

// buildRecord assembles the extraction record for a successful unit.
// A declared confidence field is lifted out of the payload; otherwise
// the unit's retrieval similarity stands in.
func (e *Executor) buildRecord(unit Unit, fields map[string]any) *core.ExtractionRecord {
	confidence := unit.Similarity
	if unit.Stage.HasConfidenceField() {
		if value, ok := fields["confidence"]; ok {
			if f, ok := toFloat(value); ok {
				confidence = f
			}
			delete(fields, "confidence")
		}
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	merged := fields
	if len(unit.Carried) > 0 {
		merged = make(map[string]any, len(unit.Carried)+len(fields))
		for k, v := range unit.Carried {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	return &core.ExtractionRecord{
		PersonName: unit.PersonName,
		StageID:    unit.Stage.ID,
		Fields:     merged,
		Confidence: confidence,
		Provenance: unit.Provenance.Clone(),
	}
}

// strictPrompt appends a hard format instruction after a validation
// failure, naming the exact keys the schema expects.
func strictPrompt(basePrompt string, stg *config.Stage, cause error) string {
	keys := strings.Join(stg.FieldNames(), ", ")
	return basePrompt +
		"\n\nYour previous reply was rejected: " + cause.Error() +
		"\nReply with exactly one JSON object with the keys: " + keys +
		". No prose, no markdown fences, no other keys."
}
