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


package core

import "errors"

// Failure taxonomy. Stage execution and pipeline code classify every
// failure into exactly one of these so retry policy and terminal
// reporting stay consistent.
var (
	// ErrEmptyCorpus indicates a person's corpus contains no chunks.
	// It is a terminal per-person condition, not a run failure.
	ErrEmptyCorpus = errors.New("corpus has no chunks")

	// ErrTransientCall indicates a model call failed for reasons worth
	// retrying: timeouts, connection resets, rate limits, 5xx responses.
	ErrTransientCall = errors.New("transient model call failure")

	// ErrValidation indicates a model response parsed but did not
	// conform to the stage's declared field set. Retryable with a
	// stricter re-prompt.
	ErrValidation = errors.New("response validation failed")

	// ErrFatalConfig indicates a malformed stage definition: unknown
	// template variables, empty field sets, bad input modes. Never
	// retried; aborts the service run.
	ErrFatalConfig = errors.New("fatal configuration error")

	// ErrMissingServiceOutput indicates aggregation found no output for
	// a person from a service. Recorded per person, never fatal.
	ErrMissingServiceOutput = errors.New("missing service output")
)

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrDuplicateChunk indicates two chunks in one corpus share an ID.
	ErrDuplicateChunk = errors.New("duplicate chunk id")

	// ErrInvalidRecord indicates an ExtractionRecord failed validation.
	ErrInvalidRecord = errors.New("invalid extraction record")
)

// Failure kinds as written to service output rows.
const (
	FailureTransientCall        = "TransientCallError"
	FailureValidation           = "ValidationError"
	FailureFatalConfig          = "FatalConfigError"
	FailureEmptyCorpus          = "EmptyCorpusError"
	FailureMissingServiceOutput = "MissingServiceOutputError"
	FailureUnknown              = "UnknownError"
)

// FailureKind maps an error to its wire kind. A nil error maps to "".
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransientCall):
		return FailureTransientCall
	case errors.Is(err, ErrValidation):
		return FailureValidation
	case errors.Is(err, ErrFatalConfig):
		return FailureFatalConfig
	case errors.Is(err, ErrEmptyCorpus):
		return FailureEmptyCorpus
	case errors.Is(err, ErrMissingServiceOutput):
		return FailureMissingServiceOutput
	default:
		return FailureUnknown
	}
}
