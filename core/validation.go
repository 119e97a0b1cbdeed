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

import "fmt"

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - ChunkID, PersonName and Text must not be empty
//   - Embedding must be present (chunks arrive pre-embedded)
//
// NOT validated:
//   - SourceURL (a chunk may come from an unattributed source)
//   - SourceID (derived from SourceURL when absent)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.ChunkID == "" {
		return fmt.Errorf("%w: empty chunk id", ErrInvalidChunk)
	}

	if chunk.PersonName == "" {
		return fmt.Errorf("%w: chunk %s has no person name", ErrInvalidChunk, chunk.ChunkID)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: chunk %s has no text", ErrInvalidChunk, chunk.ChunkID)
	}

	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("%w: chunk %s has no embedding", ErrInvalidChunk, chunk.ChunkID)
	}

	return nil
}

// ValidateExtractionRecord validates an ExtractionRecord's shape.
//
// Validation rules:
//   - PersonName and StageID must not be empty
//   - Fields must be non-nil
//   - Confidence must be within [0, 1]
//
// Provenance emptiness is not checked here: whether a record may cite
// no chunks depends on the stage's field declarations, which the
// consolidation step knows and this package does not.
func ValidateExtractionRecord(record *ExtractionRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if record.PersonName == "" {
		return fmt.Errorf("%w: empty person name", ErrInvalidRecord)
	}

	if record.StageID == "" {
		return fmt.Errorf("%w: empty stage id", ErrInvalidRecord)
	}

	if record.Fields == nil {
		return fmt.Errorf("%w: nil fields", ErrInvalidRecord)
	}

	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidRecord, record.Confidence)
	}

	return nil
}
