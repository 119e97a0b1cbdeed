package core

import (
	"encoding/binary"
	"net/url"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing so identical content
// produces identical IDs across runs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Chunk is one pre-embedded passage of source text about a person.
// Chunks are immutable once loaded into an index.
type Chunk struct {
	ChunkID    string    `json:"chunk_id"`
	PersonName string    `json:"person_name"`
	SourceURL  string    `json:"source_url"`
	SourceID   string    `json:"source_id,omitempty"` // defaults to the domain of SourceURL
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
}

// Source returns the chunk's source identity, deriving it from the
// source URL when no explicit SourceID was set.
func (c *Chunk) Source() string {
	if c.SourceID != "" {
		return c.SourceID
	}
	return SourceIDFromURL(c.SourceURL)
}

// SourceIDFromURL reduces a URL to its source identity: the lowercased
// hostname with any "www." prefix stripped. Two URLs on the same domain
// count as the same source for diversity and corroboration purposes.
func SourceIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		// Not a parseable URL; fall back to the raw string so distinct
		// opaque sources still count as distinct.
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Query is an embedded retrieval query for one person and one purpose.
type Query struct {
	PersonName string
	Purpose    string
	Embedding  []float32
}

// ExtractionRecord is the raw output of a single successful stage
// invocation, before consolidation.
type ExtractionRecord struct {
	PersonName string         `json:"person_name"`
	StageID    string         `json:"stage_id"`
	Fields     map[string]any `json:"fields"`
	Confidence float64        `json:"confidence"`
	Provenance Provenance     `json:"provenance"`
}

// Alternative is a conflicting value that lost a consolidation merge.
// Losers are retained with their own provenance, never discarded.
type Alternative struct {
	Field      string     `json:"field"`
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// Corroboration outcomes, ordered roughly by evidential strength.
const (
	OutcomeVerified             = "verified"
	OutcomeConflictResolved     = "conflict_resolved"
	OutcomeNoCorroboration      = "no_corroboration"
	OutcomeConflictInconclusive = "conflict_inconclusive"
	OutcomeNoEvidence           = "no_evidence"
)

// Corroboration summarizes how well a consolidated record is supported
// by independent sources.
type Corroboration struct {
	IndependentSources int    `json:"independent_sources"`
	Outcome            string `json:"outcome"`
}

// ConsolidatedRecord is a deduplicated, merged fact produced by a
// consolidation step. It supersedes the raw records it merged.
type ConsolidatedRecord struct {
	Id            ID             `json:"id"`
	PersonName    string         `json:"person_name"`
	StageID       string         `json:"stage_id"`
	Fields        map[string]any `json:"fields"`
	Confidence    float64        `json:"confidence"`
	Provenance    Provenance     `json:"provenance"`
	Alternatives  []Alternative  `json:"alternatives,omitempty"`
	Corroboration *Corroboration `json:"corroboration,omitempty"`
}

// Person terminal statuses as written to service output.
const (
	StatusOK                   = "ok"
	StatusInsufficientEvidence = "insufficient_evidence"
	StatusExtractionFailed     = "extraction_failed"
)

// PersonRecord is one service-output row: the terminal result of running
// a service pipeline for one person. Every person reaches exactly one
// terminal record per run, including failures.
type PersonRecord struct {
	PersonName    string               `json:"person_name"`
	Service       string               `json:"service"`
	RunID         string               `json:"run_id"`
	Status        string               `json:"status"`
	FailureKind   string               `json:"failure_kind,omitempty"`
	FailureDetail string               `json:"failure_detail,omitempty"`
	Records       []ConsolidatedRecord `json:"records"`
	EmittedAt     time.Time            `json:"emitted_at"`
}

// Checkpoint statuses for a (run, service, person, stage) tuple.
const (
	CheckpointDone   = "done"
	CheckpointFailed = "failed"
)

// StageCheckpoint records a completed consolidation for crash recovery.
// Payload carries the stage's consolidated records as JSON so a resumed
// run can rehydrate them without re-invoking the model.
type StageCheckpoint struct {
	RunID      string
	Service    string
	PersonName string
	StageID    string
	StageIndex int
	Status     string
	UpdatedAt  time.Time
	Payload    string
}

// NormalizePersonID converts a display name to a stable person key:
// lowercased, with whitespace runs collapsed to single underscores.
func NormalizePersonID(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}
