package retrieval

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/vitae/core"
)

// Scored pairs a chunk with its similarity to a query.
type Scored struct {
	Chunk *core.Chunk
	Score float64
}

// Index is an in-memory vector index over one person's corpus.
// It is read-only after construction and safe for concurrent queries.
type Index struct {
	chunks []core.Chunk
	dim    int
	logger *slog.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index) error

// WithIndexLogger sets a custom logger.
// Default is slog.Default().
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(idx *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		idx.logger = logger
		return nil
	}
}

// NewIndex builds an index over the given chunks. Every chunk is
// validated; duplicate chunk IDs and mismatched embedding dimensions
// are rejected. The chunks are copied, so later mutation of the input
// slice does not affect the index.
//
// An empty corpus is accepted: the index loads, but queries against it
// return core.ErrEmptyCorpus.
func NewIndex(chunks []core.Chunk, opts ...IndexOption) (*Index, error) {
	idx := &Index{
		chunks: make([]core.Chunk, 0, len(chunks)),
		logger: slog.Default().With("component", "retrieval-index"),
	}

	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		if err := core.ValidateChunk(&chunk); err != nil {
			return nil, err
		}
		if _, dup := seen[chunk.ChunkID]; dup {
			return nil, fmt.Errorf("%w: %s", core.ErrDuplicateChunk, chunk.ChunkID)
		}
		seen[chunk.ChunkID] = struct{}{}

		if idx.dim == 0 {
			idx.dim = len(chunk.Embedding)
		} else if len(chunk.Embedding) != idx.dim {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, corpus has %d",
				ErrDimensionMismatch, chunk.ChunkID, len(chunk.Embedding), idx.dim)
		}

		idx.chunks = append(idx.chunks, chunk)
	}

	// Keep a canonical order so scans are deterministic regardless of
	// input order.
	slices.SortFunc(idx.chunks, func(a, b core.Chunk) int {
		return strings.Compare(a.ChunkID, b.ChunkID)
	})

	idx.logger.Debug("index built", "chunks", len(idx.chunks), "dimensions", idx.dim)
	return idx, nil
}

// Len returns the number of chunks in the index.
func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Dimensions returns the embedding width of the corpus, 0 when empty.
func (idx *Index) Dimensions() int {
	return idx.dim
}

// QueryOption configures a single query.
type QueryOption func(*querySettings)

type querySettings struct {
	minSimilarity float64
	filter        func(*core.Chunk) bool
}

// WithMinSimilarity drops candidates scoring below the threshold before
// ranking.
func WithMinSimilarity(min float64) QueryOption {
	return func(qs *querySettings) {
		qs.minSimilarity = min
	}
}

// WithFilter restricts the query to chunks the predicate accepts.
func WithFilter(filter func(*core.Chunk) bool) QueryOption {
	return func(qs *querySettings) {
		qs.filter = filter
	}
}

// Query ranks the corpus against the embedding by cosine similarity and
// returns up to topK results, highest first. Score ties break by chunk
// ID ascending, so identical inputs always rank identically.
//
// Returns core.ErrEmptyCorpus when the index holds no chunks.
func (idx *Index) Query(embedding []float32, topK int, opts ...QueryOption) ([]Scored, error) {
	if len(idx.chunks) == 0 {
		return nil, core.ErrEmptyCorpus
	}
	if len(embedding) == 0 {
		return nil, ErrNoQueryEmbedding
	}
	if len(embedding) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, corpus has %d",
			ErrDimensionMismatch, len(embedding), idx.dim)
	}
	if topK <= 0 {
		return []Scored{}, nil
	}

	var qs querySettings
	for _, opt := range opts {
		opt(&qs)
	}

	scored := make([]Scored, 0, len(idx.chunks))
	for i := range idx.chunks {
		chunk := &idx.chunks[i]
		if qs.filter != nil && !qs.filter(chunk) {
			continue
		}
		score := cosineSimilarity(embedding, chunk.Embedding)
		if score < qs.minSimilarity {
			continue
		}
		scored = append(scored, Scored{Chunk: chunk, Score: score})
	}

	slices.SortFunc(scored, compareScored)

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// compareScored orders by score descending, then chunk ID ascending.
func compareScored(a, b Scored) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	default:
		return strings.Compare(a.Chunk.ChunkID, b.Chunk.ChunkID)
	}
}
