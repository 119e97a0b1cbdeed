package retrieval

import (
	"log/slog"
	"slices"

	"github.com/poiesic/vitae/core"
)

// Selection defaults, matching the values the extraction services were
// tuned with.
const (
	DefaultTopK          = 3
	DefaultMaxPerSource  = 2
	DefaultMinSimilarity = 0.2
)

// Selector picks the evidence set for a stage: the top-k most similar
// chunks, spread across sources so a single domain cannot dominate.
//
// The scan is greedy over the ranked candidates: a chunk is taken
// unless its source already holds max-per-source picks. When a full
// scan leaves the selection short and candidates remain, the per-source
// cap is raised by one and the scan repeats. Diversity is therefore a
// preference, never a reason to return fewer chunks than the corpus
// can supply.
type Selector struct {
	topK          int
	maxPerSource  int
	minSimilarity float64
	logger        *slog.Logger
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector) error

// WithTopK sets how many chunks to select.
// Default is DefaultTopK.
func WithTopK(k int) SelectorOption {
	return func(s *Selector) error {
		if k > 0 {
			s.topK = k
		}
		return nil
	}
}

// WithMaxPerSource sets the per-source cap before relaxation.
// Default is DefaultMaxPerSource.
func WithMaxPerSource(max int) SelectorOption {
	return func(s *Selector) error {
		if max > 0 {
			s.maxPerSource = max
		}
		return nil
	}
}

// WithSimilarityFloor drops candidates scoring below the threshold.
// Default is DefaultMinSimilarity.
func WithSimilarityFloor(min float64) SelectorOption {
	return func(s *Selector) error {
		s.minSimilarity = min
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSelector creates a selector with the given options.
func NewSelector(opts ...SelectorOption) (*Selector, error) {
	s := &Selector{
		topK:          DefaultTopK,
		maxPerSource:  DefaultMaxPerSource,
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default().With("component", "retrieval-selector"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Select ranks the index against the query and returns the diverse
// top-k evidence set, ordered by score descending with ties broken by
// chunk ID ascending.
func (s *Selector) Select(index *Index, query core.Query) ([]Scored, error) {
	return s.SelectWithMonitor(index, query, nil)
}

// SelectWithMonitor runs Select with observation hooks.
// The monitor receives callbacks at each phase of the selection.
func (s *Selector) SelectWithMonitor(index *Index, query core.Query, monitor SelectionMonitor) ([]Scored, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	monitor.Start(query.PersonName, query.Purpose)

	// Rank the whole corpus: the diversity scan may need to reach past
	// the first top-k when sources repeat.
	ranked, err := index.Query(query.Embedding, index.Len(), WithMinSimilarity(s.minSimilarity))
	if err != nil {
		s.logger.Error("ranking failed", "person", query.PersonName, "err", err)
		return nil, err
	}
	monitor.AfterRanking(ranked)

	if len(ranked) == 0 {
		s.logger.Debug("no candidates above similarity floor",
			"person", query.PersonName,
			"floor", s.minSimilarity)
		monitor.Finish(nil)
		return []Scored{}, nil
	}

	selected := make([]Scored, 0, s.topK)
	taken := make(map[string]bool, s.topK)
	perSource := make(map[string]int)
	sourceCap := s.maxPerSource

	for len(selected) < s.topK && len(selected) < len(ranked) {
		for _, cand := range ranked {
			if len(selected) >= s.topK {
				break
			}
			if taken[cand.Chunk.ChunkID] {
				continue
			}
			source := cand.Chunk.Source()
			if perSource[source] >= sourceCap {
				continue
			}
			taken[cand.Chunk.ChunkID] = true
			perSource[source]++
			selected = append(selected, cand)
		}

		if len(selected) >= s.topK || len(selected) == len(ranked) {
			break
		}

		// Short of top-k with candidates left: every remaining chunk
		// sits behind the cap, so raise it and scan again.
		sourceCap++
		monitor.CapRelaxed(sourceCap, len(selected))
		s.logger.Debug("per-source cap relaxed",
			"person", query.PersonName,
			"cap", sourceCap,
			"selected", len(selected))
	}

	// Later passes append lower-ranked chunks behind earlier picks;
	// re-sort so callers always see score order.
	slices.SortFunc(selected, compareScored)

	monitor.Finish(selected)
	return selected, nil
}
