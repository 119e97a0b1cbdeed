package core

import (
	"slices"
)

// Provenance tracks which chunks and source URLs support a record.
// Both sets are kept sorted and deduplicated. Provenance only ever
// grows: merges union, nothing subtracts.
type Provenance struct {
	ChunkIDs []string `json:"source_chunk_ids"`
	URLs     []string `json:"source_urls"`
}

// ProvenanceFromChunks builds provenance covering the given chunks.
func ProvenanceFromChunks(chunks ...*Chunk) Provenance {
	var p Provenance
	for _, c := range chunks {
		p.AddChunk(c)
	}
	return p
}

// AddChunk records a chunk and its source URL.
func (p *Provenance) AddChunk(c *Chunk) {
	if c == nil {
		return
	}
	p.ChunkIDs = insertSorted(p.ChunkIDs, c.ChunkID)
	if c.SourceURL != "" {
		p.URLs = insertSorted(p.URLs, c.SourceURL)
	}
}

// Union merges other into p. The receiver grows; other is unchanged.
func (p *Provenance) Union(other Provenance) {
	for _, id := range other.ChunkIDs {
		p.ChunkIDs = insertSorted(p.ChunkIDs, id)
	}
	for _, u := range other.URLs {
		p.URLs = insertSorted(p.URLs, u)
	}
}

// Clone returns an independent copy.
func (p Provenance) Clone() Provenance {
	return Provenance{
		ChunkIDs: slices.Clone(p.ChunkIDs),
		URLs:     slices.Clone(p.URLs),
	}
}

// Empty reports whether the provenance cites no chunks.
func (p Provenance) Empty() bool {
	return len(p.ChunkIDs) == 0
}

// ContainsChunk reports whether the given chunk ID is cited.
func (p Provenance) ContainsChunk(chunkID string) bool {
	_, found := slices.BinarySearch(p.ChunkIDs, chunkID)
	return found
}

// Sources returns the distinct source identities behind the cited URLs,
// sorted. This is the independence count used for corroboration.
func (p Provenance) Sources() []string {
	var out []string
	for _, u := range p.URLs {
		out = insertSorted(out, SourceIDFromURL(u))
	}
	return out
}

func insertSorted(set []string, v string) []string {
	if v == "" {
		return set
	}
	i, found := slices.BinarySearch(set, v)
	if found {
		return set
	}
	return slices.Insert(set, i, v)
}
