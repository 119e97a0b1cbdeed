package core

import (
	"slices"
	"testing"
)

func chunkForTest(id, url string) *Chunk {
	return &Chunk{
		ChunkID:    id,
		PersonName: "Test Person",
		SourceURL:  url,
		Text:       "text",
		Embedding:  []float32{0.1},
	}
}

func TestProvenance_AddChunk(t *testing.T) {
	var p Provenance
	p.AddChunk(chunkForTest("b_02", "https://www.example.com/b"))
	p.AddChunk(chunkForTest("a_01", "https://archive.org/a"))
	p.AddChunk(chunkForTest("a_01", "https://archive.org/a")) // duplicate

	wantChunks := []string{"a_01", "b_02"}
	if !slices.Equal(p.ChunkIDs, wantChunks) {
		t.Errorf("ChunkIDs = %v, want sorted deduped %v", p.ChunkIDs, wantChunks)
	}

	wantURLs := []string{"https://archive.org/a", "https://www.example.com/b"}
	if !slices.Equal(p.URLs, wantURLs) {
		t.Errorf("URLs = %v, want %v", p.URLs, wantURLs)
	}
}

func TestProvenance_UnionOnlyGrows(t *testing.T) {
	a := ProvenanceFromChunks(
		chunkForTest("k_01", "https://site-a.org/1"),
		chunkForTest("k_02", "https://site-b.org/2"),
	)
	b := ProvenanceFromChunks(
		chunkForTest("k_02", "https://site-b.org/2"),
		chunkForTest("k_03", "https://site-c.org/3"),
	)

	before := a.Clone()
	a.Union(b)

	for _, id := range before.ChunkIDs {
		if !a.ContainsChunk(id) {
			t.Errorf("union dropped chunk %s", id)
		}
	}
	for _, id := range b.ChunkIDs {
		if !a.ContainsChunk(id) {
			t.Errorf("union missing chunk %s from other", id)
		}
	}
	if len(a.ChunkIDs) != 3 {
		t.Errorf("union size = %d, want 3", len(a.ChunkIDs))
	}

	// other side unchanged
	if len(b.ChunkIDs) != 2 {
		t.Errorf("union mutated other: %v", b.ChunkIDs)
	}
}

func TestProvenance_Sources(t *testing.T) {
	p := ProvenanceFromChunks(
		chunkForTest("c1", "https://www.example.com/page-one"),
		chunkForTest("c2", "https://example.com/page-two"),
		chunkForTest("c3", "https://other.net/x"),
	)

	got := p.Sources()
	want := []string{"example.com", "other.net"}
	if !slices.Equal(got, want) {
		t.Errorf("Sources() = %v, want %v", got, want)
	}
}

func TestProvenance_CloneIndependent(t *testing.T) {
	p := ProvenanceFromChunks(chunkForTest("c1", "https://a.org/1"))
	c := p.Clone()
	c.AddChunk(chunkForTest("c2", "https://b.org/2"))

	if p.ContainsChunk("c2") {
		t.Error("mutating clone leaked into original")
	}
	if !c.ContainsChunk("c1") || !c.ContainsChunk("c2") {
		t.Errorf("clone incomplete: %v", c.ChunkIDs)
	}
}

func TestProvenance_Empty(t *testing.T) {
	var p Provenance
	if !p.Empty() {
		t.Error("zero provenance should be empty")
	}
	p.AddChunk(chunkForTest("c1", ""))
	if p.Empty() {
		t.Error("provenance with a chunk should not be empty")
	}
}
