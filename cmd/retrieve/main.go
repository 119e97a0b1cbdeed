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


// Command retrieve debugs evidence selection: it embeds a query,
// runs diverse selection over one person's chunks, and prints the
// picks with their scores and sources.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/poiesic/vitae/ai"
	"github.com/poiesic/vitae/ai/openai"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/retrieval"
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	corpusPath := flag.String("corpus", "corpus.jsonl", "corpus JSONL file")
	person := flag.String("person", "", "person to select for (required)")
	query := flag.String("query", "", "retrieval query text (required)")
	topK := flag.Int("top-k", 5, "number of chunks to select")
	maxPerSource := flag.Int("max-per-source", 2, "per-source diversity cap")
	floor := flag.Float64("min-similarity", 0.2, "similarity floor")
	flag.Parse()

	if *person == "" || *query == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*corpusPath, *person, *query, *topK, *maxPerSource, *floor); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(corpusPath, person, query string, topK, maxPerSource int, floor float64) error {
	ctx := context.Background()

	corpus, err := retrieval.LoadCorpus(corpusPath)
	if err != nil {
		return err
	}
	index, err := corpus.IndexFor(person)
	if err != nil {
		return err
	}

	aiConfig, err := ai.ConfigFromEnv()
	if err != nil {
		return err
	}
	if err := aiConfig.Validate(); err != nil {
		return err
	}
	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return err
	}

	embedding, err := embedder.EmbedText(ctx, query)
	if err != nil {
		return err
	}

	selector, err := retrieval.NewSelector(
		retrieval.WithTopK(topK),
		retrieval.WithMaxPerSource(maxPerSource),
		retrieval.WithSimilarityFloor(floor),
	)
	if err != nil {
		return err
	}

	picks, err := selector.SelectWithMonitor(index, core.Query{
		PersonName: person,
		Purpose:    "debug",
		Embedding:  embedding,
	}, &tracer{})
	if err != nil {
		return err
	}

	fmt.Printf("Selected %d of %d chunks for %q\n", len(picks), index.Len(), person)
	for i, pick := range picks {
		fmt.Printf("%d: [%0.3f] %s (%s)\n   %s\n",
			i, pick.Score, pick.Chunk.ChunkID, pick.Chunk.Source(), snippet(pick.Chunk.Text, 120))
	}
	return nil
}

// tracer prints the selection stages as they happen.
type tracer struct{}

func (t *tracer) Start(person, purpose string) {
	fmt.Printf("selecting for %s (%s)\n", person, purpose)
}

func (t *tracer) AfterRanking(ranked []retrieval.Scored) {
	fmt.Printf("ranked %d chunks above the floor\n", len(ranked))
}

func (t *tracer) CapRelaxed(newCap, selected int) {
	fmt.Printf("per-source cap relaxed to %d with %d selected\n", newCap, selected)
}

func (t *tracer) Finish(selected []retrieval.Scored) {}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
