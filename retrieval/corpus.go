package retrieval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/poiesic/vitae/core"
)

// Embedded chunk lines routinely exceed bufio's default 64KB limit,
// so the corpus scanner gets a 32MB ceiling.
const maxCorpusLine = 32 * 1024 * 1024

// Corpus holds every person's chunks from one corpus file.
type Corpus struct {
	byPerson map[string][]core.Chunk
}

// LoadCorpus reads a JSONL corpus file of pre-embedded chunks and
// groups them by person name. Blank lines are skipped; a malformed
// line fails the load with its line number.
func LoadCorpus(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	corpus, err := ReadCorpus(f)
	if err != nil {
		return nil, fmt.Errorf("corpus %s: %w", path, err)
	}
	return corpus, nil
}

// ReadCorpus parses chunk JSONL from a reader.
func ReadCorpus(r io.Reader) (*Corpus, error) {
	corpus := &Corpus{byPerson: make(map[string][]core.Chunk)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxCorpusLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk core.Chunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := core.ValidateChunk(&chunk); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		corpus.byPerson[chunk.PersonName] = append(corpus.byPerson[chunk.PersonName], chunk)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
	}

	return corpus, nil
}

// People returns every person name in the corpus, sorted.
func (c *Corpus) People() []string {
	people := make([]string, 0, len(c.byPerson))
	for person := range c.byPerson {
		people = append(people, person)
	}
	sort.Strings(people)
	return people
}

// Chunks returns the chunks for a person. The result is nil for an
// unknown person; an unknown person is an empty corpus, not an error.
func (c *Corpus) Chunks(person string) []core.Chunk {
	return c.byPerson[person]
}

// Len returns the total chunk count across all people.
func (c *Corpus) Len() int {
	total := 0
	for _, chunks := range c.byPerson {
		total += len(chunks)
	}
	return total
}

// IndexFor builds a per-person index over the person's chunks.
// Unknown people yield an empty index; its queries report
// core.ErrEmptyCorpus.
func (c *Corpus) IndexFor(person string, opts ...IndexOption) (*Index, error) {
	return NewIndex(c.byPerson[person], opts...)
}
