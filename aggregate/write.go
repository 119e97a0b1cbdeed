package aggregate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/poiesic/vitae/core"
)

// fieldSources is one field's citation set in the sources sidecar.
type fieldSources struct {
	Service  string   `json:"service"`
	ChunkIDs []string `json:"source_chunk_ids,omitempty"`
	URLs     []string `json:"source_urls,omitempty"`
}

// personSources is one sidecar line.
type personSources struct {
	PersonID string                  `json:"person_id"`
	Fields   map[string]fieldSources `json:"fields"`
}

// WriteProfiles rebuilds the profile file whole: one profile per line,
// plus a sources sidecar mapping every field to its citations. A
// profile file is never appended to; each aggregation run replaces it.
func WriteProfiles(path string, profiles []core.PersonProfile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("profile dir: %w", err)
	}

	if err := writeLines(path, len(profiles), func(i int) (any, error) {
		return profiles[i], nil
	}); err != nil {
		return err
	}

	return writeLines(sourcesPath(path), len(profiles), func(i int) (any, error) {
		return sidecarLine(&profiles[i]), nil
	})
}

func writeLines(path string, n int, line func(int) (any, error)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		v, err := line(i)
		if err != nil {
			f.Close()
			return err
		}
		if err := enc.Encode(v); err != nil {
			f.Close()
			return fmt.Errorf("encode %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sidecarLine(profile *core.PersonProfile) personSources {
	out := personSources{
		PersonID: profile.PersonID,
		Fields:   make(map[string]fieldSources, len(profile.Fields)),
	}
	for name, field := range profile.Fields {
		out.Fields[name] = fieldSources{
			Service:  field.Service,
			ChunkIDs: slices.Clone(field.Provenance.ChunkIDs),
			URLs:     slices.Clone(field.Provenance.URLs),
		}
	}
	return out
}

// ReadProfiles loads a profile file back, for inspection tooling.
func ReadProfiles(path string) ([]core.PersonProfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()

	var profiles []core.PersonProfile
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 32*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var p core.PersonProfile
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			return nil, fmt.Errorf("profiles %s line %d: %w", path, lineNo, err)
		}
		profiles = append(profiles, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}
