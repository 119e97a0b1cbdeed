package stage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/retrieval"
)

// maxChunkRunes caps how much chunk text a single prompt receives.
const maxChunkRunes = 3000

// Unit is one executable invocation of a stage for one person. Units
// are value types; building them performs no I/O.
type Unit struct {
	PersonName string
	Stage      *config.Stage

	// Vars feeds the stage's prompt templates.
	Vars map[string]string

	// Provenance identifies the evidence behind the unit.
	Provenance core.Provenance

	// Similarity is the retrieval score (or prior-stage confidence)
	// backing the unit. It becomes the record confidence when the
	// stage declares no confidence field.
	Similarity float64

	// Carried holds the previous stage's fields for record-fed
	// stages; the response fields merge onto them.
	Carried map[string]any
}

// UnitsFor materializes a stage's work units from its input mode.
// Chunk-fed stages take the diverse selection, record-fed and combined
// stages take the previous stage's consolidated output. A combined
// stage with nothing to combine yields no units.
func UnitsFor(stg *config.Stage, person string, selected []retrieval.Scored, prior []core.ConsolidatedRecord) []Unit {
	switch stg.Input {
	case config.InputChunks:
		return ChunkUnits(stg, person, selected)
	case config.InputRecords:
		return RecordUnits(stg, person, prior)
	case config.InputCombined:
		if len(prior) == 0 {
			return nil
		}
		return []Unit{CombinedUnit(stg, person, prior)}
	}
	return nil
}

// ChunkUnits builds one unit per selected chunk.
func ChunkUnits(stg *config.Stage, person string, selected []retrieval.Scored) []Unit {
	units := make([]Unit, 0, len(selected))
	for _, s := range selected {
		chunk := s.Chunk
		units = append(units, Unit{
			PersonName: person,
			Stage:      stg,
			Vars: map[string]string{
				"PERSON_NAME": person,
				"CHUNK_TEXT":  truncateRunes(chunk.Text, maxChunkRunes),
				"CHUNK_ID":    chunk.ChunkID,
				"SOURCE_URL":  chunk.SourceURL,
			},
			Provenance: core.ProvenanceFromChunks(chunk),
			Similarity: s.Score,
		})
	}
	return units
}

// RecordUnits builds one unit per consolidated record of the previous
// stage. Each field is exposed as an uppercased template variable, the
// whole record as {{RECORD}}.
func RecordUnits(stg *config.Stage, person string, prior []core.ConsolidatedRecord) []Unit {
	units := make([]Unit, 0, len(prior))
	for i := range prior {
		rec := &prior[i]

		vars := map[string]string{
			"PERSON_NAME": person,
			"RECORD":      compactJSON(rec.Fields),
		}
		carried := make(map[string]any, len(rec.Fields))
		for name, value := range rec.Fields {
			vars[strings.ToUpper(name)] = formatValue(value)
			carried[name] = value
		}

		units = append(units, Unit{
			PersonName: person,
			Stage:      stg,
			Vars:       vars,
			Provenance: rec.Provenance.Clone(),
			Similarity: rec.Confidence,
			Carried:    carried,
		})
	}
	return units
}

// CombinedUnit builds the single per-person unit over the previous
// stage's consolidated records, rendered one per line as {{RECORDS}}.
func CombinedUnit(stg *config.Stage, person string, prior []core.ConsolidatedRecord) Unit {
	var prov core.Provenance
	similarity := 0.0
	lines := make([]string, 0, len(prior))

	for i := range prior {
		rec := &prior[i]
		prov.Union(rec.Provenance)
		if rec.Confidence > similarity {
			similarity = rec.Confidence
		}
		lines = append(lines, "- "+recordLine(rec.Fields))
	}

	return Unit{
		PersonName: person,
		Stage:      stg,
		Vars: map[string]string{
			"PERSON_NAME": person,
			"RECORDS":     strings.Join(lines, "\n"),
		},
		Provenance: prov,
		Similarity: similarity,
	}
}

// recordLine renders one record for a combined prompt. Single-field
// records render as their bare value, which keeps majority-split
// records (one value each) readable.
func recordLine(fields map[string]any) string {
	if len(fields) == 1 {
		for _, value := range fields {
			return formatValue(value)
		}
	}
	return compactJSON(fields)
}

// formatValue renders a field value for template substitution.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return compactJSON(v)
	}
}

func compactJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
