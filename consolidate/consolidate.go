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


package consolidate

import (
	"slices"
	"strings"

	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
)

// FromExtraction wraps raw extraction records for consolidation.
func FromExtraction(records []*core.ExtractionRecord) []core.ConsolidatedRecord {
	out := make([]core.ConsolidatedRecord, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		out = append(out, core.ConsolidatedRecord{
			PersonName: r.PersonName,
			StageID:    r.StageID,
			Fields:     r.Fields,
			Confidence: r.Confidence,
			Provenance: r.Provenance.Clone(),
		})
	}
	return out
}

// Consolidate collapses one stage's records for one person into
// canonical records. The operation is idempotent: consolidating its
// own output yields the same set.
//
// Under max_confidence, records sharing a dedup key merge: provenance
// unions, confidence takes the maximum, and conflicting non-key values
// resolve by confidence with losers retained as alternatives. Under
// majority, each distinct value of the stage's list field becomes its
// own record ranked by independent source count.
//
// Records that assert nothing are excluded: every dedup-key value
// empty, or evidence-bearing fields with no provenance.
func Consolidate(stg *config.Stage, records []core.ConsolidatedRecord) []core.ConsolidatedRecord {
	kept := make([]core.ConsolidatedRecord, 0, len(records))
	for i := range records {
		if hasEvidence(stg, &records[i]) {
			kept = append(kept, records[i])
		}
	}
	if len(kept) == 0 {
		return nil
	}

	var out []core.ConsolidatedRecord
	if stg.Consolidate.Rule == config.RuleMajority {
		out = consolidateMajority(stg, kept)
	} else {
		out = consolidateMaxConfidence(stg, kept)
	}

	if stg.Consolidate.Corroborate {
		applyCorroboration(out, stg.Consolidate.Rule == config.RuleMaxConfidence)
	}
	return out
}

// hasEvidence reports whether a record may take part in consolidation.
// A record whose fields all carry no source citation is an assertion
// without evidence, unless the stage declares those fields inferred.
func hasEvidence(stg *config.Stage, rec *core.ConsolidatedRecord) bool {
	if len(rec.Fields) == 0 {
		return false
	}
	if !rec.Provenance.Empty() {
		return true
	}
	for name := range rec.Fields {
		decl := stg.FieldByName(name)
		if decl == nil || !decl.Inferred {
			return false
		}
	}
	return true
}

// group is an accumulation bucket for one dedup key.
type group struct {
	key     string
	members []core.ConsolidatedRecord
}

func consolidateMaxConfidence(stg *config.Stage, records []core.ConsolidatedRecord) []core.ConsolidatedRecord {
	keys := stg.Consolidate.DedupKeys
	byKey := make(map[string]*group)
	var order []*group

	for i := range records {
		rec := &records[i]
		key, ok := dedupKey(keys, rec.Fields)
		if !ok {
			continue
		}
		g, exists := byKey[key]
		if !exists {
			g = &group{key: key}
			byKey[key] = g
			order = append(order, g)
		}
		g.members = append(g.members, *rec)
	}

	if len(order) == 0 {
		return nil
	}

	out := make([]core.ConsolidatedRecord, 0, len(order))
	for _, g := range order {
		out = append(out, mergeGroup(stg, g))
	}
	sortCanonical(out)
	return out
}

// mergeGroup collapses records sharing one dedup key.
func mergeGroup(stg *config.Stage, g *group) core.ConsolidatedRecord {
	// Rank members so conflicts resolve deterministically: confidence
	// first, then the greatest cited chunk id.
	slices.SortStableFunc(g.members, func(a, b core.ConsolidatedRecord) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(maxChunkID(&b.Provenance), maxChunkID(&a.Provenance))
	})

	winner := g.members[0]
	merged := core.ConsolidatedRecord{
		PersonName: winner.PersonName,
		StageID:    winner.StageID,
		Fields:     make(map[string]any, len(winner.Fields)),
		Confidence: winner.Confidence,
		Provenance: winner.Provenance.Clone(),
	}
	for name, value := range winner.Fields {
		merged.Fields[name] = value
	}

	alts := newAlternativeSet()
	alts.addAll(winner.Alternatives)

	for i := 1; i < len(g.members); i++ {
		loser := &g.members[i]
		merged.Provenance.Union(loser.Provenance)
		if loser.Confidence > merged.Confidence {
			merged.Confidence = loser.Confidence
		}
		alts.addAll(loser.Alternatives)

		for name, value := range loser.Fields {
			current, present := merged.Fields[name]
			if !present {
				merged.Fields[name] = value
				continue
			}
			if normalizeValue(current) == normalizeValue(value) {
				continue
			}
			alts.add(core.Alternative{
				Field:      name,
				Value:      value,
				Confidence: loser.Confidence,
				Provenance: loser.Provenance.Clone(),
			})
		}
	}

	merged.Alternatives = alts.sorted()
	merged.Id = recordID(&merged, g.key)
	return merged
}

// consolidateMajority splits the stage's list field into per-value
// candidates with unioned provenance, the original vote ledger.
func consolidateMajority(stg *config.Stage, records []core.ConsolidatedRecord) []core.ConsolidatedRecord {
	listField := stg.Consolidate.ListField
	byValue := make(map[string]*core.ConsolidatedRecord)
	var order []string

	for i := range records {
		rec := &records[i]
		for _, value := range listValues(rec.Fields[listField]) {
			norm := normalizeValue(value)
			if norm == "" {
				continue
			}
			cand, exists := byValue[norm]
			if !exists {
				cand = &core.ConsolidatedRecord{
					PersonName: rec.PersonName,
					StageID:    rec.StageID,
					Fields:     map[string]any{listField: value},
					Confidence: rec.Confidence,
					Provenance: rec.Provenance.Clone(),
				}
				byValue[norm] = cand
				order = append(order, norm)
				continue
			}
			cand.Provenance.Union(rec.Provenance)
			if rec.Confidence > cand.Confidence {
				cand.Confidence = rec.Confidence
			}
		}
	}

	if len(order) == 0 {
		return nil
	}

	out := make([]core.ConsolidatedRecord, 0, len(order))
	for _, norm := range order {
		cand := byValue[norm]
		cand.Id = recordID(cand, norm)
		out = append(out, *cand)
	}
	sortCanonical(out)
	return out
}

// listValues tolerates both list and scalar forms, so consolidating an
// already-split candidate set is a fixed point.
func listValues(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// sortCanonical orders records by independent source count, then
// confidence, then key material. The first record is the corroboration
// winner.
func sortCanonical(records []core.ConsolidatedRecord) {
	slices.SortStableFunc(records, func(a, b core.ConsolidatedRecord) int {
		as, bs := len(a.Provenance.Sources()), len(b.Provenance.Sources())
		if as != bs {
			return bs - as
		}
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(fieldsKey(a.Fields), fieldsKey(b.Fields))
	})
}

// fieldsKey is a deterministic rendering of a record's field values
// used only for tie-breaking.
func fieldsKey(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+normalizeValue(fields[name]))
	}
	return strings.Join(parts, keySeparator)
}

// recordID derives a stable content identity for a canonical record.
func recordID(rec *core.ConsolidatedRecord, key string) core.ID {
	return core.IDFromContent(rec.StageID + keySeparator + rec.PersonName + keySeparator + key)
}

func maxChunkID(p *core.Provenance) string {
	if len(p.ChunkIDs) == 0 {
		return ""
	}
	return p.ChunkIDs[len(p.ChunkIDs)-1]
}

// alternativeSet deduplicates alternatives by field and normalized
// value, unioning provenance across duplicates.
type alternativeSet struct {
	byKey map[string]*core.Alternative
	order []string
}

func newAlternativeSet() *alternativeSet {
	return &alternativeSet{byKey: make(map[string]*core.Alternative)}
}

func (s *alternativeSet) add(alt core.Alternative) {
	key := alt.Field + keySeparator + normalizeValue(alt.Value)
	existing, ok := s.byKey[key]
	if !ok {
		alt.Provenance = alt.Provenance.Clone()
		s.byKey[key] = &alt
		s.order = append(s.order, key)
		return
	}
	existing.Provenance.Union(alt.Provenance)
	if alt.Confidence > existing.Confidence {
		existing.Confidence = alt.Confidence
	}
}

func (s *alternativeSet) addAll(alts []core.Alternative) {
	for i := range alts {
		s.add(alts[i])
	}
}

func (s *alternativeSet) sorted() []core.Alternative {
	if len(s.byKey) == 0 {
		return nil
	}
	out := make([]core.Alternative, 0, len(s.byKey))
	for _, key := range s.order {
		out = append(out, *s.byKey[key])
	}
	slices.SortStableFunc(out, func(a, b core.Alternative) int {
		if c := strings.Compare(a.Field, b.Field); c != 0 {
			return c
		}
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(normalizeValue(a.Value), normalizeValue(b.Value))
	})
	return out
}
