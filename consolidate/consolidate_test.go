package consolidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
)

func birthStage() *config.Stage {
	return &config.Stage{
		ID:    "extract_birth",
		Input: config.InputChunks,
		Fields: []config.Field{
			{Name: "birth_year", Kind: config.KindInt},
			{Name: "birth_place", Kind: config.KindString},
		},
		Consolidate: config.Consolidate{
			DedupKeys:   []string{"birth_year"},
			Rule:        config.RuleMaxConfidence,
			Corroborate: true,
		},
	}
}

func nationalityStage() *config.Stage {
	return &config.Stage{
		ID:    "extract_nationality",
		Input: config.InputChunks,
		Fields: []config.Field{
			{Name: "nationalities", Kind: config.KindList},
		},
		Consolidate: config.Consolidate{
			Rule:        config.RuleMajority,
			ListField:   "nationalities",
			Corroborate: true,
		},
	}
}

func prov(pairs ...string) core.Provenance {
	var p core.Provenance
	for i := 0; i+1 < len(pairs); i += 2 {
		p.AddChunk(&core.Chunk{ChunkID: pairs[i], SourceURL: pairs[i+1]})
	}
	return p
}

func birthRecord(year any, confidence float64, chunkID, url string) core.ConsolidatedRecord {
	return core.ConsolidatedRecord{
		PersonName: "Immanuel Kant",
		StageID:    "extract_birth",
		Fields:     map[string]any{"birth_year": year},
		Confidence: confidence,
		Provenance: prov(chunkID, url),
	}
}

func TestConsolidate_MergesEqualDedupKeys(t *testing.T) {
	stg := birthStage()
	records := []core.ConsolidatedRecord{
		birthRecord(1724, 0.9, "c1", "https://en.wikipedia.org/kant"),
		birthRecord(float64(1724), 0.7, "c2", "https://plato.stanford.edu/kant"),
	}

	out := Consolidate(stg, records)
	require.Len(t, out, 1)

	merged := out[0]
	assert.Equal(t, []string{"c1", "c2"}, merged.Provenance.ChunkIDs)
	assert.Equal(t, 0.9, merged.Confidence)
	assert.Equal(t, "Immanuel Kant", merged.PersonName)
	assert.NotZero(t, merged.Id)
}

func TestConsolidate_NumericFormsCompareEqual(t *testing.T) {
	// JSON round trips turn ints into float64; a string year from a
	// sloppy model reply still names the same fact.
	stg := birthStage()
	records := []core.ConsolidatedRecord{
		birthRecord(1724, 0.8, "c1", "https://a.org/1"),
		birthRecord("1724", 0.6, "c2", "https://b.org/1"),
		birthRecord(1724.0, 0.5, "c3", "https://c.org/1"),
	}

	out := Consolidate(stg, records)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"c1", "c2", "c3"}, out[0].Provenance.ChunkIDs)
}

func TestConsolidate_DistinctKeysStaySeparate(t *testing.T) {
	stg := birthStage()
	records := []core.ConsolidatedRecord{
		birthRecord(1724, 0.9, "c1", "https://a.org/1"),
		birthRecord(1725, 0.4, "c2", "https://b.org/1"),
	}

	out := Consolidate(stg, records)
	require.Len(t, out, 2)
	// Canonical order puts the better supported candidate first.
	assert.Equal(t, 1724, out[0].Fields["birth_year"])
	assert.Equal(t, 1725, out[1].Fields["birth_year"])
}

func TestConsolidate_ConflictingNonKeyFieldsKeptAsAlternatives(t *testing.T) {
	stg := birthStage()
	winner := birthRecord(1724, 0.9, "c1", "https://a.org/1")
	winner.Fields["birth_place"] = "Königsberg"
	loser := birthRecord(1724, 0.5, "c2", "https://b.org/1")
	loser.Fields["birth_place"] = "Kaliningrad"

	out := Consolidate(stg, []core.ConsolidatedRecord{winner, loser})
	require.Len(t, out, 1)

	merged := out[0]
	assert.Equal(t, "Königsberg", merged.Fields["birth_place"])
	require.Len(t, merged.Alternatives, 1)
	alt := merged.Alternatives[0]
	assert.Equal(t, "birth_place", alt.Field)
	assert.Equal(t, "Kaliningrad", alt.Value)
	assert.Equal(t, 0.5, alt.Confidence)
	assert.Equal(t, []string{"c2"}, alt.Provenance.ChunkIDs)
}

func TestConsolidate_EqualConfidenceResolvesByLatestChunk(t *testing.T) {
	stg := birthStage()
	early := birthRecord(1724, 0.8, "c1", "https://a.org/1")
	early.Fields["birth_place"] = "Kaliningrad"
	late := birthRecord(1724, 0.8, "c9", "https://b.org/1")
	late.Fields["birth_place"] = "Königsberg"

	out := Consolidate(stg, []core.ConsolidatedRecord{early, late})
	require.Len(t, out, 1)
	assert.Equal(t, "Königsberg", out[0].Fields["birth_place"])
}

func TestConsolidate_Idempotent(t *testing.T) {
	stg := birthStage()
	records := []core.ConsolidatedRecord{
		birthRecord(1724, 0.9, "c1", "https://a.org/1"),
		birthRecord(1724, 0.7, "c2", "https://b.org/1"),
		birthRecord(1725, 0.4, "c3", "https://c.org/1"),
	}

	once := Consolidate(stg, records)
	twice := Consolidate(stg, once)
	assert.Equal(t, once, twice)
}

func TestConsolidate_MajorityIdempotent(t *testing.T) {
	stg := nationalityStage()
	records := []core.ConsolidatedRecord{
		natRecord([]any{"DEU", "RUS"}, 0.8, "c1", "https://a.org/1"),
		natRecord([]any{"DEU"}, 0.6, "c2", "https://b.org/1"),
	}

	once := Consolidate(stg, records)
	twice := Consolidate(stg, once)
	assert.Equal(t, once, twice)
}

func TestConsolidate_ProvenanceNeverShrinks(t *testing.T) {
	stg := birthStage()
	records := []core.ConsolidatedRecord{
		birthRecord(1724, 0.9, "c1", "https://a.org/1"),
	}
	for _, id := range []string{"c2", "c3", "c4"} {
		records = append(records, birthRecord(1724, 0.5, id, "https://a.org/"+id))

		out := Consolidate(stg, records)
		require.Len(t, out, 1)
		for _, rec := range records {
			for _, chunkID := range rec.Provenance.ChunkIDs {
				assert.True(t, out[0].Provenance.ContainsChunk(chunkID),
					"merged provenance lost chunk %s", chunkID)
			}
		}
	}
}

func natRecord(values []any, confidence float64, chunkID, url string) core.ConsolidatedRecord {
	return core.ConsolidatedRecord{
		PersonName: "Immanuel Kant",
		StageID:    "extract_nationality",
		Fields:     map[string]any{"nationalities": values},
		Confidence: confidence,
		Provenance: prov(chunkID, url),
	}
}

func TestConsolidate_MajoritySplitsListValues(t *testing.T) {
	stg := nationalityStage()
	records := []core.ConsolidatedRecord{
		natRecord([]any{"DEU", "RUS"}, 0.8, "c1", "https://a.org/1"),
		natRecord([]any{"DEU"}, 0.6, "c2", "https://b.org/1"),
		natRecord([]any{"RUS"}, 0.9, "c3", "https://a.org/2"),
	}

	out := Consolidate(stg, records)
	require.Len(t, out, 2)

	// DEU has two independent sources, RUS only one (both citations
	// come from a.org).
	assert.Equal(t, "DEU", out[0].Fields["nationalities"])
	assert.Equal(t, []string{"c1", "c2"}, out[0].Provenance.ChunkIDs)
	assert.Equal(t, core.OutcomeVerified, out[0].Corroboration.Outcome)

	assert.Equal(t, "RUS", out[1].Fields["nationalities"])
	assert.Equal(t, []string{"c1", "c3"}, out[1].Provenance.ChunkIDs)
	assert.Equal(t, 1, out[1].Corroboration.IndependentSources)
	assert.Equal(t, core.OutcomeNoCorroboration, out[1].Corroboration.Outcome)
}

func TestConsolidate_CorroborationOutcomes(t *testing.T) {
	stg := birthStage()

	t.Run("two sources one candidate verified", func(t *testing.T) {
		out := Consolidate(stg, []core.ConsolidatedRecord{
			birthRecord(1724, 0.9, "c1", "https://a.org/1"),
			birthRecord(1724, 0.7, "c2", "https://b.org/1"),
		})
		require.Len(t, out, 1)
		assert.Equal(t, core.OutcomeVerified, out[0].Corroboration.Outcome)
		assert.Equal(t, 2, out[0].Corroboration.IndependentSources)
	})

	t.Run("one source one candidate uncorroborated", func(t *testing.T) {
		out := Consolidate(stg, []core.ConsolidatedRecord{
			birthRecord(1724, 0.9, "c1", "https://a.org/1"),
		})
		require.Len(t, out, 1)
		assert.Equal(t, core.OutcomeNoCorroboration, out[0].Corroboration.Outcome)
	})

	t.Run("majority winner resolves conflict", func(t *testing.T) {
		out := Consolidate(stg, []core.ConsolidatedRecord{
			birthRecord(1724, 0.9, "c1", "https://a.org/1"),
			birthRecord(1724, 0.7, "c2", "https://b.org/1"),
			birthRecord(1725, 0.8, "c3", "https://c.org/1"),
		})
		require.Len(t, out, 2)
		assert.Equal(t, core.OutcomeConflictResolved, out[0].Corroboration.Outcome)
		assert.Equal(t, core.OutcomeConflictInconclusive, out[1].Corroboration.Outcome)
	})

	t.Run("split support stays inconclusive", func(t *testing.T) {
		out := Consolidate(stg, []core.ConsolidatedRecord{
			birthRecord(1724, 0.9, "c1", "https://a.org/1"),
			birthRecord(1725, 0.8, "c3", "https://c.org/1"),
		})
		require.Len(t, out, 2)
		for _, rec := range out {
			assert.Equal(t, core.OutcomeConflictInconclusive, rec.Corroboration.Outcome)
		}
	})
}

func TestConsolidate_RecordsWithoutEvidenceExcluded(t *testing.T) {
	stg := birthStage()

	t.Run("no provenance no inferred declaration", func(t *testing.T) {
		rec := core.ConsolidatedRecord{
			PersonName: "Immanuel Kant",
			StageID:    "extract_birth",
			Fields:     map[string]any{"birth_year": 1724},
			Confidence: 0.9,
		}
		assert.Nil(t, Consolidate(stg, []core.ConsolidatedRecord{rec}))
	})

	t.Run("inferred fields need no citation", func(t *testing.T) {
		inferred := birthStage()
		inferred.Fields[0].Inferred = true
		rec := core.ConsolidatedRecord{
			PersonName: "Immanuel Kant",
			StageID:    "extract_birth",
			Fields:     map[string]any{"birth_year": 1724},
			Confidence: 0.9,
		}
		out := Consolidate(inferred, []core.ConsolidatedRecord{rec})
		assert.Len(t, out, 1)
	})

	t.Run("empty key values assert nothing", func(t *testing.T) {
		rec := birthRecord(nil, 0.9, "c1", "https://a.org/1")
		assert.Nil(t, Consolidate(stg, []core.ConsolidatedRecord{rec}))
	})

	t.Run("empty list values assert nothing", func(t *testing.T) {
		rec := natRecord([]any{"", nil}, 0.9, "c1", "https://a.org/1")
		assert.Nil(t, Consolidate(nationalityStage(), []core.ConsolidatedRecord{rec}))
	})
}

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"int and float agree", 1724, "1724"},
		{"float collapses", 1724.0, "1724"},
		{"numeric string collapses", " 1724 ", "1724"},
		{"articles dropped", "The League of Nations", "league nations"},
		{"case and spacing", "  LEAGUE   Nations  ", "league nations"},
		{"nil empty", nil, ""},
		{"bool", true, "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, normalizeValue(tc.in))
		})
	}
}
