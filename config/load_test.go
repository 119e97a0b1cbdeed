package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vitae/core"
)

const minimalDescriptor = `
name = "birthfinder"
version = "v2"
namespace = "birth"

[[stage]]
id = "extract_birth"
query = "date of birth of {{PERSON_NAME}}"
prompt = "Find the birth year of {{PERSON_NAME}} in: {{CHUNK_TEXT}}"

[[stage.field]]
name = "birth_year"
kind = "int"
`

func TestParse_Defaults(t *testing.T) {
	svc, err := Parse([]byte(minimalDescriptor))
	require.NoError(t, err)

	assert.Equal(t, "birthfinder", svc.Name)
	assert.Equal(t, "v2", svc.Version)
	assert.Equal(t, "birth", svc.Namespace)

	assert.Equal(t, 3, svc.Defaults.TopK)
	assert.Equal(t, 2, svc.Defaults.MaxPerSource)
	assert.Equal(t, 0.2, svc.Defaults.MinSimilarity)
	assert.Equal(t, 2, svc.Defaults.MaxRetries)
	assert.Equal(t, 60, svc.Defaults.TimeoutSeconds)
	assert.Equal(t, 4, svc.Defaults.Concurrency)

	require.Len(t, svc.Stages, 1)
	stage := svc.Stages[0]
	assert.Equal(t, InputChunks, stage.Input)
	assert.Equal(t, 3, stage.TopK)
	assert.Equal(t, 2, stage.MaxPerSource)
	assert.Equal(t, RuleMaxConfidence, stage.Consolidate.Rule)
	assert.False(t, stage.Required)
}

func TestParse_StageOverridesInherit(t *testing.T) {
	svc, err := Parse([]byte(`
name = "svc"
version = "v1"
namespace = "ns"

[defaults]
top_k = 8
max_per_source = 3

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p {{CHUNK_TEXT}}"
top_k = 2

[[stage.field]]
name = "value"
kind = "string"
`))
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Stages[0].TopK, "stage override wins")
	assert.Equal(t, 3, svc.Stages[0].MaxPerSource, "unset inherits default")
}

func TestParse_MinSimilarityNoFloor(t *testing.T) {
	svc, err := Parse([]byte(`
name = "svc"
version = "v1"
namespace = "ns"

[defaults]
min_similarity = -1

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p {{CHUNK_TEXT}}"

[[stage.field]]
name = "value"
kind = "string"
`))
	require.NoError(t, err)
	assert.Equal(t, float64(-1), svc.Defaults.MinSimilarity)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		toml   string
		detail string
	}{
		{
			name:   "missing name",
			toml:   `version = "v1"` + "\n" + `namespace = "ns"`,
			detail: "name required",
		},
		{
			name:   "missing version",
			toml:   `name = "svc"` + "\n" + `namespace = "ns"`,
			detail: "version required",
		},
		{
			name:   "missing namespace",
			toml:   `name = "svc"` + "\n" + `version = "v1"`,
			detail: "namespace required",
		},
		{
			name:   "no stages",
			toml:   `name = "svc"` + "\n" + `version = "v1"` + "\n" + `namespace = "ns"`,
			detail: "no stages",
		},
		{
			name: "duplicate stage id",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "duplicate stage id",
		},
		{
			name: "chunk stage without query",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "query template",
		},
		{
			name: "records mode as first stage",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
input = "records"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "preceding stage",
		},
		{
			name: "unknown input mode",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
input = "paragraphs"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "unknown input mode",
		},
		{
			name: "missing prompt",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "prompt template required",
		},
		{
			name: "empty field set",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"
`,
			detail: "empty field set",
		},
		{
			name: "duplicate field",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[[stage.field]]
name = "value"
kind = "int"
`,
			detail: "duplicate field",
		},
		{
			name: "unknown field kind",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "text"
`,
			detail: "unknown kind",
		},
		{
			name: "undeclared dedup key",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[stage.consolidate]
dedup_keys = ["year"]
`,
			detail: "dedup key",
		},
		{
			name: "majority without list field",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[stage.consolidate]
rule = "majority"
`,
			detail: "list_field",
		},
		{
			name: "majority list field of wrong kind",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[stage.consolidate]
rule = "majority"
list_field = "value"
`,
			detail: "kind list",
		},
		{
			name: "unknown consolidation rule",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p"

[[stage.field]]
name = "value"
kind = "string"

[stage.consolidate]
rule = "plurality"
`,
			detail: "unknown consolidation rule",
		},
		{
			name: "prompt references unknown variable",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p {{EVIDENCE_TEXT}}"

[[stage.field]]
name = "value"
kind = "string"
`,
			detail: "unknown variable",
		},
		{
			name: "combined stage may not use chunk variables",
			toml: `
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "a"
query = "q {{PERSON_NAME}}"
prompt = "p {{CHUNK_TEXT}}"

[[stage.field]]
name = "value"
kind = "string"

[[stage]]
id = "b"
input = "combined"
prompt = "p {{CHUNK_TEXT}}"

[[stage.field]]
name = "summary"
kind = "string"
`,
			detail: "unknown variable",
		},
		{
			name:   "unknown toml key",
			toml:   minimalDescriptor + "\nretries = 5\n",
			detail: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrFatalConfig)
			if tt.detail != "" {
				assert.Contains(t, err.Error(), tt.detail)
			}
		})
	}
}

func TestParse_RecordsStageKeyedOnPriorFields(t *testing.T) {
	svc, err := Parse([]byte(`
name = "svc"
version = "v1"
namespace = "ns"

[[stage]]
id = "extract"
query = "q {{PERSON_NAME}}"
prompt = "p {{CHUNK_TEXT}}"

[[stage.field]]
name = "organization"
kind = "string"
required = true

[[stage]]
id = "enrich"
input = "records"
prompt = "classify {{ORGANIZATION}} for {{PERSON_NAME}}"

[[stage.field]]
name = "metatype"
kind = "string"

[stage.consolidate]
dedup_keys = ["organization"]
`))
	require.NoError(t, err)
	require.Len(t, svc.Stages, 2)
	assert.Equal(t, InputRecords, svc.Stages[1].Input)
	assert.Equal(t, []string{"organization"}, svc.Stages[1].Consolidate.DedupKeys)
}

func TestLoad_Fixtures(t *testing.T) {
	tests := []struct {
		file      string
		name      string
		namespace string
		stages    int
	}{
		{"birthfinder_v2.toml", "birthfinder", "birth", 1},
		{"nationalityfinder_v1.toml", "nationalityfinder", "nationality", 1},
		{"careerfinder_v1.toml", "careerfinder", "career", 3},
		{"educationfinder_v1.toml", "educationfinder", "education", 2},
		{"deathfinder_v1.toml", "deathfinder", "death", 1},
		{"orgontology_v1.toml", "orgontology", "organization", 2},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			svc, err := Load(filepath.Join("testdata", tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.name, svc.Name)
			assert.Equal(t, tt.namespace, svc.Namespace)
			assert.Len(t, svc.Stages, tt.stages)
		})
	}
}

func TestLoad_BirthfinderShape(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "birthfinder_v2.toml"))
	require.NoError(t, err)

	stage := svc.Stages[0]
	assert.Equal(t, "extract_birth", stage.ID)
	assert.True(t, stage.Required)
	assert.Equal(t, 6, stage.TopK)
	assert.Equal(t, []string{"birth_year"}, stage.Consolidate.DedupKeys)
	assert.True(t, stage.Consolidate.Corroborate)

	year := stage.FieldByName("birth_year")
	require.NotNil(t, year)
	assert.Equal(t, KindInt, year.Kind)
	assert.Equal(t, float64(1600), year.Min)
	assert.Equal(t, float64(2099), year.Max)

	assert.True(t, stage.FieldByName("reasoning").Inferred)
	assert.Equal(t, []string{"PERSON_NAME"}, TemplateVars(stage.Query))
}

func TestLoad_CareerfinderStageSequence(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "careerfinder_v1.toml"))
	require.NoError(t, err)

	require.Len(t, svc.Stages, 3)
	assert.Equal(t, InputChunks, svc.Stages[0].Input)
	assert.False(t, svc.Stages[0].Required)
	assert.Equal(t, InputChunks, svc.Stages[1].Input)
	assert.True(t, svc.Stages[1].Required)
	assert.Equal(t, InputRecords, svc.Stages[2].Input)

	enrich := svc.Stages[2]
	vars := TemplateVars(enrich.Prompt)
	assert.Contains(t, vars, "ORGANIZATION")
	assert.Contains(t, vars, "ROLE")
}

func TestLoad_OrgontologyShape(t *testing.T) {
	svc, err := Load(filepath.Join("testdata", "orgontology_v1.toml"))
	require.NoError(t, err)

	require.Len(t, svc.Stages, 2)
	assert.Equal(t, InputChunks, svc.Stages[0].Input)
	assert.True(t, svc.Stages[0].Required)

	hierarchy := svc.Stages[1]
	assert.Equal(t, InputCombined, hierarchy.Input)
	assert.False(t, hierarchy.Required)
	assert.Contains(t, TemplateVars(hierarchy.Prompt), "RECORDS")
	assert.Equal(t, KindList, hierarchy.FieldByName("variant_names").Kind)
	assert.Equal(t, []string{"employer", "unit_name"}, hierarchy.Consolidate.DedupKeys)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "no_such_service.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFatalConfig)
}

func TestLoadAll(t *testing.T) {
	t.Run("loads several descriptors", func(t *testing.T) {
		services, err := LoadAll(
			filepath.Join("testdata", "birthfinder_v2.toml"),
			filepath.Join("testdata", "deathfinder_v1.toml"),
		)
		require.NoError(t, err)
		require.Len(t, services, 2)
		assert.Equal(t, "birthfinder", services[0].Name)
		assert.Equal(t, "deathfinder", services[1].Name)
	})

	t.Run("rejects duplicate service names", func(t *testing.T) {
		_, err := LoadAll(
			filepath.Join("testdata", "birthfinder_v2.toml"),
			filepath.Join("testdata", "birthfinder_v2.toml"),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrFatalConfig)
		assert.Contains(t, err.Error(), "birthfinder")
	})
}

func TestHasConfidenceField(t *testing.T) {
	stage := Stage{Fields: []Field{{Name: "confidence", Kind: KindFloat}}}
	assert.True(t, stage.HasConfidenceField())

	stage = Stage{Fields: []Field{{Name: "confidence", Kind: KindString}}}
	assert.False(t, stage.HasConfidenceField())

	stage = Stage{Fields: []Field{{Name: "birth_year", Kind: KindInt}}}
	assert.False(t, stage.HasConfidenceField())
}
