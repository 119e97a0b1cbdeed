package config

import (
	"fmt"
	"strings"

	"github.com/poiesic/vitae/core"
)

// Stage input modes.
const (
	// InputChunks runs one invocation per selected evidence chunk.
	InputChunks = "chunks"
	// InputRecords runs one invocation per consolidated record of the
	// previous stage.
	InputRecords = "records"
	// InputCombined runs a single invocation per person over the
	// previous stage's consolidated records as a whole.
	InputCombined = "combined"
)

// Consolidation rules.
const (
	// RuleMaxConfidence merges records sharing a dedup key; conflicts
	// resolve toward the higher confidence.
	RuleMaxConfidence = "max_confidence"
	// RuleMajority splits a list field into per-value records and
	// ranks values by independent source count.
	RuleMajority = "majority"
)

// Field kinds.
const (
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
	KindList   = "list"
	KindAny    = "any"
)

// Service describes one extraction service: its identity, the profile
// namespace it owns, run defaults and the ordered stage sequence.
type Service struct {
	Name      string   `toml:"name"`
	Version   string   `toml:"version"`
	Namespace string   `toml:"namespace"`
	Defaults  Defaults `toml:"defaults"`
	Stages    []Stage  `toml:"stage"`
}

// Defaults carries service-wide settings a stage inherits unless it
// overrides them.
//
// MinSimilarity uses -1 to express "no floor"; a literal 0 in the
// descriptor means unset and inherits the 0.2 default.
type Defaults struct {
	TopK           int     `toml:"top_k"`
	MaxPerSource   int     `toml:"max_per_source"`
	MinSimilarity  float64 `toml:"min_similarity"`
	MaxRetries     int     `toml:"max_retries"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Concurrency    int     `toml:"concurrency"`
}

// Stage describes one extraction step.
type Stage struct {
	ID       string `toml:"id"`
	Purpose  string `toml:"purpose"`
	Input    string `toml:"input"`
	Required bool   `toml:"required"`

	// Query is the retrieval query template for chunk-fed stages.
	Query string `toml:"query"`

	// System and Prompt are the completion templates.
	System string `toml:"system"`
	Prompt string `toml:"prompt"`

	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`

	// Retrieval overrides; zero inherits the service defaults.
	TopK         int `toml:"top_k"`
	MaxPerSource int `toml:"max_per_source"`

	Fields      []Field     `toml:"field"`
	Consolidate Consolidate `toml:"consolidate"`
}

// Field declares one key of the stage's response object.
//
// Inferred fields carry values the model derives rather than quotes, so
// consolidated records holding only inferred fields may cite no chunks.
// Min/Max bound numeric kinds; a zero bound is unset and leaves that
// side open.
type Field struct {
	Name     string  `toml:"name"`
	Kind     string  `toml:"kind"`
	Required bool    `toml:"required"`
	Inferred bool    `toml:"inferred"`
	Min      float64 `toml:"min"`
	Max      float64 `toml:"max"`
}

// Consolidate declares how a stage's raw records merge.
type Consolidate struct {
	DedupKeys   []string `toml:"dedup_keys"`
	Rule        string   `toml:"rule"`
	ListField   string   `toml:"list_field"`
	Corroborate bool     `toml:"corroborate"`
}

// FieldNames returns the declared field names in order.
func (s *Stage) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName returns the declaration for a field, or nil.
func (s *Stage) FieldByName(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// HasConfidenceField reports whether the stage declares a model-scored
// confidence field.
func (s *Stage) HasConfidenceField() bool {
	f := s.FieldByName("confidence")
	return f != nil && (f.Kind == KindFloat || f.Kind == KindAny)
}

// applyDefaults fills unset service defaults, then unset stage
// overrides from the service defaults.
func (s *Service) applyDefaults() {
	if s.Defaults.TopK == 0 {
		s.Defaults.TopK = 3
	}
	if s.Defaults.MaxPerSource == 0 {
		s.Defaults.MaxPerSource = 2
	}
	if s.Defaults.MinSimilarity == 0 {
		s.Defaults.MinSimilarity = 0.2
	}
	if s.Defaults.MaxRetries == 0 {
		s.Defaults.MaxRetries = 2
	}
	if s.Defaults.TimeoutSeconds == 0 {
		s.Defaults.TimeoutSeconds = 60
	}
	if s.Defaults.Concurrency == 0 {
		s.Defaults.Concurrency = 4
	}

	for i := range s.Stages {
		stage := &s.Stages[i]
		if stage.Input == "" {
			stage.Input = InputChunks
		}
		if stage.TopK == 0 {
			stage.TopK = s.Defaults.TopK
		}
		if stage.MaxPerSource == 0 {
			stage.MaxPerSource = s.Defaults.MaxPerSource
		}
		if stage.Consolidate.Rule == "" {
			stage.Consolidate.Rule = RuleMaxConfidence
		}
	}
}

// Validate checks the descriptor for structural errors. All failures
// wrap core.ErrFatalConfig: a malformed descriptor aborts the service
// run, it is never retried.
func (s *Service) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: service name required", core.ErrFatalConfig)
	}
	if s.Version == "" {
		return fmt.Errorf("%w: service %s: version required", core.ErrFatalConfig, s.Name)
	}
	if s.Namespace == "" {
		return fmt.Errorf("%w: service %s: namespace required", core.ErrFatalConfig, s.Name)
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("%w: service %s declares no stages", core.ErrFatalConfig, s.Name)
	}

	seen := make(map[string]bool, len(s.Stages))
	for i := range s.Stages {
		stage := &s.Stages[i]
		if stage.ID == "" {
			return fmt.Errorf("%w: service %s: stage %d has no id", core.ErrFatalConfig, s.Name, i)
		}
		if seen[stage.ID] {
			return fmt.Errorf("%w: service %s: duplicate stage id %q", core.ErrFatalConfig, s.Name, stage.ID)
		}
		seen[stage.ID] = true

		var prev *Stage
		if i > 0 {
			prev = &s.Stages[i-1]
		}
		if err := s.validateStage(stage, i, prev); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) validateStage(stage *Stage, index int, prev *Stage) error {
	fail := func(format string, args ...any) error {
		detail := fmt.Sprintf(format, args...)
		return fmt.Errorf("%w: service %s stage %s: %s", core.ErrFatalConfig, s.Name, stage.ID, detail)
	}

	switch stage.Input {
	case InputChunks:
		if stage.Query == "" {
			return fail("chunk-fed stage needs a query template")
		}
	case InputRecords, InputCombined:
		if index == 0 {
			return fail("input %q needs a preceding stage", stage.Input)
		}
	default:
		return fail("unknown input mode %q", stage.Input)
	}

	if stage.Prompt == "" {
		return fail("prompt template required")
	}
	if len(stage.Fields) == 0 {
		return fail("empty field set")
	}

	fields := make(map[string]bool, len(stage.Fields))
	for _, f := range stage.Fields {
		if f.Name == "" {
			return fail("field with empty name")
		}
		if fields[f.Name] {
			return fail("duplicate field %q", f.Name)
		}
		fields[f.Name] = true

		switch f.Kind {
		case KindString, KindInt, KindFloat, KindBool, KindList, KindAny:
		default:
			return fail("field %s has unknown kind %q", f.Name, f.Kind)
		}
	}

	// Record-fed stages carry the previous stage's fields forward, so
	// those fields are valid dedup keys too.
	keyable := fields
	if stage.Input == InputRecords && prev != nil {
		keyable = make(map[string]bool, len(fields)+len(prev.Fields))
		for name := range fields {
			keyable[name] = true
		}
		for _, f := range prev.Fields {
			keyable[f.Name] = true
		}
	}
	for _, key := range stage.Consolidate.DedupKeys {
		if !keyable[key] {
			return fail("dedup key %q is not a declared field", key)
		}
	}

	switch stage.Consolidate.Rule {
	case RuleMaxConfidence:
	case RuleMajority:
		lf := stage.Consolidate.ListField
		if lf == "" {
			return fail("majority rule needs list_field")
		}
		decl := stage.FieldByName(lf)
		if decl == nil {
			return fail("list_field %q is not a declared field", lf)
		}
		if decl.Kind != KindList {
			return fail("list_field %q must have kind list", lf)
		}
	default:
		return fail("unknown consolidation rule %q", stage.Consolidate.Rule)
	}

	allowed := stage.allowedVars(prev)
	for _, tmpl := range []struct {
		name string
		text string
	}{
		{"query", stage.Query},
		{"system", stage.System},
		{"prompt", stage.Prompt},
	} {
		for _, v := range TemplateVars(tmpl.text) {
			if !allowed[v] {
				return fail("%s template references unknown variable %q", tmpl.name, v)
			}
		}
	}

	return nil
}

// allowedVars returns the template variables a stage's templates may
// reference, given its input mode and the preceding stage.
func (s *Stage) allowedVars(prev *Stage) map[string]bool {
	allowed := map[string]bool{
		"PERSON_NAME": true,
	}

	switch s.Input {
	case InputChunks:
		allowed["CHUNK_TEXT"] = true
		allowed["CHUNK_ID"] = true
		allowed["SOURCE_URL"] = true
	case InputRecords:
		allowed["RECORD"] = true
		if prev != nil {
			for _, name := range prev.FieldNames() {
				allowed[strings.ToUpper(name)] = true
			}
		}
	case InputCombined:
		allowed["RECORDS"] = true
	}

	return allowed
}
