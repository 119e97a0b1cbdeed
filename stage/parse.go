package stage

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
)

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*[ \t]*\r?\n?")
	fenceClose = regexp.MustCompile("\r?\n?```\\s*$")
)

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpen.ReplaceAllString(s, "")
	s = fenceClose.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseResponse validates a completion against the stage's declared
// field schema. Markdown fences are stripped and common JSON defects
// repaired before decoding. Undeclared keys are dropped: the declared
// field set is exact. Null values count as absent. Every failure wraps
// core.ErrValidation so the executor re-prompts instead of retrying
// the call verbatim.
func ParseResponse(stg *config.Stage, raw string) (map[string]any, error) {
	text := stripFences(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", core.ErrValidation)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		repaired := repairJSON(text)
		if err2 := json.Unmarshal([]byte(repaired), &decoded); err2 != nil {
			return nil, fmt.Errorf("%w: response is not a JSON object: %v", core.ErrValidation, err)
		}
	}

	fields := make(map[string]any, len(stg.Fields))
	for i := range stg.Fields {
		decl := &stg.Fields[i]
		value, present := decoded[decl.Name]
		if !present || value == nil {
			if decl.Required {
				return nil, fmt.Errorf("%w: missing required field %q", core.ErrValidation, decl.Name)
			}
			continue
		}

		coerced, err := coerceField(decl, value)
		if err != nil {
			return nil, err
		}
		fields[decl.Name] = coerced
	}

	return fields, nil
}

// coerceField converts a decoded JSON value to the declared kind,
// tolerating the coercions models commonly need (numbers as strings,
// booleans as strings, bare scalars for lists).
func coerceField(decl *config.Field, value any) (any, error) {
	bad := func(format string, args ...any) error {
		detail := fmt.Sprintf(format, args...)
		return fmt.Errorf("%w: field %q %s", core.ErrValidation, decl.Name, detail)
	}

	switch decl.Kind {
	case config.KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		return nil, bad("expects a string, got %T", value)

	case config.KindInt:
		n, ok := toInt(value)
		if !ok {
			return nil, bad("expects an integer, got %v", value)
		}
		if err := checkRange(decl, float64(n)); err != nil {
			return nil, err
		}
		return n, nil

	case config.KindFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, bad("expects a number, got %v", value)
		}
		if err := checkRange(decl, f); err != nil {
			return nil, err
		}
		return f, nil

	case config.KindBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, bad("expects a boolean, got %v", value)

	case config.KindList:
		if list, ok := value.([]any); ok {
			return list, nil
		}
		return []any{value}, nil

	case config.KindAny:
		return value, nil
	}

	return nil, bad("has unknown kind %q", decl.Kind)
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Trunc(v) != v {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// checkRange enforces the declared Min/Max bounds. A zero bound is
// unset and leaves that side open.
func checkRange(decl *config.Field, v float64) error {
	if decl.Min != 0 && v < decl.Min {
		return fmt.Errorf("%w: field %q value %v below minimum %v",
			core.ErrValidation, decl.Name, v, decl.Min)
	}
	if decl.Max != 0 && v > decl.Max {
		return fmt.Errorf("%w: field %q value %v above maximum %v",
			core.ErrValidation, decl.Name, v, decl.Max)
	}
	return nil
}
