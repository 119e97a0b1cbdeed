package consolidate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var articlePattern = regexp.MustCompile(`\b(the|of)\b`)

// normalizeText canonicalizes a string for equality comparison:
// lowercased, articles dropped, whitespace collapsed, edge punctuation
// trimmed. "The League of Nations" and "league  nations" compare
// equal.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = articlePattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, ` .,;:!?'"()[]`)
}

// normalizeValue canonicalizes any field value for keying. Numbers
// normalize to their shortest decimal form so 1759, 1759.0 and "1759"
// compare equal across JSON round trips.
func normalizeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return normalizeText(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// keySeparator joins dedup-key values into one grouping key. The unit
// separator cannot appear in normalized values.
const keySeparator = "\x1f"

// dedupKey builds the grouping key for a record under the stage's
// declared dedup keys. The second return is false when every key value
// is missing or normalizes to empty: such a record asserts nothing
// about the keyed fact and is excluded from consolidation.
func dedupKey(keys []string, fields map[string]any) (string, bool) {
	if len(keys) == 0 {
		return "", true
	}

	parts := make([]string, len(keys))
	empty := true
	for i, key := range keys {
		parts[i] = normalizeValue(fields[key])
		if parts[i] != "" {
			empty = false
		}
	}
	return strings.Join(parts, keySeparator), !empty
}
