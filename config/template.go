package config

import (
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{([A-Z][A-Z0-9_]*)\}\}`)

// TemplateVars returns the distinct {{VARIABLE}} names referenced by a
// template, in order of first appearance.
func TemplateVars(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range templateVarPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes {{VARIABLE}} placeholders with their values.
// Variables with no entry in vars are left in place; descriptor
// validation guarantees that cannot happen for well-formed stages.
func Render(tmpl string, vars map[string]string) string {
	return templateVarPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.Trim(match, "{}")
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}
