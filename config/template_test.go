package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateVars(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		want []string
	}{
		{
			name: "single variable",
			tmpl: "date of birth of {{PERSON_NAME}}",
			want: []string{"PERSON_NAME"},
		},
		{
			name: "multiple variables in order",
			tmpl: "About {{PERSON_NAME}}:\n{{CHUNK_TEXT}}\nfrom {{SOURCE_URL}}",
			want: []string{"PERSON_NAME", "CHUNK_TEXT", "SOURCE_URL"},
		},
		{
			name: "repeated variable reported once",
			tmpl: "{{PERSON_NAME}} and again {{PERSON_NAME}}",
			want: []string{"PERSON_NAME"},
		},
		{
			name: "no variables",
			tmpl: "plain text with no placeholders",
			want: nil,
		},
		{
			name: "json braces are not variables",
			tmpl: `{"contains_birthdate": true, "birth_year": null}`,
			want: nil,
		},
		{
			name: "lowercase is not a variable",
			tmpl: "{{person_name}} stays literal",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TemplateVars(tt.tmpl))
		})
	}
}

func TestRender(t *testing.T) {
	vars := map[string]string{
		"PERSON_NAME": "Mary Wollstonecraft",
		"CHUNK_TEXT":  "Born in 1759 in Spitalfields.",
	}

	t.Run("substitutes known variables", func(t *testing.T) {
		got := Render("Text about {{PERSON_NAME}}:\n{{CHUNK_TEXT}}", vars)
		assert.Equal(t, "Text about Mary Wollstonecraft:\nBorn in 1759 in Spitalfields.", got)
	})

	t.Run("unknown variable left in place", func(t *testing.T) {
		got := Render("{{PERSON_NAME}} wrote {{TITLE}}", vars)
		assert.Equal(t, "Mary Wollstonecraft wrote {{TITLE}}", got)
	})

	t.Run("value containing braces is inert", func(t *testing.T) {
		got := Render("{{CHUNK_TEXT}}", map[string]string{"CHUNK_TEXT": "{{PERSON_NAME}}"})
		assert.Equal(t, "{{PERSON_NAME}}", got)
	})
}
