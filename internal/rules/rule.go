// Package rules implements the validation rule evaluator. Rules are
// declarative records whose condition is a boolean Go expression over
// form fields, evaluated in a sandboxed yaegi interpreter. A rule
// whose expression evaluates to true FIRES and yields one validation
// issue.
package rules

import (
	"formsense/internal/form"
)

// Rule is one active validation rule record, supplied by the rule
// store.
type Rule struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Field is the primary field the rule reports against.
	Field form.FieldID `json:"field" yaml:"field"`

	// Expression is a boolean Go expression over field identifiers,
	// e.g. `age < 16 && educationLevel == "doctoral"`. Field values
	// bind as typed variables: numbers as float64, strings as string,
	// booleans as bool, timestamps as RFC 3339 strings.
	Expression string `json:"expression" yaml:"expression"`

	Message        string        `json:"message" yaml:"message"`
	Severity       form.Severity `json:"severity" yaml:"severity"`
	ResolutionHint string        `json:"resolutionHint,omitempty" yaml:"resolution_hint,omitempty"`
	Confidence     float64       `json:"confidence" yaml:"confidence"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
}

// Issue converts a fired rule into its validation issue.
func (r Rule) Issue() form.ValidationIssue {
	conf := r.Confidence
	if conf == 0 {
		conf = 0.9
	}
	return form.ValidationIssue{
		RuleID:         r.ID,
		Field:          r.Field,
		Message:        r.Message,
		Severity:       r.Severity,
		ResolutionHint: r.ResolutionHint,
		Confidence:     conf,
	}
}
