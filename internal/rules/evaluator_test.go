package rules

import (
	"context"
	"strings"
	"testing"

	"formsense/internal/form"
)

func testValues() form.Values {
	return form.Values{
		form.FieldAge:             form.Number(15),
		form.FieldEducationLevel:  form.String("doctoral"),
		form.FieldCountry:         form.String("United States"),
		form.FieldPlanningToWork:  form.Boolean(true),
		form.FieldGraduationYear:  form.Number(2030),
	}
}

func TestEvaluateAll_RuleFires(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "age_education",
		Name:       "implausible age for doctoral program",
		Field:      form.FieldAge,
		Expression: `age < 16 && educationLevel == "doctoral"`,
		Message:    "age is implausible for a doctoral program",
		Severity:   form.SeverityError,
		Confidence: 0.9,
		Enabled:    true,
	}}

	results := e.EvaluateAll(context.Background(), rs, testValues())
	if len(results.Errors) != 1 {
		t.Fatalf("expected 1 error, got %d", len(results.Errors))
	}
	if results.Errors[0].RuleID != "age_education" {
		t.Errorf("unexpected rule id %s", results.Errors[0].RuleID)
	}
	if results.Confidence >= 1.0 {
		t.Errorf("confidence should have decayed, got %f", results.Confidence)
	}
}

func TestEvaluateAll_RuleDoesNotFire(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "grad_year_sane",
		Field:      form.FieldGraduationYear,
		Expression: `graduationYear < 2000`,
		Message:    "graduation year in the past",
		Severity:   form.SeverityWarning,
		Enabled:    true,
	}}

	results := e.EvaluateAll(context.Background(), rs, testValues())
	if results.IssueCount() != 0 {
		t.Fatalf("expected no issues, got %d", results.IssueCount())
	}
	if results.Confidence != 1.0 {
		t.Errorf("confidence should be untouched, got %f", results.Confidence)
	}
}

func TestEvaluateAll_BrokenRuleDowngradesToWarning(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{
		{
			ID:         "broken",
			Field:      form.FieldAge,
			Expression: `age <<>> 12`, // does not parse
			Severity:   form.SeverityError,
			Enabled:    true,
		},
		{
			ID:         "healthy",
			Field:      form.FieldAge,
			Expression: `age < 16`,
			Message:    "young applicant",
			Severity:   form.SeverityWarning,
			Confidence: 0.8,
			Enabled:    true,
		},
	}

	results := e.EvaluateAll(context.Background(), rs, testValues())

	// The broken rule must not abort the batch: the healthy rule still
	// fires, and the failure shows up as a low-confidence warning.
	if len(results.Errors) != 0 {
		t.Errorf("evaluator failure must not produce errors, got %d", len(results.Errors))
	}
	if len(results.Warnings) != 2 {
		t.Fatalf("expected 2 warnings (eval_error + healthy), got %d", len(results.Warnings))
	}
	var evalErr *form.ValidationIssue
	for i := range results.Warnings {
		if strings.HasSuffix(results.Warnings[i].RuleID, ":eval_error") {
			evalErr = &results.Warnings[i]
		}
	}
	if evalErr == nil {
		t.Fatal("missing :eval_error issue")
	}
	if evalErr.Confidence != 0.3 {
		t.Errorf("eval_error confidence should be 0.3, got %f", evalErr.Confidence)
	}
}

func TestEvaluateAll_MissingFieldSkipsRule(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "needs_visa",
		Field:      form.FieldVisaType,
		Expression: `visaType == ""`,
		Severity:   form.SeverityError,
		Enabled:    true,
	}}

	results := e.EvaluateAll(context.Background(), rs, testValues())
	if results.IssueCount() != 0 {
		t.Errorf("rule over an absent field must be skipped, got %d issues", results.IssueCount())
	}
}

func TestEvaluateAll_StringLiteralNotMistakenForField(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "country_check",
		Field:      form.FieldCountry,
		Expression: `country == "Wakanda"`,
		Message:    "unrecognized country",
		Severity:   form.SeverityWarning,
		Enabled:    true,
	}}

	// "Wakanda" is a string literal, not an unbound field; the rule
	// evaluates (to false) instead of being skipped or erroring.
	results := e.EvaluateAll(context.Background(), rs, testValues())
	if results.IssueCount() != 0 {
		t.Errorf("expected clean evaluation, got %d issues", results.IssueCount())
	}
}

func TestEvaluateAll_DisabledRuleIgnored(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "disabled",
		Field:      form.FieldAge,
		Expression: `age < 100`,
		Severity:   form.SeverityError,
		Enabled:    false,
	}}

	results := e.EvaluateAll(context.Background(), rs, testValues())
	if results.IssueCount() != 0 {
		t.Errorf("disabled rule must not fire")
	}
}

func TestEvaluateAll_NonBooleanExpression(t *testing.T) {
	e := NewEvaluator()
	rs := []Rule{{
		ID:         "not_bool",
		Field:      form.FieldAge,
		Expression: `age + 1`,
		Severity:   form.SeverityError,
		Enabled:    true,
	}}

	results := e.EvaluateAll(context.Background(), rs, testValues())
	if len(results.Warnings) != 1 {
		t.Fatalf("expected 1 downgraded warning, got %d", len(results.Warnings))
	}
	if results.Warnings[0].Confidence != 0.3 {
		t.Errorf("expected confidence 0.3, got %f", results.Warnings[0].Confidence)
	}
}
