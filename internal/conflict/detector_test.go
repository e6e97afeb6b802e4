package conflict

import (
	"testing"
	"time"

	"formsense/internal/form"
)

func newTestDetector() *Detector {
	return NewDetector(DefaultPolicy())
}

func TestDetect_AgeDependencyMismatch(t *testing.T) {
	d := newTestDetector()
	values := form.Values{
		form.FieldAge:              form.Number(25),
		form.FieldDependencyStatus: form.String("dependent"),
	}

	conflicts := d.Detect(values)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ID != IDAgeDependencyMismatch {
		t.Errorf("expected id %s, got %s", IDAgeDependencyMismatch, c.ID)
	}
	if c.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", c.Confidence)
	}

	// Never auto-resolved, despite confidence >= 0.8: dependency
	// status changes require user confirmation.
	resolved, out := d.Resolve(values, conflicts)
	if out[0].AutoResolved {
		t.Error("age/dependency conflict must not auto-resolve")
	}
	if v, _ := resolved[form.FieldDependencyStatus].AsString(); v != "dependent" {
		t.Errorf("dependency status must remain dependent, got %s", v)
	}
}

func TestDetect_InternationalInstateAutoResolves(t *testing.T) {
	d := newTestDetector()
	values := form.Values{
		form.FieldCountry:         form.String("Canada"),
		form.FieldResidencyStatus: form.String("in_state"),
	}

	conflicts := d.Detect(values)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ID != IDInternationalInstate {
		t.Errorf("expected id %s, got %s", IDInternationalInstate, c.ID)
	}
	if c.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", c.Confidence)
	}

	resolved, out := d.Resolve(values, conflicts)
	if !out[0].AutoResolved {
		t.Error("international/in_state conflict should auto-resolve")
	}
	if v, _ := resolved[form.FieldResidencyStatus].AsString(); v != "international" {
		t.Errorf("expected residencyStatus=international, got %s", v)
	}
	// The input map must not be mutated.
	if v, _ := values[form.FieldResidencyStatus].AsString(); v != "in_state" {
		t.Errorf("input values mutated: residencyStatus=%s", v)
	}
}

func TestDetect_HomeCountryAliases(t *testing.T) {
	d := newTestDetector()
	for _, country := range []string{"United States", "USA", "us", "United States of America"} {
		values := form.Values{
			form.FieldCountry:         form.String(country),
			form.FieldResidencyStatus: form.String("in_state"),
		}
		if got := d.Detect(values); len(got) != 0 {
			t.Errorf("country %q should not conflict with in_state", country)
		}
	}
}

func TestDetect_GraduationTimeline(t *testing.T) {
	d := newTestDetector()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	values := form.Values{
		form.FieldStartDate:       form.Timestamp(start),
		form.FieldProgramDuration: form.Number(4),
		form.FieldGraduationYear:  form.Number(2035), // expected ~2030
	}

	conflicts := d.Detect(values)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.ID != IDGraduationTimelineMismatch {
		t.Errorf("expected id %s, got %s", IDGraduationTimelineMismatch, c.ID)
	}
	if c.Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", c.Confidence)
	}
	if c.SuggestedResolution == "" {
		t.Error("expected a suggested corrected year")
	}

	// Flagged but never auto-resolved.
	resolved, out := d.Resolve(values, conflicts)
	if out[0].AutoResolved {
		t.Error("graduation timeline conflict must not auto-resolve")
	}
	if v, _ := resolved[form.FieldGraduationYear].AsFloat(); v != 2035 {
		t.Errorf("graduation year must remain 2035, got %f", v)
	}
}

func TestDetect_OneYearDeviationTolerated(t *testing.T) {
	d := newTestDetector()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	values := form.Values{
		form.FieldStartDate:       form.Timestamp(start),
		form.FieldProgramDuration: form.Number(4),
		form.FieldGraduationYear:  form.Number(2031), // exactly +1
	}
	if got := d.Detect(values); len(got) != 0 {
		t.Errorf("deviation of exactly one year must be tolerated, got %d conflicts", len(got))
	}
}

func TestResolve_ThresholdGate(t *testing.T) {
	// Raise the threshold above the international conflict's 0.95 to
	// verify the confidence gate is honored independently of the
	// auto-resolvable id set.
	d := NewDetector(Policy{AutoResolveThreshold: 0.99, HomeCountry: "United States"})
	values := form.Values{
		form.FieldCountry:         form.String("Canada"),
		form.FieldResidencyStatus: form.String("in_state"),
	}
	conflicts := d.Detect(values)
	resolved, out := d.Resolve(values, conflicts)
	if out[0].AutoResolved {
		t.Error("conflict below the auto-resolve threshold must not resolve")
	}
	if v, _ := resolved[form.FieldResidencyStatus].AsString(); v != "in_state" {
		t.Errorf("values must be unchanged below threshold, got %s", v)
	}
}

func TestDetect_CleanDataNoConflicts(t *testing.T) {
	d := newTestDetector()
	values := form.Values{
		form.FieldAge:              form.Number(19),
		form.FieldDependencyStatus: form.String("dependent"),
		form.FieldCountry:          form.String("United States"),
		form.FieldResidencyStatus:  form.String("in_state"),
	}
	if got := d.Detect(values); len(got) != 0 {
		t.Errorf("expected no conflicts, got %v", got)
	}
}
