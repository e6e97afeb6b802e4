// Package conflict implements cross-field consistency checking for
// adaptive financial-aid forms. It detects known semantically
// inconsistent field combinations and, for the unambiguous low-risk
// cases, rewrites the offending value automatically. Higher-stakes
// mismatches are always surfaced for human confirmation - that
// asymmetry is deliberate and load-bearing.
package conflict

import (
	"fmt"
	"math"
	"strings"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// Conflict ids for the three canonical families.
const (
	IDAgeDependencyMismatch      = "age_dependency_mismatch"
	IDInternationalInstate       = "international_instate_conflict"
	IDGraduationTimelineMismatch = "graduation_timeline_conflict"
)

// Confidence assigned per family.
const (
	ageDependencyConfidence      = 0.9
	internationalConfidence      = 0.95
	graduationTimelineConfidence = 0.8
)

// Independence-age threshold used by FAFSA-style dependency status.
const independenceAge = 24

// Policy carries the detector's tunable parameters.
type Policy struct {
	// AutoResolveThreshold is the minimum confidence for automatic
	// resolution. Below it the system must ask a human rather than
	// guess.
	AutoResolveThreshold float64

	// HomeCountry anchors the residency consistency check.
	HomeCountry string
}

// DefaultPolicy returns the source-system defaults.
func DefaultPolicy() Policy {
	return Policy{AutoResolveThreshold: 0.8, HomeCountry: "United States"}
}

// Detector inspects a field-value map for inconsistent combinations.
type Detector struct {
	policy Policy

	// autoResolvable lists the conflict ids eligible for automatic
	// resolution. Age/dependency and graduation-timeline conflicts are
	// excluded on purpose: changing them has downstream financial-aid
	// implications, so they always require user confirmation.
	autoResolvable map[string]bool
}

// NewDetector creates a detector with the given policy.
func NewDetector(policy Policy) *Detector {
	if policy.HomeCountry == "" {
		policy.HomeCountry = DefaultPolicy().HomeCountry
	}
	return &Detector{
		policy: policy,
		autoResolvable: map[string]bool{
			IDInternationalInstate: true,
		},
	}
}

// Detect returns every conflict found in the values. Detection is a
// pure read; Resolve applies the rewrites.
func (d *Detector) Detect(values form.Values) []form.DataConflict {
	var conflicts []form.DataConflict

	if c, ok := d.ageDependency(values); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := d.internationalInstate(values); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := d.graduationTimeline(values); ok {
		conflicts = append(conflicts, c)
	}

	if len(conflicts) > 0 {
		logging.Conflicts("detected %d conflict(s)", len(conflicts))
	}
	return conflicts
}

// Resolve applies automatic resolutions where permitted and returns
// the (possibly rewritten) values plus the conflicts with AutoResolved
// set. The gate is strict: the conflict id must be in the
// auto-resolvable set AND its confidence must meet the threshold.
// Values for conflicts below the threshold are never touched.
func (d *Detector) Resolve(values form.Values, conflicts []form.DataConflict) (form.Values, []form.DataConflict) {
	out := make([]form.DataConflict, len(conflicts))
	resolved := values

	for i, c := range conflicts {
		out[i] = c.Clone()
		if !d.autoResolvable[c.ID] || c.Confidence < d.policy.AutoResolveThreshold {
			continue
		}

		switch c.ID {
		case IDInternationalInstate:
			resolved = resolved.Clone()
			resolved.Set(form.FieldResidencyStatus, form.String("international"))
			out[i].AutoResolved = true
			logging.Conflicts("auto-resolved %s: residencyStatus -> international", c.ID)
		}
	}

	return resolved, out
}

// ageDependency flags an applicant at or past the independence age who
// still reports a dependent FAFSA status.
func (d *Detector) ageDependency(values form.Values) (form.DataConflict, bool) {
	age, okAge := values[form.FieldAge].AsFloat()
	status, okStatus := values[form.FieldDependencyStatus].AsString()
	if !okAge || !okStatus {
		return form.DataConflict{}, false
	}
	if age < independenceAge || !strings.EqualFold(status, "dependent") {
		return form.DataConflict{}, false
	}

	return form.DataConflict{
		ID:          IDAgeDependencyMismatch,
		Description: fmt.Sprintf("age %d meets the FAFSA independence threshold but dependency status is %q", int(age), status),
		Fields:      []form.FieldID{form.FieldAge, form.FieldDependencyStatus},
		SuggestedResolution: "confirm dependency status with the applicant; students aged 24 or older " +
			"usually qualify as independent",
		Confidence: ageDependencyConfidence,
	}, true
}

// internationalInstate flags a non-home country paired with an
// in-state residency status. This is the one family safe to auto-fix:
// the correction is unambiguous and cannot under- or over-state
// eligibility.
func (d *Detector) internationalInstate(values form.Values) (form.DataConflict, bool) {
	country, okCountry := values[form.FieldCountry].AsString()
	status, okStatus := values[form.FieldResidencyStatus].AsString()
	if !okCountry || !okStatus {
		return form.DataConflict{}, false
	}
	if d.isHomeCountry(country) || !strings.EqualFold(status, "in_state") {
		return form.DataConflict{}, false
	}

	return form.DataConflict{
		ID:                  IDInternationalInstate,
		Description:         fmt.Sprintf("country %q is outside %s but residency status is in_state", country, d.policy.HomeCountry),
		Fields:              []form.FieldID{form.FieldCountry, form.FieldResidencyStatus},
		SuggestedResolution: "set residency status to international",
		Confidence:          internationalConfidence,
	}, true
}

// graduationTimeline flags a graduation year that deviates more than
// one year from start date plus program duration.
func (d *Detector) graduationTimeline(values form.Values) (form.DataConflict, bool) {
	gradYear, okGrad := values[form.FieldGraduationYear].AsFloat()
	duration, okDur := values[form.FieldProgramDuration].AsFloat()
	start, okStart := values[form.FieldStartDate].AsTime()
	if !okGrad || !okDur || !okStart {
		return form.DataConflict{}, false
	}

	expected := float64(start.Year()) + duration
	if math.Abs(gradYear-expected) <= 1 {
		return form.DataConflict{}, false
	}

	return form.DataConflict{
		ID: IDGraduationTimelineMismatch,
		Description: fmt.Sprintf("graduation year %d is inconsistent with a %d-year program starting %d",
			int(gradYear), int(duration), start.Year()),
		Fields: []form.FieldID{form.FieldGraduationYear, form.FieldStartDate, form.FieldProgramDuration},
		SuggestedResolution: fmt.Sprintf("expected graduation year is approximately %d", int(expected)),
		Confidence:          graduationTimelineConfidence,
	}, true
}

// isHomeCountry matches the configured home country plus common
// aliases for the default.
func (d *Detector) isHomeCountry(country string) bool {
	c := strings.TrimSpace(country)
	if strings.EqualFold(c, d.policy.HomeCountry) {
		return true
	}
	if strings.EqualFold(d.policy.HomeCountry, "United States") {
		switch strings.ToUpper(c) {
		case "USA", "US", "UNITED STATES OF AMERICA":
			return true
		}
	}
	return false
}
