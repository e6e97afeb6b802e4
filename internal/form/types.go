// Package form provides the shared data model for the adaptive-form
// decision engine: field identifiers, tagged field values, form
// session contexts, outcome actions, validation results, and detected
// data conflicts. This package exists to break import cycles between
// the engine, the component packages, and the stores. Types here are
// foundational data structures with no complex dependencies.
package form

import (
	"sort"
	"time"
)

// FieldID identifies one form field. Known fields get constants below;
// unknown ids still flow through Values maps so newer form templates
// stay forward-compatible with older engine builds.
type FieldID string

// Core identity and education fields (the always-visible baseline).
const (
	FieldFullName       FieldID = "fullName"
	FieldDateOfBirth    FieldID = "dateOfBirth"
	FieldEmail          FieldID = "email"
	FieldEducationLevel FieldID = "educationLevel"
	FieldSchoolType     FieldID = "schoolType"
	FieldState          FieldID = "state"
	FieldCountry        FieldID = "country"
)

// Conditionally revealed fields.
const (
	FieldAge                    FieldID = "age"
	FieldResidencyStatus        FieldID = "residencyStatus"
	FieldDependencyStatus       FieldID = "fafsaDependencyStatus"
	FieldStartDate              FieldID = "startDate"
	FieldGraduationYear         FieldID = "graduationYear"
	FieldProgramDuration        FieldID = "programDurationYears"
	FieldHousingPlan            FieldID = "housingPlan"
	FieldPlannedWorkHours       FieldID = "plannedWorkHours"
	FieldPlanningToWork         FieldID = "planningToWork"
	FieldVisaType               FieldID = "visaType"
	FieldInternationalStudentID FieldID = "internationalStudentID"
	FieldStateAidEligibility    FieldID = "stateAidEligibility"
	FieldResidencyTimeline      FieldID = "residencyTimeline"
	FieldTargetState            FieldID = "targetState"
	FieldMealPlanCost           FieldID = "mealPlanCost"
	FieldDormCost               FieldID = "dormCost"
	FieldRentEstimate           FieldID = "rentEstimate"
	FieldUtilitiesEstimate      FieldID = "utilitiesEstimate"
	FieldResearchFunding        FieldID = "researchFunding"
	FieldAssistantshipInterest  FieldID = "assistantshipInterest"
	FieldWorkStudyInterest      FieldID = "workStudyInterest"
	FieldExpectedEarnings       FieldID = "expectedEarnings"
	FieldEligiblePrograms       FieldID = "eligiblePrograms"
)

// BaselineFields returns the fixed set of fields that stay visible
// regardless of decision-tree output or conditional rules. Callers get
// a fresh slice each time.
func BaselineFields() []FieldID {
	return []FieldID{
		FieldFullName,
		FieldDateOfBirth,
		FieldEmail,
		FieldEducationLevel,
		FieldSchoolType,
		FieldState,
		FieldCountry,
	}
}

// Source tags where a field update originated.
type Source string

const (
	SourceUserInput  Source = "user_input"
	SourceInferred   Source = "inferred"
	SourceTemplate   Source = "template"
	SourceCalculated Source = "calculated"
)

// FieldUpdate is a single change to one field. Created by the form UI
// layer, consumed exactly once by the orchestrator.
type FieldUpdate struct {
	Field     FieldID    `json:"fieldId"`
	Value     FieldValue `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
	Source    Source     `json:"source"`
}

// ActionType enumerates the discrete effects a decision tree can
// produce for a field.
type ActionType string

const (
	ActionShowField ActionType = "show_field"
	ActionHideField ActionType = "hide_field"
	ActionCalculate ActionType = "calculate"
	ActionValidate  ActionType = "validate"
	ActionWarn      ActionType = "warn"
	ActionError     ActionType = "error"
)

// OutcomeAction is one effect produced by tree evaluation, consumed by
// the visibility calculator and the orchestrator.
type OutcomeAction struct {
	Type        ActionType        `json:"type" yaml:"type"`
	TargetField FieldID           `json:"targetField" yaml:"target_field"`
	Parameters  map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Confidence  float64           `json:"confidence" yaml:"confidence"`
}

// Clone deep-copies the action.
func (a OutcomeAction) Clone() OutcomeAction {
	out := a
	if a.Parameters != nil {
		out.Parameters = make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is one finding from rule evaluation.
type ValidationIssue struct {
	RuleID         string   `json:"ruleId"`
	Field          FieldID  `json:"field"`
	Message        string   `json:"message"`
	Severity       Severity `json:"severity"`
	ResolutionHint string   `json:"resolutionHint,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Confidence decay factors applied per issue. Overall confidence
// starts at 1.0 and only decreases within one processing pass.
const (
	errorDecay   = 0.85
	warningDecay = 0.95
)

// ValidationResults aggregates issues from one evaluation pass.
type ValidationResults struct {
	Errors      []ValidationIssue `json:"errors"`
	Warnings    []ValidationIssue `json:"warnings"`
	Suggestions []ValidationIssue `json:"suggestions"`
	Confidence  float64           `json:"confidence"`
}

// NewValidationResults returns an empty result set at full confidence.
func NewValidationResults() ValidationResults {
	return ValidationResults{Confidence: 1.0}
}

// Add routes the issue by severity and decays the overall confidence.
// Info-severity issues land in Suggestions and do not decay confidence.
func (r *ValidationResults) Add(issue ValidationIssue) {
	switch issue.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, issue)
		r.Confidence *= errorDecay
	case SeverityWarning:
		r.Warnings = append(r.Warnings, issue)
		r.Confidence *= warningDecay
	default:
		r.Suggestions = append(r.Suggestions, issue)
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}

// IssueCount returns errors plus warnings (the escalation count).
func (r ValidationResults) IssueCount() int {
	return len(r.Errors) + len(r.Warnings)
}

// Clone deep-copies the results.
func (r ValidationResults) Clone() ValidationResults {
	out := r
	out.Errors = append([]ValidationIssue(nil), r.Errors...)
	out.Warnings = append([]ValidationIssue(nil), r.Warnings...)
	out.Suggestions = append([]ValidationIssue(nil), r.Suggestions...)
	return out
}

// DataConflict is a detected logical inconsistency between two or more
// field values.
type DataConflict struct {
	ID                  string    `json:"id"`
	Description         string    `json:"description"`
	Fields              []FieldID `json:"fields"`
	SuggestedResolution string    `json:"suggestedResolution,omitempty"`
	Confidence          float64   `json:"confidence"`
	AutoResolved        bool      `json:"autoResolved"`
}

// Clone deep-copies the conflict.
func (c DataConflict) Clone() DataConflict {
	out := c
	out.Fields = append([]FieldID(nil), c.Fields...)
	return out
}

// SortFieldIDs sorts a slice of field ids in place and returns it.
// Visible/hidden sets are kept sorted so serialized contexts compare
// deterministically across the worker boundary.
func SortFieldIDs(ids []FieldID) []FieldID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
