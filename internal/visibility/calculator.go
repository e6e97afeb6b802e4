// Package visibility computes which form fields a client should render
// for the current field-value snapshot. Visibility is derived in two
// passes: decision-tree actions first, then hard conditional rules that
// encode the form's structural dependencies and always win.
package visibility

import (
	"strings"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// Result holds the computed field sets. A field in neither map is
// unspecified: clients keep whatever state they already had for it.
type Result struct {
	Visible map[form.FieldID]bool
	Hidden  map[form.FieldID]bool
}

// VisibleFields returns the visible set sorted for deterministic
// serialization.
func (r Result) VisibleFields() []form.FieldID {
	return sortedKeys(r.Visible)
}

// HiddenFields returns the hidden set sorted.
func (r Result) HiddenFields() []form.FieldID {
	return sortedKeys(r.Hidden)
}

func sortedKeys(set map[form.FieldID]bool) []form.FieldID {
	out := make([]form.FieldID, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	form.SortFieldIDs(out)
	return out
}

// Calculator applies outcome actions and conditional rules to produce
// a visibility result.
type Calculator struct {
	homeCountry string
}

// NewCalculator creates a calculator anchored on the given home
// country for the international field group.
func NewCalculator(homeCountry string) *Calculator {
	if homeCountry == "" {
		homeCountry = "United States"
	}
	return &Calculator{homeCountry: homeCountry}
}

// Apply computes visibility from tree actions plus the conditional
// rules. Baseline fields are always visible; a hide action against one
// is ignored. Actions apply in order, last wins; conditional rules run
// after and override action-derived state for the fields they mention.
func (c *Calculator) Apply(actions []form.OutcomeAction, values form.Values) Result {
	res := Result{
		Visible: make(map[form.FieldID]bool),
		Hidden:  make(map[form.FieldID]bool),
	}

	baseline := make(map[form.FieldID]bool)
	for _, f := range form.BaselineFields() {
		baseline[f] = true
		res.Visible[f] = true
	}

	for _, a := range actions {
		switch a.Type {
		case form.ActionShowField:
			c.show(&res, a.TargetField)
		case form.ActionHideField:
			if baseline[a.TargetField] {
				logging.Get(logging.CategoryVisibility).Debug("ignoring hide on baseline field %s", a.TargetField)
				continue
			}
			c.hide(&res, a.TargetField)
		}
	}

	c.applyConditionalRules(&res, values)
	return res
}

// applyConditionalRules enforces the structural dependencies between
// answered values and dependent field groups.
func (c *Calculator) applyConditionalRules(res *Result, values form.Values) {
	if school, ok := values[form.FieldSchoolType].AsString(); ok && strings.EqualFold(school, "public") {
		c.show(res, form.FieldResidencyTimeline)
		c.show(res, form.FieldTargetState)
		c.show(res, form.FieldResidencyStatus)
	}

	if country, ok := values[form.FieldCountry].AsString(); ok && !c.isHomeCountry(country) {
		c.show(res, form.FieldVisaType)
		c.show(res, form.FieldInternationalStudentID)
		c.hide(res, form.FieldStateAidEligibility)
	}

	if housing, ok := values[form.FieldHousingPlan].AsString(); ok {
		switch strings.ToLower(housing) {
		case "on_campus":
			c.show(res, form.FieldMealPlanCost)
			c.show(res, form.FieldDormCost)
			c.hide(res, form.FieldRentEstimate)
			c.hide(res, form.FieldUtilitiesEstimate)
		case "off_campus":
			c.show(res, form.FieldRentEstimate)
			c.show(res, form.FieldUtilitiesEstimate)
			c.hide(res, form.FieldMealPlanCost)
			c.hide(res, form.FieldDormCost)
		}
	}

	if level, ok := values[form.FieldEducationLevel].AsString(); ok {
		switch strings.ToLower(level) {
		case "graduate", "doctoral":
			c.show(res, form.FieldResearchFunding)
			c.show(res, form.FieldAssistantshipInterest)
		}
	}

	working := false
	if hours, ok := values[form.FieldPlannedWorkHours].AsFloat(); ok && hours > 0 {
		working = true
	}
	if planning, ok := values[form.FieldPlanningToWork].AsBool(); ok && planning {
		working = true
	}
	if working {
		c.show(res, form.FieldWorkStudyInterest)
		c.show(res, form.FieldExpectedEarnings)
	}
}

func (c *Calculator) show(res *Result, f form.FieldID) {
	if f == "" {
		return
	}
	res.Visible[f] = true
	delete(res.Hidden, f)
}

func (c *Calculator) hide(res *Result, f form.FieldID) {
	if f == "" {
		return
	}
	res.Hidden[f] = true
	delete(res.Visible, f)
}

func (c *Calculator) isHomeCountry(country string) bool {
	t := strings.TrimSpace(country)
	if strings.EqualFold(t, c.homeCountry) {
		return true
	}
	if strings.EqualFold(c.homeCountry, "United States") {
		switch strings.ToUpper(t) {
		case "USA", "US", "UNITED STATES OF AMERICA":
			return true
		}
	}
	return false
}
