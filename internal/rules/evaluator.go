package rules

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// Confidence assigned to issues produced by evaluator failures (not
// validation failures). A broken rule must never abort the batch.
const evalErrorConfidence = 0.3

var (
	identPattern   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	stringLitPat   = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	backtickLitPat = regexp.MustCompile("`[^`]*`")
)

// goReserved holds identifiers that may legally appear in an
// expression without being field bindings.
var goReserved = map[string]bool{
	"true": true, "false": true, "nil": true, "len": true,
	"float64": true, "int": true, "string": true, "bool": true,
}

// Evaluator evaluates every active rule against a field-value map.
// It is a pure read of its inputs aside from issue accumulation.
type Evaluator struct{}

// NewEvaluator creates a rule evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateAll runs every enabled rule and returns the aggregated
// results. Per-rule evaluator failures are caught, logged, and
// downgraded to low-confidence warnings rather than propagated.
func (e *Evaluator) EvaluateAll(ctx context.Context, ruleSet []Rule, values form.Values) form.ValidationResults {
	results := form.NewValidationResults()
	if len(ruleSet) == 0 {
		return results
	}

	sandbox, bound := newSandbox(values)

	for _, rule := range ruleSet {
		if !rule.Enabled || rule.Expression == "" {
			continue
		}

		// A rule referencing a field with no value cannot fire.
		if missing := unboundIdentifier(rule.Expression, bound); missing != "" {
			logging.Get(logging.CategoryRules).Debug("rule %s skipped: field %s has no value", rule.ID, missing)
			continue
		}

		fired, err := evalBool(sandbox, rule.Expression)
		if err != nil {
			logging.RulesWarn("rule %s evaluation failed: %v", rule.ID, err)
			results.Add(form.ValidationIssue{
				RuleID:     rule.ID + ":eval_error",
				Field:      rule.Field,
				Message:    fmt.Sprintf("rule %q could not be evaluated: %v", rule.Name, err),
				Severity:   form.SeverityWarning,
				Confidence: evalErrorConfidence,
			})
			continue
		}

		if fired {
			results.Add(rule.Issue())
		}
	}

	return results
}

// newSandbox builds a fresh interpreter with every representable field
// bound as a typed variable. Returns the interpreter and the set of
// bound identifiers.
func newSandbox(values form.Values) (*interp.Interpreter, map[string]bool) {
	i := interp.New(interp.Options{})
	// Stdlib symbols only; rule expressions have no filesystem,
	// network, or exec access.
	if err := i.Use(stdlib.Symbols); err != nil {
		logging.RulesWarn("failed to load stdlib symbols: %v", err)
	}

	bound := make(map[string]bool, len(values))
	for _, f := range values.SortedFields() {
		name := string(f)
		if !isIdentifier(name) {
			continue
		}
		lit, ok := literalFor(values[f])
		if !ok {
			continue
		}
		if _, err := i.Eval(fmt.Sprintf("%s := %s", name, lit)); err != nil {
			logging.RulesWarn("failed to bind field %s: %v", name, err)
			continue
		}
		bound[name] = true
	}
	return i, bound
}

// evalBool evaluates the expression, recovering interpreter panics.
func evalBool(i *interp.Interpreter, expr string) (fired bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expression panicked: %v", r)
		}
	}()

	v, err := i.Eval(expr)
	if err != nil {
		return false, err
	}
	if !v.IsValid() || v.Kind() != reflect.Bool {
		return false, fmt.Errorf("expression did not produce a boolean")
	}
	return v.Bool(), nil
}

// literalFor renders a field value as a Go literal.
func literalFor(v form.FieldValue) (string, bool) {
	switch v.Kind {
	case form.KindString:
		return strconv.Quote(v.Str), true
	case form.KindNumber:
		return "float64(" + strconv.FormatFloat(v.Num, 'g', -1, 64) + ")", true
	case form.KindBool:
		return strconv.FormatBool(v.Bool), true
	case form.KindTime:
		return strconv.Quote(v.Time.Format(time.RFC3339)), true
	}
	return "", false
}

// unboundIdentifier returns the first identifier in the expression
// that is neither a bound field nor a reserved word, or "" if all
// identifiers resolve. String literals are stripped first so their
// contents are not mistaken for identifiers.
func unboundIdentifier(expr string, bound map[string]bool) string {
	stripped := stringLitPat.ReplaceAllString(expr, `""`)
	stripped = backtickLitPat.ReplaceAllString(stripped, `""`)
	for _, ident := range identPattern.FindAllString(stripped, -1) {
		if goReserved[ident] || bound[ident] {
			continue
		}
		return ident
	}
	return ""
}

func isIdentifier(s string) bool {
	if s == "" || goReserved[s] {
		return false
	}
	return identPattern.FindString(s) == s
}
