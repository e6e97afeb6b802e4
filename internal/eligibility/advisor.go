// Package eligibility derives candidate aid programs from the current
// field values using a small Datalog policy evaluated with Mangle. The
// output is advisory only: it feeds a calculated field, never a
// validation verdict, so evaluation failures are logged and skipped
// rather than surfaced to the applicant.
package eligibility

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// policy is the aid-program eligibility ruleset. Field values arrive
// as field_string/field_number facts; eligible/1 is the derived
// relation. Program names are Mangle name constants.
const policy = `
Decl field_string(Field, Value).
Decl field_number(Field, Value).
Decl eligible(Program).

eligible(/pell_grant) :-
    field_string("fafsaDependencyStatus", "dependent"),
    field_string("educationLevel", "undergraduate").

eligible(/federal_work_study) :-
    field_number("plannedWorkHours", Hours), Hours > 0.

eligible(/international_merit_scholarship) :-
    field_string("residencyStatus", "international").

eligible(/graduate_research_fellowship) :-
    field_string("educationLevel", "graduate").
eligible(/graduate_research_fellowship) :-
    field_string("educationLevel", "doctoral").

eligible(/state_need_grant) :-
    field_string("residencyStatus", "in_state"),
    field_number("age", Age), Age < 24.
`

// Advisor evaluates the eligibility policy against field snapshots.
// The program is parsed and analyzed once; each evaluation gets a
// fresh fact store so snapshots never bleed into each other.
type Advisor struct {
	programInfo *analysis.ProgramInfo
}

// NewAdvisor parses and analyzes the built-in policy.
func NewAdvisor() (*Advisor, error) {
	unit, err := parse.Unit(strings.NewReader(policy))
	if err != nil {
		return nil, fmt.Errorf("parsing eligibility policy: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyzing eligibility policy: %w", err)
	}
	return &Advisor{programInfo: programInfo}, nil
}

// EligiblePrograms evaluates the policy for one snapshot and returns
// the matching program names, sorted.
func (a *Advisor) EligiblePrograms(values form.Values) ([]string, error) {
	store := factstore.NewSimpleInMemoryStore()
	a.addFacts(store, values)

	if _, err := mengine.EvalProgramWithStats(a.programInfo, store); err != nil {
		return nil, fmt.Errorf("evaluating eligibility policy: %w", err)
	}

	var programs []string
	pred := ast.PredicateSym{Symbol: "eligible", Arity: 1}
	err := store.GetFacts(ast.NewQuery(pred), func(atom ast.Atom) error {
		if c, ok := atom.Args[0].(ast.Constant); ok {
			programs = append(programs, strings.TrimPrefix(c.Symbol, "/"))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying eligible programs: %w", err)
	}

	sort.Strings(programs)
	logging.Get(logging.CategoryEligibility).Debug("derived %d eligible program(s): %v", len(programs), programs)
	return programs, nil
}

// addFacts projects the field values into field_string/field_number
// facts. String values are lowercased so policy literals stay simple;
// numeric values truncate to int64 since the policy only compares
// whole-number thresholds.
func (a *Advisor) addFacts(store factstore.FactStore, values form.Values) {
	for _, f := range values.SortedFields() {
		v := values[f]
		if s, ok := v.AsString(); ok && v.Kind == form.KindString {
			store.Add(ast.NewAtom("field_string", ast.String(string(f)), ast.String(strings.ToLower(s))))
			continue
		}
		if n, ok := v.AsFloat(); ok {
			store.Add(ast.NewAtom("field_number", ast.String(string(f)), ast.Number(int64(n))))
		}
	}
}
