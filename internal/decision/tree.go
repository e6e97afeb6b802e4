// Package decision implements condition->action decision trees used to
// infer which form fields to surface next. Trees are immutable once
// loaded; the walker traverses them against a field-value snapshot and
// collects outcome actions with a multiplicatively decaying confidence.
package decision

import (
	"fmt"

	"formsense/internal/form"
)

// FallbackStrategy names what a tree does when its traversal fails.
type FallbackStrategy string

const (
	// FallbackConservative keeps the actions collected before the
	// failure and adds a warn action so the UI can flag the section.
	FallbackConservative FallbackStrategy = "conservative"

	// FallbackSkip keeps collected actions and nothing else.
	FallbackSkip FallbackStrategy = "skip"

	// FallbackEscalate keeps collected actions and adds an error
	// action, which forces escalation downstream.
	FallbackEscalate FallbackStrategy = "escalate"
)

// Operator names a condition comparison.
type Operator string

const (
	OpEq     Operator = "eq"
	OpNeq    Operator = "neq"
	OpGt     Operator = "gt"
	OpGte    Operator = "gte"
	OpLt     Operator = "lt"
	OpLte    Operator = "lte"
	OpIn     Operator = "in"
	OpExists Operator = "exists"
	OpAbsent Operator = "absent"
)

// Condition is one comparison against a field value.
type Condition struct {
	Field    form.FieldID      `json:"field" yaml:"field"`
	Operator Operator          `json:"operator" yaml:"operator"`
	Value    form.FieldValue   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []form.FieldValue `json:"values,omitempty" yaml:"values,omitempty"` // for "in"
}

// Branch labels for NextNodes.
const (
	BranchMatch   = "match"
	BranchNoMatch = "nomatch"
	BranchDefault = "default"
)

// DecisionNode is one question in a tree.
type DecisionNode struct {
	ID         string       `json:"id" yaml:"id"`
	Question   string       `json:"question,omitempty" yaml:"question,omitempty"`
	Field      form.FieldID `json:"field,omitempty" yaml:"field,omitempty"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// NextNodes maps a branch label (match/nomatch/default) to the
	// next node id. An empty map ends the walk at this node.
	NextNodes map[string]string `json:"nextNodes,omitempty" yaml:"next_nodes,omitempty"`

	// Confidence scales the running traversal confidence when the
	// walk passes through this node.
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Actions yielded when this node's conditions match.
	Actions []form.OutcomeAction `json:"actions,omitempty" yaml:"actions,omitempty"`

	// ValidationRuleIDs names rules that become relevant once this
	// node matches. Advisory metadata for the rule store.
	ValidationRuleIDs []string `json:"validationRuleIds,omitempty" yaml:"validation_rule_ids,omitempty"`
}

// DecisionTree is a named, versioned graph of decision nodes rooted at
// one entry node. Read-only input to the walker.
type DecisionTree struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	RootNode string                  `json:"rootNode" yaml:"root_node"`
	Nodes    map[string]DecisionNode `json:"nodes" yaml:"nodes"`

	// AIPrompt frames this tree's intent for the review summarizer.
	AIPrompt       string   `json:"aiPrompt,omitempty" yaml:"ai_prompt,omitempty"`
	CriticalRules  []string `json:"criticalRules,omitempty" yaml:"critical_rules,omitempty"`
	CommonMistakes []string `json:"commonMistakes,omitempty" yaml:"common_mistakes,omitempty"`

	Fallback FallbackStrategy `json:"fallback" yaml:"fallback"`

	// AppliesTo lists the form phases this tree participates in. An
	// empty list means every phase.
	AppliesTo []string `json:"appliesTo,omitempty" yaml:"applies_to,omitempty"`
}

// AppliesToPhase reports whether the tree participates in the phase.
func (t DecisionTree) AppliesToPhase(phase string) bool {
	if len(t.AppliesTo) == 0 {
		return true
	}
	for _, p := range t.AppliesTo {
		if p == phase {
			return true
		}
	}
	return false
}

// Validate checks structural integrity: the root exists and every
// branch target resolves.
func (t DecisionTree) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tree has no id")
	}
	if _, ok := t.Nodes[t.RootNode]; !ok {
		return fmt.Errorf("tree %s: root node %q not found", t.ID, t.RootNode)
	}
	for id, node := range t.Nodes {
		for branch, next := range node.NextNodes {
			if _, ok := t.Nodes[next]; !ok {
				return fmt.Errorf("tree %s: node %s branch %s targets missing node %q", t.ID, id, branch, next)
			}
		}
	}
	return nil
}

// matches evaluates a condition set; an empty set always matches.
func matches(conds []Condition, values form.Values) bool {
	for _, c := range conds {
		if !matchOne(c, values) {
			return false
		}
	}
	return true
}

func matchOne(c Condition, values form.Values) bool {
	v, present := values.Get(c.Field)

	switch c.Operator {
	case OpExists:
		return present && !v.IsNull()
	case OpAbsent:
		return !present || v.IsNull()
	}

	if !present {
		return false
	}

	switch c.Operator {
	case OpEq:
		return v.Equal(c.Value)
	case OpNeq:
		return !v.Equal(c.Value)
	case OpIn:
		for _, candidate := range c.Values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := v.AsFloat()
		b, okB := c.Value.AsFloat()
		if !okA || !okB {
			return false
		}
		switch c.Operator {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}
