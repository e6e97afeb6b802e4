package decision

import (
	"fmt"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// WalkResult is the outcome of traversing one tree.
type WalkResult struct {
	TreeID     string
	Actions    []form.OutcomeAction
	Confidence float64

	// Completed is false when the walk stopped early (confidence
	// floor, cycle, or fallback).
	Completed bool

	// Aborted names the early-stop reason, if any.
	Aborted string
}

// Walker traverses decision trees against field-value snapshots.
type Walker struct {
	// floor stops a walk once running confidence falls to or below it.
	floor float64
}

// NewWalker creates a walker with the given traversal confidence
// floor.
func NewWalker(floor float64) *Walker {
	return &Walker{floor: floor}
}

// Walk traverses one tree from its root. Traversal failures apply the
// tree's declared fallback strategy instead of escaping, and the
// actions collected before a failure are always kept.
func (w *Walker) Walk(tree DecisionTree, values form.Values) (result WalkResult) {
	result = WalkResult{TreeID: tree.ID, Confidence: 1.0}

	defer func() {
		if r := recover(); r != nil {
			logging.TreesWarn("tree %s traversal panicked: %v", tree.ID, r)
			result = w.applyFallback(tree, result, fmt.Sprintf("panic: %v", r))
		}
	}()

	visited := make(map[string]bool, len(tree.Nodes))
	current := tree.RootNode

	for current != "" {
		// Cycle guard: a repeated node silently ends this tree's walk,
		// keeping whatever was already collected.
		if visited[current] {
			logging.TreesWarn("tree %s: node %s repeated, aborting walk", tree.ID, current)
			result.Aborted = "cycle"
			return result
		}
		visited[current] = true

		node, ok := tree.Nodes[current]
		if !ok {
			return w.applyFallback(tree, result, fmt.Sprintf("missing node %q", current))
		}

		matched := matches(node.Conditions, values)
		if matched {
			for _, a := range node.Actions {
				action := a.Clone()
				if action.Confidence == 0 {
					action.Confidence = result.Confidence
				}
				result.Actions = append(result.Actions, action)
			}
		}

		if node.Confidence > 0 {
			result.Confidence *= node.Confidence
		}
		if result.Confidence <= w.floor {
			logging.Get(logging.CategoryTrees).Debug("tree %s: confidence %.3f at floor, stopping", tree.ID, result.Confidence)
			result.Aborted = "confidence_floor"
			return result
		}

		current = nextNode(node, matched)
	}

	result.Completed = true
	return result
}

// WalkAll walks every tree independently, concatenates their actions,
// and deduplicates: the same (type, target) pair collapses to the
// highest-confidence instance, preserving first-occurrence order.
func (w *Walker) WalkAll(trees []DecisionTree, values form.Values) []form.OutcomeAction {
	var all []form.OutcomeAction
	for _, tree := range trees {
		res := w.Walk(tree, values)
		all = append(all, res.Actions...)
	}
	return DedupeActions(all)
}

// DedupeActions collapses duplicate (type, target) actions, keeping
// the highest-confidence instance in first-occurrence order.
func DedupeActions(actions []form.OutcomeAction) []form.OutcomeAction {
	type key struct {
		t      form.ActionType
		target form.FieldID
	}
	index := make(map[key]int, len(actions))
	var out []form.OutcomeAction
	for _, a := range actions {
		k := key{a.Type, a.TargetField}
		if i, seen := index[k]; seen {
			if a.Confidence > out[i].Confidence {
				out[i] = a
			}
			continue
		}
		index[k] = len(out)
		out = append(out, a)
	}
	return out
}

// applyFallback realizes the tree's fallback strategy after a
// traversal failure. Collected actions are always honored.
func (w *Walker) applyFallback(tree DecisionTree, result WalkResult, reason string) WalkResult {
	result.Aborted = "fallback:" + reason

	switch tree.Fallback {
	case FallbackEscalate:
		result.Actions = append(result.Actions, form.OutcomeAction{
			Type:        form.ActionError,
			TargetField: form.FieldID(tree.ID),
			Parameters:  map[string]string{"reason": reason},
			Confidence:  1.0,
		})
	case FallbackSkip:
		// Collected actions only.
	default: // FallbackConservative and unspecified
		result.Actions = append(result.Actions, form.OutcomeAction{
			Type:        form.ActionWarn,
			TargetField: form.FieldID(tree.ID),
			Parameters:  map[string]string{"reason": reason},
			Confidence:  0.5,
		})
	}
	return result
}

// nextNode resolves the branch for a node: match/nomatch first, then
// default. Empty string ends the walk.
func nextNode(node DecisionNode, matched bool) string {
	if node.NextNodes == nil {
		return ""
	}
	branch := BranchNoMatch
	if matched {
		branch = BranchMatch
	}
	if next, ok := node.NextNodes[branch]; ok {
		return next
	}
	if next, ok := node.NextNodes[BranchDefault]; ok {
		return next
	}
	return ""
}
