// Package escalation decides when a form session must be routed to a
// human reviewer instead of continuing automated inference. The policy
// is deliberately conservative: a false "needs review" costs a reviewer
// a few minutes, silently proceeding on shaky inferred data costs an
// applicant their aid package.
package escalation

import (
	"fmt"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// Trigger names returned by ShouldEscalate, for logging and review
// summaries.
const (
	TriggerValidationError      = "validation_error"
	TriggerLowConfidence        = "low_confidence"
	TriggerUnresolvableConflict = "unresolvable_conflict"
	TriggerIssueCount           = "issue_count"
)

// Policy holds the escalation thresholds. The constants originate from
// policy, not measurement, so they stay configurable.
type Policy struct {
	// MinConfidence escalates when overall validation confidence falls
	// below it.
	MinConfidence float64

	// UnresolvableConflictFloor escalates when any detected conflict's
	// confidence is below it, since such a conflict cannot be trusted
	// for automatic handling either way.
	UnresolvableConflictFloor float64

	// MaxIssues escalates when errors+warnings exceed it.
	MaxIssues int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence:             0.5,
		UnresolvableConflictFloor: 0.7,
		MaxIssues:                 5,
	}
}

// ShouldEscalate evaluates the four triggers as a pure OR and returns
// the names of every trigger that fired. Any single trigger escalates;
// there is no weighting.
func (p Policy) ShouldEscalate(results form.ValidationResults, conflicts []form.DataConflict) (bool, []string) {
	var fired []string

	if len(results.Errors) > 0 {
		fired = append(fired, TriggerValidationError)
	}
	if results.Confidence < p.MinConfidence {
		fired = append(fired, TriggerLowConfidence)
	}
	for _, c := range conflicts {
		if c.Confidence < p.UnresolvableConflictFloor {
			fired = append(fired, TriggerUnresolvableConflict)
			break
		}
	}
	if results.IssueCount() > p.MaxIssues {
		fired = append(fired, TriggerIssueCount)
	}

	if len(fired) > 0 {
		logging.Escalation("escalating: %v (confidence=%.3f issues=%d conflicts=%d)",
			fired, results.Confidence, results.IssueCount(), len(conflicts))
	}
	return len(fired) > 0, fired
}

// Describe renders a short human-readable line per fired trigger, used
// by the review summarizer when no AI backend is configured.
func Describe(fired []string, results form.ValidationResults, conflicts []form.DataConflict) []string {
	out := make([]string, 0, len(fired))
	for _, trigger := range fired {
		switch trigger {
		case TriggerValidationError:
			out = append(out, fmt.Sprintf("%d validation error(s) present", len(results.Errors)))
		case TriggerLowConfidence:
			out = append(out, fmt.Sprintf("overall confidence %.2f is below the review floor", results.Confidence))
		case TriggerUnresolvableConflict:
			out = append(out, fmt.Sprintf("%d conflict(s) detected, at least one below the trust floor", len(conflicts)))
		case TriggerIssueCount:
			out = append(out, fmt.Sprintf("%d combined errors and warnings", results.IssueCount()))
		}
	}
	return out
}
