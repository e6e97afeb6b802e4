// Package engine sequences the decision pipeline for adaptive
// financial-aid forms. The orchestrator runs seven phases per field
// update: merge, tree walking, visibility, validation, conflict
// handling, next-action synthesis, and escalation. An optional
// background worker runs the identical pipeline behind a
// request/response channel; both paths produce bit-identical contexts
// for the same inputs.
package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"formsense/internal/advisor"
	"formsense/internal/config"
	"formsense/internal/conflict"
	"formsense/internal/decision"
	"formsense/internal/eligibility"
	"formsense/internal/escalation"
	"formsense/internal/form"
	"formsense/internal/logging"
	"formsense/internal/rules"
	"formsense/internal/store"
	"formsense/internal/visibility"
)

// Progress checkpoints emitted during one processing run.
const (
	progressMerged     = 10
	progressDispatched = 20
	progressJoined     = 60
	progressSynthesis  = 80
	progressDone       = 100
)

// PipelineFailureRuleID marks the synthetic issue attached to a
// degraded context.
const PipelineFailureRuleID = "engine:pipeline_failure"

// Options wires the orchestrator's collaborators. RuleStore and
// TreeStore are required; Sessions, Eligibility, and Summarizer are
// optional.
type Options struct {
	Config      *config.Config
	RuleStore   store.RuleStore
	TreeStore   store.TreeStore
	Sessions    store.SessionStore
	Eligibility *eligibility.Advisor
	Summarizer  advisor.Summarizer
}

// Orchestrator drives the per-field-update pipeline. Collaborators are
// injected so tests can run against isolated in-memory stores.
type Orchestrator struct {
	cfg        *config.Config
	ruleStore  store.RuleStore
	treeStore  store.TreeStore
	sessions   store.SessionStore
	evaluator  *rules.Evaluator
	walker     *decision.Walker
	calculator *visibility.Calculator
	detector   *conflict.Detector
	policy     escalation.Policy
	advisor    *eligibility.Advisor
	summarizer advisor.Summarizer
}

// New creates an orchestrator from the options. A nil Config uses the
// defaults.
func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Orchestrator{
		cfg:        cfg,
		ruleStore:  opts.RuleStore,
		treeStore:  opts.TreeStore,
		sessions:   opts.Sessions,
		evaluator:  rules.NewEvaluator(),
		walker:     decision.NewWalker(cfg.Engine.TraversalFloor),
		calculator: visibility.NewCalculator(cfg.Engine.HomeCountry),
		detector: conflict.NewDetector(conflict.Policy{
			AutoResolveThreshold: cfg.Engine.AutoResolveThreshold,
			HomeCountry:          cfg.Engine.HomeCountry,
		}),
		policy: escalation.Policy{
			MinConfidence:             cfg.Engine.EscalationMinConfidence,
			UnresolvableConflictFloor: cfg.Engine.UnresolvableConflictFloor,
			MaxIssues:                 cfg.Engine.MaxIssues,
		},
		advisor:    opts.Eligibility,
		summarizer: opts.Summarizer,
	}
}

// ProcessFieldUpdate runs the full pipeline for one update against the
// prior context. It never returns an error: any unrecoverable failure
// yields a degraded context with needsManualIntervention set, a single
// synthetic error issue, and zero confidence, preserving all other
// prior fields. The caller always receives a well-formed context.
func (o *Orchestrator) ProcessFieldUpdate(ctx context.Context, prior form.FormContext, update form.FieldUpdate) form.FormContext {
	return o.process(ctx, prior, update, nil)
}

// process is the shared pipeline body. The progress hook, when
// non-nil, fires at the fixed checkpoints; it must not influence the
// resulting context since the worker path and the in-process path
// must stay bit-identical.
func (o *Orchestrator) process(ctx context.Context, prior form.FormContext, update form.FieldUpdate, progress func(int)) (result form.FormContext) {
	defer func() {
		if r := recover(); r != nil {
			logging.EngineError("pipeline panicked for session %s: %v", prior.SessionID, r)
			result = o.degraded(prior, fmt.Sprintf("pipeline panic: %v", r))
		}
	}()
	emit := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	// Phase 1: merge the update into a cloned context.
	next := prior.Clone()
	next.InferredData.Set(update.Field, update.Value)
	next.ConfidenceScores[update.Field] = sourceConfidence(update.Source)
	emit(progressMerged)

	// Phases 2+3 (trees then visibility) and 4 (validation) have no
	// mutual data dependency and run as parallel tasks.
	var (
		visResult  visibility.Result
		valResults form.ValidationResults
	)
	// errgroup does not propagate goroutine panics to Wait, so each
	// task converts its own panic into a returned error; the degraded
	// path below handles both the same way.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverToErr(&err, "decision phase")
		trees, err := o.treeStore.TreesForPhase(gctx, next.CurrentPhase)
		if err != nil {
			return fmt.Errorf("loading decision trees: %w", err)
		}
		actions := o.walker.WalkAll(trees, next.InferredData)
		visResult = o.calculator.Apply(actions, next.InferredData)
		next.PendingActions = pendingActions(actions)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverToErr(&err, "validation phase")
		active, err := o.ruleStore.ActiveRules(gctx)
		if err != nil {
			return fmt.Errorf("loading validation rules: %w", err)
		}
		valResults = o.evaluator.EvaluateAll(gctx, active, next.InferredData)
		return nil
	})
	emit(progressDispatched)
	if err := g.Wait(); err != nil {
		logging.EngineError("pipeline failed for session %s: %v", prior.SessionID, err)
		return o.degraded(prior, err.Error())
	}
	emit(progressJoined)

	// Phase 5: conflict detection and gated auto-resolution.
	conflicts := o.detector.Detect(next.InferredData)
	resolvedValues, conflicts := o.detector.Resolve(next.InferredData, conflicts)
	next.InferredData = resolvedValues

	// Phase 6: next-action synthesis.
	o.synthesize(&next)
	emit(progressSynthesis)

	// Phase 7: escalation and final assembly.
	escalate, triggers := o.policy.ShouldEscalate(valResults, conflicts)
	next.VisibleFields = visResult.VisibleFields()
	next.HiddenFields = visResult.HiddenFields()
	next.ValidationResults = valResults
	next.DetectedConflicts = conflicts
	next.NeedsManualIntervention = escalate
	next.UncertaintyFlags = triggers
	next.UpdatedAt = update.Timestamp

	if o.sessions != nil {
		if err := o.sessions.Put(ctx, next); err != nil {
			logging.EngineError("failed to persist session %s: %v", next.SessionID, err)
		}
	}

	emit(progressDone)
	logging.Engine("processed %s for session %s: %d action(s), %d issue(s), %d conflict(s), escalate=%t",
		update.Field, next.SessionID, len(next.PendingActions), valResults.IssueCount(), len(conflicts), escalate)
	return next
}

// synthesize appends the eligibility advisor's output as a calculated
// inferred value. Advisory only: evaluation failures are logged and
// the pipeline continues.
func (o *Orchestrator) synthesize(next *form.FormContext) {
	if o.advisor == nil || !o.cfg.Engine.EligibilityEnabled {
		return
	}
	programs, err := o.advisor.EligiblePrograms(next.InferredData)
	if err != nil {
		logging.Get(logging.CategoryEligibility).Warn("eligibility evaluation failed: %v", err)
		return
	}
	if len(programs) == 0 {
		return
	}
	next.InferredData.Set(form.FieldEligiblePrograms, form.String(strings.Join(programs, ",")))
	next.ConfidenceScores[form.FieldEligiblePrograms] = sourceConfidence(form.SourceCalculated)
	next.PendingActions = append(next.PendingActions, form.OutcomeAction{
		Type:        form.ActionCalculate,
		TargetField: form.FieldEligiblePrograms,
		Parameters:  map[string]string{"programs": strings.Join(programs, ",")},
		Confidence:  sourceConfidence(form.SourceCalculated),
	})
}

// ValidateForm re-runs validation and escalation against the current
// inferred data without processing an update. Used by the worker's
// VALIDATE_FORM request kind.
func (o *Orchestrator) ValidateForm(ctx context.Context, fc form.FormContext) (result form.FormContext) {
	defer func() {
		if r := recover(); r != nil {
			logging.EngineError("validation panicked for session %s: %v", fc.SessionID, r)
			result = o.degraded(fc, fmt.Sprintf("validation panic: %v", r))
		}
	}()

	next := fc.Clone()

	active, err := o.ruleStore.ActiveRules(ctx)
	if err != nil {
		logging.EngineError("validation failed for session %s: %v", fc.SessionID, err)
		return o.degraded(fc, err.Error())
	}
	next.ValidationResults = o.evaluator.EvaluateAll(ctx, active, next.InferredData)

	escalate, triggers := o.policy.ShouldEscalate(next.ValidationResults, next.DetectedConflicts)
	next.NeedsManualIntervention = escalate
	next.UncertaintyFlags = triggers
	return next
}

// ResolveConflicts re-runs conflict detection and gated resolution
// against the current inferred data. Used by the worker's
// RESOLVE_CONFLICTS request kind.
func (o *Orchestrator) ResolveConflicts(ctx context.Context, fc form.FormContext) (result form.FormContext) {
	defer func() {
		if r := recover(); r != nil {
			logging.EngineError("conflict resolution panicked for session %s: %v", fc.SessionID, r)
			result = o.degraded(fc, fmt.Sprintf("conflict resolution panic: %v", r))
		}
	}()

	next := fc.Clone()

	conflicts := o.detector.Detect(next.InferredData)
	resolvedValues, conflicts := o.detector.Resolve(next.InferredData, conflicts)
	next.InferredData = resolvedValues
	next.DetectedConflicts = conflicts

	escalate, triggers := o.policy.ShouldEscalate(next.ValidationResults, conflicts)
	next.NeedsManualIntervention = escalate
	next.UncertaintyFlags = triggers
	return next
}

// ReviewSummary renders the reviewer-facing summary for an escalated
// context. Returns empty when the context is not escalated or no
// summarizer is configured. Kept out of the pipeline so its output
// never influences the deterministic context.
func (o *Orchestrator) ReviewSummary(ctx context.Context, fc form.FormContext) (string, error) {
	if !fc.NeedsManualIntervention || o.summarizer == nil {
		return "", nil
	}
	return o.summarizer.Summarize(ctx, fc, fc.UncertaintyFlags)
}

// degraded builds the guaranteed-well-formed failure context: the
// prior state with intervention flagged, one synthetic error issue,
// and zero confidence.
func (o *Orchestrator) degraded(prior form.FormContext, reason string) form.FormContext {
	out := prior.Clone()
	out.NeedsManualIntervention = true

	results := form.NewValidationResults()
	results.Add(form.ValidationIssue{
		RuleID:     PipelineFailureRuleID,
		Message:    "processing failed: " + reason,
		Severity:   form.SeverityError,
		Confidence: 1.0,
	})
	results.Confidence = 0
	out.ValidationResults = results
	return out
}

// recoverToErr converts a panic in the current goroutine into an error
// assigned to *err. Used by the parallel pipeline phases, whose panics
// would otherwise crash the process instead of reaching Wait.
func recoverToErr(err *error, phase string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", phase, r)
	}
}

// pendingActions filters the tree output down to the action types the
// UI consumes as a work queue. Show/hide are consumed by the
// visibility calculator and do not re-appear here.
func pendingActions(actions []form.OutcomeAction) []form.OutcomeAction {
	var out []form.OutcomeAction
	for _, a := range actions {
		switch a.Type {
		case form.ActionCalculate, form.ActionValidate, form.ActionWarn, form.ActionError:
			out = append(out, a.Clone())
		}
	}
	return out
}

// sourceConfidence maps an update source to the confidence recorded
// for the written field.
func sourceConfidence(s form.Source) float64 {
	switch s {
	case form.SourceUserInput:
		return 1.0
	case form.SourceCalculated:
		return 0.95
	case form.SourceTemplate:
		return 0.9
	case form.SourceInferred:
		return 0.8
	default:
		return 0.8
	}
}
