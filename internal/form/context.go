package form

import (
	"time"
)

// FormContext is the session-scoped state for one in-progress adaptive
// form. Owned exclusively by one user's session and mutated only by
// the orchestrator: each processed field update replaces the context
// wholesale rather than editing it in place. Contexts expire after the
// configured retention window (24 hours by default).
type FormContext struct {
	UserID            string     `json:"userId"`
	SessionID         string     `json:"sessionId"`
	CurrentPhase      string     `json:"currentPhase"`
	CompletedSections []string   `json:"completedSections"`
	VisibleFields     []FieldID  `json:"visibleFields"`
	HiddenFields      []FieldID  `json:"hiddenFields"`

	InferredData     Values              `json:"inferredData"`
	ConfidenceScores map[FieldID]float64 `json:"confidenceScores"`

	UncertaintyFlags  []string          `json:"uncertaintyFlags"`
	PendingActions    []OutcomeAction   `json:"pendingActions"`
	ValidationResults ValidationResults `json:"validationResults"`
	DetectedConflicts []DataConflict    `json:"detectedConflicts"`

	NeedsManualIntervention bool      `json:"needsManualIntervention"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// NewFormContext creates a fresh context for a session with the
// baseline fields visible and full validation confidence.
func NewFormContext(userID, sessionID, phase string) FormContext {
	return FormContext{
		UserID:            userID,
		SessionID:         sessionID,
		CurrentPhase:      phase,
		VisibleFields:     SortFieldIDs(BaselineFields()),
		InferredData:      make(Values),
		ConfidenceScores:  make(map[FieldID]float64),
		ValidationResults: NewValidationResults(),
	}
}

// Clone deep-copies the context. The orchestrator clones the prior
// context before applying an update so callers holding the old value
// never observe partial mutation.
func (c FormContext) Clone() FormContext {
	out := c
	out.CompletedSections = append([]string(nil), c.CompletedSections...)
	out.VisibleFields = append([]FieldID(nil), c.VisibleFields...)
	out.HiddenFields = append([]FieldID(nil), c.HiddenFields...)
	out.InferredData = c.InferredData.Clone()
	if c.ConfidenceScores != nil {
		out.ConfidenceScores = make(map[FieldID]float64, len(c.ConfidenceScores))
		for k, v := range c.ConfidenceScores {
			out.ConfidenceScores[k] = v
		}
	}
	out.UncertaintyFlags = append([]string(nil), c.UncertaintyFlags...)
	if c.PendingActions != nil {
		out.PendingActions = make([]OutcomeAction, len(c.PendingActions))
		for i, a := range c.PendingActions {
			out.PendingActions[i] = a.Clone()
		}
	}
	out.ValidationResults = c.ValidationResults.Clone()
	if c.DetectedConflicts != nil {
		out.DetectedConflicts = make([]DataConflict, len(c.DetectedConflicts))
		for i, dc := range c.DetectedConflicts {
			out.DetectedConflicts[i] = dc.Clone()
		}
	}
	return out
}

// IsVisible reports whether the field is in the visible set.
func (c FormContext) IsVisible(f FieldID) bool {
	for _, v := range c.VisibleFields {
		if v == f {
			return true
		}
	}
	return false
}

// Expired reports whether the context has outlived the retention
// window relative to now.
func (c FormContext) Expired(now time.Time, retention time.Duration) bool {
	if c.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(c.UpdatedAt) > retention
}
