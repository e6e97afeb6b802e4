// Package store provides the persistence backends for validation
// rules, decision trees, and form sessions. Two backends exist: a
// SQLite database for deployments and a YAML file registry with
// hot-reload for authoring rule/tree content. Both are read as
// snapshots by the engine; a processing run never observes a partial
// reload.
package store

import (
	"context"
	"errors"
	"time"

	"formsense/internal/decision"
	"formsense/internal/form"
	"formsense/internal/rules"
)

// ErrSessionNotFound is returned when a session id has no stored
// context (or it has already been purged).
var ErrSessionNotFound = errors.New("session not found")

// RuleStore serves the active validation rules.
type RuleStore interface {
	// ActiveRules returns the enabled rules as a snapshot the caller
	// may hold for the duration of one processing run.
	ActiveRules(ctx context.Context) ([]rules.Rule, error)
}

// TreeStore serves decision trees by form phase.
type TreeStore interface {
	// TreesForPhase returns the trees applicable to the phase.
	TreesForPhase(ctx context.Context, phase string) ([]decision.DecisionTree, error)
}

// SessionStore persists form contexts between field updates.
type SessionStore interface {
	// Get loads the context for a session id. Returns
	// ErrSessionNotFound when absent or expired.
	Get(ctx context.Context, sessionID string) (form.FormContext, error)

	// Put stores the context, replacing any previous snapshot for the
	// same session id.
	Put(ctx context.Context, fc form.FormContext) error

	// PurgeExpired removes sessions older than the retention window
	// and reports how many were removed.
	PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}
