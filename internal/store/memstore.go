package store

import (
	"context"
	"sync"
	"time"

	"formsense/internal/decision"
	"formsense/internal/form"
	"formsense/internal/rules"
)

// MemStore is an in-memory implementation of all three store
// interfaces, used by tests and for ephemeral runs.
type MemStore struct {
	mu       sync.RWMutex
	rules    []rules.Rule
	trees    []decision.DecisionTree
	sessions map[string]form.FormContext
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]form.FormContext)}
}

// SetRules replaces the rule set.
func (m *MemStore) SetRules(rs []rules.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append([]rules.Rule(nil), rs...)
}

// SetTrees replaces the tree set.
func (m *MemStore) SetTrees(ts []decision.DecisionTree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees = append([]decision.DecisionTree(nil), ts...)
}

// ActiveRules returns the enabled rules.
func (m *MemStore) ActiveRules(ctx context.Context) ([]rules.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rules.Rule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

// TreesForPhase returns the trees applicable to the phase.
func (m *MemStore) TreesForPhase(ctx context.Context, phase string) ([]decision.DecisionTree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []decision.DecisionTree
	for _, t := range m.trees {
		if t.AppliesToPhase(phase) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Get loads a stored session context.
func (m *MemStore) Get(ctx context.Context, sessionID string) (form.FormContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fc, ok := m.sessions[sessionID]
	if !ok {
		return form.FormContext{}, ErrSessionNotFound
	}
	return fc.Clone(), nil
}

// Put stores a session context snapshot.
func (m *MemStore) Put(ctx context.Context, fc form.FormContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[fc.SessionID] = fc.Clone()
	return nil
}

// PurgeExpired drops sessions past the retention window.
func (m *MemStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := 0
	for id, fc := range m.sessions {
		if fc.Expired(now, retention) {
			delete(m.sessions, id)
			purged++
		}
	}
	return purged, nil
}
