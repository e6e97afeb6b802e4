package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"formsense/internal/decision"
	"formsense/internal/form"
	"formsense/internal/rules"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "formsense.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RuleRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	enabled := rules.Rule{
		ID:         "email_format",
		Name:       "Email format",
		Field:      form.FieldEmail,
		Expression: `email == ""`,
		Message:    "email looks empty",
		Severity:   form.SeverityWarning,
		Confidence: 0.9,
		Enabled:    true,
	}
	disabled := enabled
	disabled.ID = "disabled_rule"
	disabled.Enabled = false

	require.NoError(t, s.PutRule(ctx, enabled))
	require.NoError(t, s.PutRule(ctx, disabled))

	active, err := s.ActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "email_format", active[0].ID)
	require.Equal(t, form.FieldEmail, active[0].Field)
}

func TestSQLiteStore_TreePhaseFilter(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	intake := decision.DecisionTree{
		ID: "intake_tree", RootNode: "root", AppliesTo: []string{"intake"},
		Nodes: map[string]decision.DecisionNode{"root": {ID: "root"}},
	}
	anyPhase := decision.DecisionTree{
		ID: "any_tree", RootNode: "root",
		Nodes: map[string]decision.DecisionNode{"root": {ID: "root"}},
	}
	require.NoError(t, s.PutTree(ctx, intake))
	require.NoError(t, s.PutTree(ctx, anyPhase))

	trees, err := s.TreesForPhase(ctx, "intake")
	require.NoError(t, err)
	require.Len(t, trees, 2)

	trees, err = s.TreesForPhase(ctx, "financials")
	require.NoError(t, err)
	require.Len(t, trees, 1)
	require.Equal(t, "any_tree", trees[0].ID)
}

func TestSQLiteStore_RejectsInvalidTree(t *testing.T) {
	s := newTestSQLite(t)
	bad := decision.DecisionTree{
		ID: "bad", RootNode: "missing",
		Nodes: map[string]decision.DecisionNode{"root": {ID: "root"}},
	}
	require.Error(t, s.PutTree(context.Background(), bad))
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	fc := form.NewFormContext("user-1", "sess-1", "intake")
	fc.InferredData.Set(form.FieldCountry, form.String("Canada"))
	fc.UpdatedAt = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, fc))

	got, err := s.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	country, ok := got.InferredData[form.FieldCountry].AsString()
	require.True(t, ok)
	require.Equal(t, "Canada", country)
	require.True(t, fc.UpdatedAt.Equal(got.UpdatedAt))

	_, err = s.Get(ctx, "no-such-session")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	old := form.NewFormContext("u", "old", "intake")
	old.UpdatedAt = now.Add(-25 * time.Hour)
	fresh := form.NewFormContext("u", "fresh", "intake")
	fresh.UpdatedAt = now.Add(-1 * time.Hour)
	require.NoError(t, s.Put(ctx, old))
	require.NoError(t, s.Put(ctx, fresh))

	purged, err := s.PurgeExpired(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, purged)

	_, err = s.Get(ctx, "old")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(ctx, "fresh")
	require.NoError(t, err)
}
