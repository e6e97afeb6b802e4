package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"formsense/internal/form"
	"formsense/internal/rules"
	"formsense/internal/store"
)

func collect(t *testing.T, responses <-chan Response) (form.FormContext, []int) {
	t.Helper()
	var progress []int
	for {
		select {
		case resp, open := <-responses:
			if !open {
				t.Fatal("response stream closed without a terminal response")
			}
			switch resp.Kind {
			case KindProgress:
				progress = append(progress, resp.Progress)
			case KindSuccess:
				return resp.Context, progress
			case KindError:
				t.Fatalf("unexpected error response: %s", resp.Err)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for worker response")
		}
	}
}

func TestWorkerPool_BitIdenticalToInProcess(t *testing.T) {
	mem := store.NewMemStore()
	mem.SetRules([]rules.Rule{{
		ID: "w1", Field: form.FieldEmail, Expression: "true",
		Message: "advisory", Severity: form.SeverityWarning, Confidence: 0.9, Enabled: true,
	}})
	o := newTestOrchestrator(t, mem)

	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	prior := form.NewFormContext("user-1", "sess-w1", "intake")
	prior.InferredData.Set(form.FieldResidencyStatus, form.String("in_state"))
	up := update(form.FieldCountry, form.String("Canada"))

	direct := o.ProcessFieldUpdate(context.Background(), prior, up)

	responses, err := pool.Submit(Request{Kind: KindProcessField, Context: prior, Update: up})
	require.NoError(t, err)
	viaWorker, _ := collect(t, responses)

	if diff := cmp.Diff(direct, viaWorker); diff != "" {
		t.Errorf("worker path diverged from in-process path (-direct +worker):\n%s", diff)
	}
}

func TestWorkerPool_ProgressCheckpoints(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	prior := form.NewFormContext("user-1", "sess-w2", "intake")
	responses, err := pool.Submit(Request{Kind: KindProcessField, Context: prior, Update: update(form.FieldEmail, form.String("a@b.edu"))})
	require.NoError(t, err)

	_, progress := collect(t, responses)
	require.Equal(t, []int{10, 20, 60, 80, 100}, progress)
}

func TestWorkerPool_InputNotSharedAcrossBoundary(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	prior := form.NewFormContext("user-1", "sess-w3", "intake")
	responses, err := pool.Submit(Request{Kind: KindProcessField, Context: prior, Update: update(form.FieldEmail, form.String("a@b.edu"))})
	require.NoError(t, err)

	// Mutating the caller's copy after submission must not affect the
	// worker's result.
	prior.InferredData.Set(form.FieldEmail, form.String("mutated@after.submit"))

	result, _ := collect(t, responses)
	email, _ := result.InferredData[form.FieldEmail].AsString()
	require.Equal(t, "a@b.edu", email)
}

func TestWorkerPool_ValidateAndResolveKinds(t *testing.T) {
	mem := store.NewMemStore()
	mem.SetRules([]rules.Rule{{
		ID: "e1", Field: form.FieldEmail, Expression: "true",
		Message: "bad", Severity: form.SeverityError, Confidence: 0.9, Enabled: true,
	}})
	o := newTestOrchestrator(t, mem)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	fc := form.NewFormContext("user-1", "sess-w4", "intake")
	fc.InferredData.Set(form.FieldEmail, form.String("x"))
	fc.InferredData.Set(form.FieldCountry, form.String("Canada"))
	fc.InferredData.Set(form.FieldResidencyStatus, form.String("in_state"))

	responses, err := pool.Submit(Request{Kind: KindValidateForm, Context: fc})
	require.NoError(t, err)
	validated, _ := collect(t, responses)
	require.Len(t, validated.ValidationResults.Errors, 1)

	responses, err = pool.Submit(Request{Kind: KindResolveConflicts, Context: fc})
	require.NoError(t, err)
	resolved, _ := collect(t, responses)
	require.Len(t, resolved.DetectedConflicts, 1)
	status, _ := resolved.InferredData[form.FieldResidencyStatus].AsString()
	require.Equal(t, "international", status)
}

func TestWorkerPool_ValidatePanicDoesNotKillWorker(t *testing.T) {
	mem := store.NewMemStore()
	o := New(Options{RuleStore: panickingRuleStore{mem}, TreeStore: mem})
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	fc := form.NewFormContext("user-1", "sess-w9", "intake")
	responses, err := pool.Submit(Request{Kind: KindValidateForm, Context: fc})
	require.NoError(t, err)

	degraded, _ := collect(t, responses)
	require.True(t, degraded.NeedsManualIntervention)
	require.Equal(t, PipelineFailureRuleID, degraded.ValidationResults.Errors[0].RuleID)

	// The worker survived and keeps serving requests.
	responses, err = pool.Submit(Request{Kind: KindResolveConflicts, Context: fc})
	require.NoError(t, err)
	collect(t, responses)
}

func TestWorkerPool_UnknownKindErrors(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()

	responses, err := pool.Submit(Request{Kind: "REWRITE_HISTORY"})
	require.NoError(t, err)

	resp := <-responses
	require.Equal(t, KindError, resp.Kind)
	require.Contains(t, resp.Err, "unknown request kind")
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	pool.Stop()

	_, err := pool.Submit(Request{Kind: KindProcessField})
	require.ErrorIs(t, err, ErrWorkerStopped)
}

func TestWorkerPool_StopLeavesNoGoroutines(t *testing.T) {
	// The genai dependency chain starts an opencensus stats goroutine at
	// package init; it is not ours to stop.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{Count: 4})
	require.NoError(t, pool.Start())

	prior := form.NewFormContext("user-1", "sess-w5", "intake")
	responses, err := pool.Submit(Request{Kind: KindProcessField, Context: prior, Update: update(form.FieldEmail, form.String("a@b.edu"))})
	require.NoError(t, err)
	collect(t, responses)

	pool.Stop()
}

func TestDispatcher_FallsBackWhenPoolStopped(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	// Never started: dispatcher must silently run in-process.
	d := NewDispatcher(o, pool)

	prior := form.NewFormContext("user-1", "sess-w6", "intake")
	prior.InferredData.Set(form.FieldResidencyStatus, form.String("in_state"))
	up := update(form.FieldCountry, form.String("Canada"))

	got := d.ProcessFieldUpdate(context.Background(), prior, up, nil)
	want := o.ProcessFieldUpdate(context.Background(), prior, up)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fallback result differs (-want +got):\n%s", diff)
	}
}

func TestDispatcher_WorkerPathReportsProgress(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	pool := NewWorkerPool(o, WorkerPoolConfig{})
	require.NoError(t, pool.Start())
	defer pool.Stop()
	d := NewDispatcher(o, pool)

	var progress []int
	prior := form.NewFormContext("user-1", "sess-w7", "intake")
	got := d.ProcessFieldUpdate(context.Background(), prior, update(form.FieldEmail, form.String("a@b.edu")),
		func(pct int) { progress = append(progress, pct) })

	require.Equal(t, []int{10, 20, 60, 80, 100}, progress)
	require.True(t, got.UpdatedAt.Equal(testStamp))
}

func TestDispatcher_NilPoolRunsInProcess(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	d := NewDispatcher(o, nil)

	prior := form.NewFormContext("user-1", "sess-w8", "intake")
	got := d.ProcessFieldUpdate(context.Background(), prior, update(form.FieldEmail, form.String("a@b.edu")), nil)
	require.False(t, got.UpdatedAt.IsZero())
}
