package engine

import (
	"context"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// Dispatcher routes field updates to the worker pool when one is
// available and healthy, and otherwise runs the pipeline in-process.
// The fallback is mandatory and silent: a worker failure must never
// fail the request, and both paths produce identical contexts.
type Dispatcher struct {
	orch *Orchestrator
	pool *WorkerPool // nil when the worker path is disabled
}

// NewDispatcher wires the dispatcher. pool may be nil.
func NewDispatcher(orch *Orchestrator, pool *WorkerPool) *Dispatcher {
	return &Dispatcher{orch: orch, pool: pool}
}

// ProcessFieldUpdate runs one update, preferring the worker path. The
// optional onProgress hook receives the 10/20/60/80/100 checkpoints
// when the worker path is taken.
func (d *Dispatcher) ProcessFieldUpdate(ctx context.Context, prior form.FormContext, update form.FieldUpdate, onProgress func(int)) form.FormContext {
	if d.pool != nil && d.pool.IsRunning() {
		if result, ok := d.processViaWorker(ctx, prior, update, onProgress); ok {
			return result
		}
		logging.Worker("worker path unavailable, falling back in-process for session %s", prior.SessionID)
	}
	return d.orch.ProcessFieldUpdate(ctx, prior, update)
}

// processViaWorker submits to the pool and consumes the response
// stream. Any submission or stream failure reports ok=false so the
// caller falls back.
func (d *Dispatcher) processViaWorker(ctx context.Context, prior form.FormContext, update form.FieldUpdate, onProgress func(int)) (form.FormContext, bool) {
	responses, err := d.pool.Submit(Request{
		Kind:    KindProcessField,
		Context: prior,
		Update:  update,
	})
	if err != nil {
		logging.WorkerError("worker submit failed: %v", err)
		return form.FormContext{}, false
	}

	for {
		select {
		case <-ctx.Done():
			// The pipeline is not cancellable mid-run; the worker will
			// finish this request, but the caller falls back to a
			// synchronous run it can own.
			return form.FormContext{}, false
		case resp, open := <-responses:
			if !open {
				return form.FormContext{}, false
			}
			switch resp.Kind {
			case KindProgress:
				if onProgress != nil {
					onProgress(resp.Progress)
				}
			case KindSuccess:
				return resp.Context, true
			case KindError:
				logging.WorkerError("worker request %s failed: %s", resp.RequestID, resp.Err)
				return form.FormContext{}, false
			}
		}
	}
}
