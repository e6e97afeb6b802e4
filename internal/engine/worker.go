package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"formsense/internal/form"
	"formsense/internal/logging"
)

// =============================================================================
// BACKGROUND WORKER
// =============================================================================
//
// WorkerPool runs the identical pipeline behind a request/response
// channel so the UI thread never blocks on processing. Inputs and
// outputs are deep-copied across the boundary; there is no shared
// mutable memory between the caller and the workers. Results must be
// bit-identical to the in-process path for the same inputs.

var (
	// ErrWorkerQueueFull is returned when the request queue cannot
	// accept more work.
	ErrWorkerQueueFull = errors.New("worker queue is full")

	// ErrWorkerStopped is returned when the pool is not running.
	ErrWorkerStopped = errors.New("worker pool is stopped")
)

// RequestKind is one of the three inbound message kinds.
type RequestKind string

const (
	KindProcessField     RequestKind = "PROCESS_FIELD"
	KindValidateForm     RequestKind = "VALIDATE_FORM"
	KindResolveConflicts RequestKind = "RESOLVE_CONFLICTS"
)

// ResponseKind is one of the three outbound message kinds.
type ResponseKind string

const (
	KindSuccess  ResponseKind = "SUCCESS"
	KindError    ResponseKind = "ERROR"
	KindProgress ResponseKind = "PROGRESS"
)

// Request is one unit of work with a correlation id.
type Request struct {
	ID      string
	Kind    RequestKind
	Context form.FormContext
	Update  form.FieldUpdate
}

// Response carries a progress notification or the terminal result for
// a request. Exactly one SUCCESS or ERROR response ends the stream.
type Response struct {
	RequestID string
	Kind      ResponseKind
	Context   form.FormContext
	Err       string
	Progress  int
}

type pendingRequest struct {
	req         Request
	responses   chan Response
	submittedAt time.Time
}

// WorkerPoolConfig configures the pool.
type WorkerPoolConfig struct {
	Count     int // concurrent workers
	QueueSize int // request queue capacity
}

// WorkerPool processes requests on background goroutines.
type WorkerPool struct {
	mu    sync.RWMutex
	orch  *Orchestrator
	cfg   WorkerPoolConfig
	queue chan *pendingRequest

	isRunning bool
	stopCh    chan struct{}
	workerWg  sync.WaitGroup

	// Metrics (atomic for lock-free reads)
	totalProcessed int64
	totalFailed    int64
}

// NewWorkerPool creates a pool around the orchestrator. Zero config
// values get defaults.
func NewWorkerPool(orch *Orchestrator, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &WorkerPool{
		orch:   orch,
		cfg:    cfg,
		queue:  make(chan *pendingRequest, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return nil
	}
	p.isRunning = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.cfg.Count; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}
	logging.Worker("worker pool started with %d worker(s), queue=%d", p.cfg.Count, p.cfg.QueueSize)
	return nil
}

// Stop shuts the pool down and drains queued requests with errors.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	close(p.stopCh)
	p.mu.Unlock()

	p.workerWg.Wait()

	for {
		select {
		case pr := <-p.queue:
			p.send(pr, Response{RequestID: pr.req.ID, Kind: KindError, Err: ErrWorkerStopped.Error()})
		default:
			logging.Worker("worker pool stopped")
			return
		}
	}
}

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// Submit queues a request and returns the response stream. The request
// context and update are deep-copied before crossing the boundary; the
// caller may keep mutating its own copies freely.
func (p *WorkerPool) Submit(req Request) (<-chan Response, error) {
	p.mu.RLock()
	running := p.isRunning
	p.mu.RUnlock()
	if !running {
		return nil, ErrWorkerStopped
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Context = req.Context.Clone()

	pr := &pendingRequest{
		req: req,
		// Buffered for every progress checkpoint plus the terminal
		// response, so a slow reader never stalls a worker.
		responses:   make(chan Response, 8),
		submittedAt: time.Now(),
	}

	select {
	case p.queue <- pr:
		logging.Get(logging.CategoryWorker).Debug("queued %s request %s", req.Kind, req.ID)
		return pr.responses, nil
	default:
		return nil, fmt.Errorf("%w: %d request(s) queued", ErrWorkerQueueFull, len(p.queue))
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.workerWg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case pr := <-p.queue:
			p.processRequest(id, pr)
		}
	}
}

func (p *WorkerPool) processRequest(workerID int, pr *pendingRequest) {
	req := pr.req
	log := logging.WithRequestID(logging.CategoryWorker, req.ID)
	log.Debug("worker %d processing %s (queued %v)", workerID, req.Kind, time.Since(pr.submittedAt))

	// Last-resort guard: a panic must surface as an ERROR response, not
	// kill the worker goroutine. The orchestrator recovers its own
	// panics, so this only fires for failures outside the pipeline.
	done := false
	defer func() {
		if r := recover(); r != nil && !done {
			atomic.AddInt64(&p.totalFailed, 1)
			p.send(pr, Response{RequestID: req.ID, Kind: KindError, Err: fmt.Sprintf("worker panic: %v", r)})
			close(pr.responses)
		}
	}()

	ctx := context.Background()
	var result form.FormContext

	switch req.Kind {
	case KindProcessField:
		result = p.orch.process(ctx, req.Context, req.Update, func(pct int) {
			p.send(pr, Response{RequestID: req.ID, Kind: KindProgress, Progress: pct})
		})
	case KindValidateForm:
		result = p.orch.ValidateForm(ctx, req.Context)
	case KindResolveConflicts:
		result = p.orch.ResolveConflicts(ctx, req.Context)
	default:
		atomic.AddInt64(&p.totalFailed, 1)
		p.send(pr, Response{RequestID: req.ID, Kind: KindError, Err: fmt.Sprintf("unknown request kind %q", req.Kind)})
		done = true
		close(pr.responses)
		return
	}

	atomic.AddInt64(&p.totalProcessed, 1)
	// Deep copy on the way out too: the worker keeps no reference to
	// what the caller receives.
	p.send(pr, Response{RequestID: req.ID, Kind: KindSuccess, Context: result.Clone()})
	done = true
	close(pr.responses)
}

func (p *WorkerPool) send(pr *pendingRequest, resp Response) {
	select {
	case pr.responses <- resp:
	default:
		logging.WorkerError("dropping %s response for request %s: stream full", resp.Kind, resp.RequestID)
	}
}

// Metrics returns the pool's processing counters.
func (p *WorkerPool) Metrics() (processed, failed int64) {
	return atomic.LoadInt64(&p.totalProcessed), atomic.LoadInt64(&p.totalFailed)
}
