// Package worker runs jobs on a fixed number of slots fed from an unbounded
// FIFO queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// ErrPanic wraps a panic recovered from a job.
var ErrPanic = errors.New("job panicked")

// Job is one unit of work. Run receives the pool's context and the id of
// the slot executing it; a returned error counts the job as failed.
type Job struct {
	TaskID string
	Kind   string
	Run    func(ctx context.Context, slotID string) error
	// OnPanic, when set, is called after a panic in Run was recovered.
	OnPanic func(err error)
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRegistry registers the pool's metrics on reg instead of a private
// registry.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.registerer = reg }
}

// WithTracer sets the tracer used for job spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) { p.tracer = t }
}

// Pool is a fixed set of worker slots.
type Pool struct {
	cfg        Config
	logger     logging.Logger
	tracer     trace.Tracer
	registerer prometheus.Registerer
	metrics    *metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Job
	closed    bool
	slots     []model.WorkerSlot
	completed int
	failed    int
}

// New starts a pool with cfg.Workers slots named worker-1..worker-N.
func New(cfg Config, logger logging.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		logger: logging.OrNop(logger).With(logging.F("component", "worker_pool")),
		ctx:    ctx,
		cancel: cancel,
		slots:  make([]model.WorkerSlot, cfg.Workers),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/raysh454/scanqueue/internal/worker")
	}
	if p.registerer == nil {
		p.registerer = prometheus.NewRegistry()
	}
	p.metrics = newMetrics(p.registerer)

	for i := range p.slots {
		p.slots[i] = model.WorkerSlot{ID: fmt.Sprintf("worker-%d", i+1), Status: model.SlotIdle}
		p.wg.Add(1)
		go p.runSlot(i)
	}
	p.logger.Info("worker pool started", logging.F("workers", cfg.Workers))
	return p
}

// Submit appends job to the queue. It never blocks.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.TaskID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, job)
	depth := len(p.queue)
	p.metrics.queueDepth.Set(float64(depth))
	if p.cfg.QueueWarn > 0 && depth > p.cfg.QueueWarn {
		p.logger.Warn("job queue is growing", logging.F("depth", depth))
	}
	p.cond.Signal()
	return nil
}

// Status returns a snapshot of the pool.
func (p *Pool) Status() model.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := model.PoolStatus{
		Capacity:       len(p.slots),
		PendingCount:   len(p.queue),
		CompletedCount: p.completed,
		FailedCount:    p.failed,
		Workers:        make([]model.WorkerSlot, len(p.slots)),
	}
	copy(st.Workers, p.slots)
	for _, s := range p.slots {
		switch s.Status {
		case model.SlotBusy:
			st.Busy++
		case model.SlotError:
			st.Errored++
		default:
			st.Idle++
		}
	}
	return st
}

// Close stops accepting jobs and waits for the queue to drain. If ctx ends
// first, running jobs are cancelled, queued jobs are dropped, and ctx's
// error is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		dropped := len(p.queue)
		p.queue = nil
		p.metrics.queueDepth.Set(0)
		p.mu.Unlock()
		p.cancel()
		<-done
		p.logger.Warn("worker pool closed before drain", logging.F("dropped", dropped))
		return ctx.Err()
	}
}

// next blocks until a job is queued or the pool is closed and empty.
func (p *Pool) next() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return Job{}, false
	}
	job := p.queue[0]
	p.queue[0] = Job{}
	p.queue = p.queue[1:]
	p.metrics.queueDepth.Set(float64(len(p.queue)))
	return job, true
}

func (p *Pool) runSlot(idx int) {
	defer p.wg.Done()
	for {
		job, ok := p.next()
		if !ok {
			return
		}
		p.execute(idx, job)
	}
}

func (p *Pool) execute(idx int, job Job) {
	p.mu.Lock()
	slot := &p.slots[idx]
	slot.Status = model.SlotBusy
	slot.CurrentTask = job.TaskID
	slot.LastActive = time.Now()
	slotID := slot.ID
	p.mu.Unlock()
	p.metrics.slotsBusy.Inc()

	logger := p.logger.With(logging.F("slot", slotID), logging.F("task_id", job.TaskID))
	logger.Debug("job dispatched", logging.F("kind", job.Kind))

	ctx, span := p.tracer.Start(p.ctx, "worker.execute", trace.WithAttributes(
		attribute.String("task.id", job.TaskID),
		attribute.String("task.kind", job.Kind),
		attribute.String("worker.slot", slotID),
	))
	start := time.Now()
	err := p.safeRun(ctx, job, slotID)
	panicked := errors.Is(err, ErrPanic)
	elapsed := time.Since(start)

	outcome := "completed"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if panicked {
		logger.Error("job panicked", logging.Err(err))
		if job.OnPanic != nil {
			job.OnPanic(err)
		}
	} else if err != nil {
		logger.Info("job failed", logging.Err(err), logging.F("duration", elapsed))
	} else {
		logger.Info("job completed", logging.F("duration", elapsed))
	}

	p.metrics.slotsBusy.Dec()
	p.metrics.jobsTotal.WithLabelValues(job.Kind, outcome).Inc()
	p.metrics.jobDuration.WithLabelValues(job.Kind).Observe(elapsed.Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	slot = &p.slots[idx]
	slot.CurrentTask = ""
	slot.LastActive = time.Now()
	slot.ScanCount++
	if err != nil {
		slot.ErrorCount++
		p.failed++
	} else {
		p.completed++
	}
	if panicked {
		slot.Status = model.SlotError
	} else {
		slot.Status = model.SlotIdle
	}
}

// safeRun runs the job and converts a panic into an error.
func (p *Pool) safeRun(ctx context.Context, job Job, slotID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered job panic",
				logging.F("task_id", job.TaskID),
				logging.F("slot", slotID),
				logging.F("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return job.Run(ctx, slotID)
}
