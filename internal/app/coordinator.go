package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/scanqueue/internal/logging"
	"github.com/raysh454/scanqueue/internal/model"
	"github.com/raysh454/scanqueue/internal/progress"
	"github.com/raysh454/scanqueue/internal/scanner"
	"github.com/raysh454/scanqueue/internal/store"
	"github.com/raysh454/scanqueue/internal/worker"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrNotReady is returned for results of a task that has not finished.
	ErrNotReady = errors.New("task results not ready")
	ErrNoPages  = errors.New("no pages selected")
)

// Runner executes the three job kinds. *scanner.Runner implements it.
type Runner interface {
	Scan(ctx context.Context, url string, mode model.ScanMode, rep scanner.Reporter) (*model.Results, error)
	Crawl(ctx context.Context, url string, rep scanner.Reporter) (*model.Results, error)
	SelectiveScan(ctx context.Context, baseURL string, pages []string, rep scanner.Reporter) (*model.Results, error)
}

// Pool is the slice of worker.Pool the coordinator uses.
type Pool interface {
	Submit(job worker.Job) error
	Status() model.PoolStatus
	Close(ctx context.Context) error
}

// Coordinator accepts tasks, hands them to the worker pool and answers
// status and result queries from the task store. The store is the only
// state shared between callers and workers; every job writes only its own
// task record.
type Coordinator struct {
	store      store.TaskStore
	runner     Runner
	pool       Pool
	logger     logging.Logger
	events     *broker
	now        func() time.Time
	instanceID string
}

// CoordinatorOption configures optional Coordinator behaviour.
type CoordinatorOption func(*Coordinator)

// WithInstanceID names this process in the records it creates. Only tasks
// carrying the same id are failed by RecoverInterrupted, so peers sharing a
// store need distinct ids that stay stable across restarts.
func WithInstanceID(id string) CoordinatorOption {
	return func(c *Coordinator) {
		if id != "" {
			c.instanceID = id
		}
	}
}

func NewCoordinator(st store.TaskStore, runner Runner, pool Pool, logger logging.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:      st,
		runner:     runner,
		pool:       pool,
		logger:     logging.OrNop(logger).With(logging.F("component", "coordinator")),
		events:     newBroker(),
		now:        func() time.Time { return time.Now().UTC() },
		instanceID: DefaultInstanceID(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultInstanceID is the host name, or "local" when it is unknown.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "local"
}

// InstanceID returns the id stamped on tasks this coordinator accepts.
func (c *Coordinator) InstanceID() string { return c.instanceID }

var terminalStatuses = []string{string(model.StatusCompleted), string(model.StatusFailed)}

// update writes fields unless the task already reached a terminal status.
// Every status change after creation goes through here, so a finished
// record is never rewritten.
func (c *Coordinator) update(ctx context.Context, taskID string, fields map[string]string) (bool, error) {
	return c.store.SetFieldsUnless(ctx, taskID, model.FieldStatus, terminalStatuses, fields)
}

// newTaskID returns <prefix>_<unix millis>_<8 hex chars>.
func (c *Coordinator) newTaskID(kind model.TaskKind) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", kind.IDPrefix(), c.now().UnixMilli(), suffix)
}

// SubmitScan queues a full scan of url.
func (c *Coordinator) SubmitScan(ctx context.Context, url string, mode model.ScanMode) (string, error) {
	if mode == "" {
		mode = model.ModeFullSite
	}
	task := c.newTask(model.KindScan, url)
	task.Mode = mode
	return c.submit(ctx, task, func(ctx context.Context, rep scanner.Reporter) (*model.Results, error) {
		return c.runner.Scan(ctx, url, mode, rep)
	})
}

// SubmitCrawl queues a discovery-only crawl of url.
func (c *Coordinator) SubmitCrawl(ctx context.Context, url string) (string, error) {
	task := c.newTask(model.KindCrawl, url)
	return c.submit(ctx, task, func(ctx context.Context, rep scanner.Reporter) (*model.Results, error) {
		return c.runner.Crawl(ctx, url, rep)
	})
}

// SubmitSelectiveScan queues an active scan of pages picked from the
// results of crawl task crawlTaskID.
func (c *Coordinator) SubmitSelectiveScan(ctx context.Context, crawlTaskID string, pages []string) (string, error) {
	if len(pages) == 0 {
		return "", ErrNoPages
	}
	src, err := c.loadTask(ctx, crawlTaskID)
	if err != nil {
		return "", err
	}
	if src.Kind != model.KindCrawl {
		return "", fmt.Errorf("%w: %s is not a crawl task", ErrNotFound, crawlTaskID)
	}

	task := c.newTask(model.KindSelectiveScan, src.Target)
	task.SourceTaskID = src.ID
	task.Pages = append([]string(nil), pages...)
	base := src.Target
	return c.submit(ctx, task, func(ctx context.Context, rep scanner.Reporter) (*model.Results, error) {
		return c.runner.SelectiveScan(ctx, base, task.Pages, rep)
	})
}

type runFunc func(ctx context.Context, rep scanner.Reporter) (*model.Results, error)

func (c *Coordinator) newTask(kind model.TaskKind, target string) *model.Task {
	return &model.Task{
		ID:         c.newTaskID(kind),
		Kind:       kind,
		Target:     target,
		Status:     model.StatusPending,
		Progress:   0,
		Message:    "Queued",
		InstanceID: c.instanceID,
		CreatedAt:  c.now(),
	}
}

// submit writes the pending record, then queues the job.
func (c *Coordinator) submit(ctx context.Context, task *model.Task, run runFunc) (string, error) {
	if err := c.store.SetFields(ctx, task.ID, task.Record()); err != nil {
		return "", fmt.Errorf("create task %s: %w", task.ID, err)
	}
	c.publish(TaskEvent{TaskID: task.ID, Type: TaskEventStatus, Status: model.StatusPending})

	job := worker.Job{
		TaskID: task.ID,
		Kind:   string(task.Kind),
		Run:    c.execute(task.ID, run),
		OnPanic: func(err error) {
			c.finishFailed(context.Background(), task.ID, err)
		},
	}
	if err := c.pool.Submit(job); err != nil {
		c.finishFailed(ctx, task.ID, err)
		return "", fmt.Errorf("queue task %s: %w", task.ID, err)
	}
	c.logger.Info("task queued",
		logging.F("task_id", task.ID),
		logging.F("kind", string(task.Kind)),
		logging.F("target", task.Target))
	return task.ID, nil
}

// execute wraps a job for the pool: it owns the task record from dispatch
// to the terminal write.
func (c *Coordinator) execute(taskID string, run runFunc) func(ctx context.Context, slotID string) error {
	return func(ctx context.Context, slotID string) error {
		// store writes outlive cancellation so a cancelled job can still
		// record its failure
		wctx := context.WithoutCancel(ctx)
		logger := c.logger.With(logging.F("task_id", taskID), logging.F("slot", slotID))

		started, err := c.update(wctx, taskID, map[string]string{
			model.FieldStatus:    string(model.StatusRunning),
			model.FieldStartedAt: model.FormatTime(c.now()),
			model.FieldWorkerID:  slotID,
		})
		if err != nil {
			logger.Error("could not mark task running", logging.Err(err))
		} else if !started {
			// failed while queued, e.g. by a restart recovery
			logger.Warn("task already finished, skipping")
			return nil
		}
		c.publish(TaskEvent{TaskID: taskID, Type: TaskEventStatus, Status: model.StatusRunning})

		tracker := progress.NewTracker(func(u progress.Update) {
			ok, err := c.update(wctx, taskID, map[string]string{
				model.FieldProgress: strconv.Itoa(u.Progress),
				model.FieldMessage:  u.Message,
			})
			if err != nil {
				logger.Warn("could not record progress", logging.Err(err))
				return
			}
			if ok {
				c.publish(TaskEvent{TaskID: taskID, Type: TaskEventProgress, Progress: u.Progress, Message: u.Message})
			}
		})

		res, err := run(ctx, tracker)
		if err != nil {
			c.finishFailed(wctx, taskID, err)
			return err
		}
		if err := c.finishCompleted(wctx, taskID, res); err != nil {
			logger.Error("could not record result", logging.Err(err))
			c.finishFailed(wctx, taskID, err)
			return err
		}
		return nil
	}
}

// finishCompleted writes result, completed_at and status in one guarded
// write, so a reader that sees completed always finds the result.
func (c *Coordinator) finishCompleted(ctx context.Context, taskID string, res *model.Results) error {
	res.TaskID = taskID
	res.Status = model.StatusCompleted
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	ok, err := c.update(ctx, taskID, map[string]string{
		model.FieldResult:      string(b),
		model.FieldProgress:    "100",
		model.FieldCompletedAt: model.FormatTime(c.now()),
		model.FieldStatus:      string(model.StatusCompleted),
	})
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Warn("task finished elsewhere, result dropped", logging.F("task_id", taskID))
		return nil
	}
	c.publish(TaskEvent{TaskID: taskID, Type: TaskEventResult, Status: model.StatusCompleted, Progress: 100})
	return nil
}

// finishFailed records err as the task's failure. The result field is
// blanked in the same write so a failed record never carries a result.
func (c *Coordinator) finishFailed(ctx context.Context, taskID string, cause error) bool {
	msg := scanner.DescribeFailure(cause)
	logger := c.logger.With(logging.F("task_id", taskID))

	ok, err := c.update(ctx, taskID, map[string]string{
		model.FieldResult:      "",
		model.FieldError:       msg,
		model.FieldCompletedAt: model.FormatTime(c.now()),
		model.FieldStatus:      string(model.StatusFailed),
	})
	if err != nil {
		logger.Error("could not record failure", logging.F("reason", msg), logging.Err(err))
		return false
	}
	if !ok {
		logger.Debug("task already finished, failure dropped", logging.F("reason", msg))
		return false
	}
	logger.Warn("task failed", logging.F("reason", msg), logging.Err(cause))
	c.publish(TaskEvent{TaskID: taskID, Type: TaskEventStatus, Status: model.StatusFailed, Error: msg})
	return true
}

func (c *Coordinator) loadTask(ctx context.Context, taskID string) (*model.Task, error) {
	rec, err := c.store.Get(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}
	return model.TaskFromRecord(rec), nil
}

// GetStatus returns the current view of a task.
func (c *Coordinator) GetStatus(ctx context.Context, taskID string) (*model.TaskView, error) {
	t, err := c.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.View(), nil
}

// GetResults returns the result of a completed task, or a degraded result
// describing the failure of a failed one. Unfinished tasks give
// ErrNotReady.
func (c *Coordinator) GetResults(ctx context.Context, taskID string) (*model.Results, error) {
	t, err := c.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case model.StatusCompleted:
		if t.Result == nil {
			return nil, fmt.Errorf("%w: %s has no stored result", ErrNotReady, taskID)
		}
		return t.Result, nil
	case model.StatusFailed:
		return scanner.FailureResults(t), nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, taskID, t.Status)
	}
}

// GetPoolStatus returns a snapshot of the worker pool.
func (c *Coordinator) GetPoolStatus() model.PoolStatus {
	return c.pool.Status()
}

// ListTasks returns every known task, oldest first.
func (c *Coordinator) ListTasks(ctx context.Context) ([]model.TaskView, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	views := make([]model.TaskView, 0, len(ids))
	for _, id := range ids {
		t, err := c.loadTask(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, *t.View())
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].CreatedAt.Before(views[j].CreatedAt) })
	return views, nil
}

// Subscribe streams events for taskID until the returned cancel func is
// called.
func (c *Coordinator) Subscribe(taskID string) (<-chan TaskEvent, func()) {
	return c.events.subscribe(taskID)
}

// RecoverInterrupted fails every task this instance left pending or running
// in a previous run. Their jobs died with that process and will never
// finish. Tasks stamped with another instance id belong to a live peer and
// are left alone.
func (c *Coordinator) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}
	n := 0
	for _, id := range ids {
		t, err := c.loadTask(ctx, id)
		if err != nil {
			continue
		}
		if t.Status.Terminal() || t.InstanceID != c.instanceID {
			continue
		}
		if c.finishFailed(ctx, id, errInterrupted) {
			n++
		}
	}
	if n > 0 {
		c.logger.Warn("failed tasks interrupted by restart", logging.F("count", n))
	}
	return n, nil
}

var errInterrupted = errors.New("interrupted by a restart before completion")

// Close stops accepting tasks and drains the pool.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.pool.Close(ctx)
}

func (c *Coordinator) publish(ev TaskEvent) {
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	c.events.publish(ev)
}
