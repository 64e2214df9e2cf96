package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/partstock/internal/lifecycle"
	"github.com/seantiz/partstock/internal/model"
)

// Defaults applied to zero Options fields.
const (
	DefaultWorkers       = 4
	DefaultRetention     = time.Hour
	DefaultSweepInterval = time.Minute
	DefaultPollInterval  = 100 * time.Millisecond
)

// StreamPrefix is the stream identifier prefix for task events.
const StreamPrefix = "task"

// Event names published on a task stream.
const (
	EventState    = "state"
	EventProgress = "progress"
)

var (
	// ErrEngineClosed is returned by Submit once shutdown has begun.
	ErrEngineClosed = errors.New("engine is not accepting new tasks")

	// ErrNotFound is returned when a task id is unknown or was evicted.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidProgress is returned by a ProgressFunc for values outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrDrainIncomplete is returned by the shutdown waiter when tasks were
	// still in flight at the deadline.
	ErrDrainIncomplete = errors.New("tasks still in flight")
)

// ProgressFunc records progress for the running task and forwards it to
// stream subscribers.
type ProgressFunc func(percent int, message string) error

// Work is a unit of background work. ctx is cancelled when the task is
// cancelled or the engine stops; work is expected to check it and return.
type Work func(ctx context.Context, report ProgressFunc) (any, error)

// Progress is the payload of a progress event.
type Progress struct {
	TaskID  string `json:"task_id"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// Notifier delivers task events to stream subscribers.
type Notifier interface {
	SendEvent(ctx context.Context, identifier, name string, data any) bool
	Close(ctx context.Context, identifier string) bool
}

// Lifecycle is the subset of the lifecycle coordinator the engine registers with.
type Lifecycle interface {
	RegisterNotification(name string, fn lifecycle.Notification)
	RegisterWaiter(name string, fn lifecycle.Waiter)
}

// Options configures an Engine.
type Options struct {
	// Workers is the fixed number of worker goroutines.
	Workers int
	// Retention is how long terminal tasks remain queryable.
	Retention     time.Duration
	SweepInterval time.Duration
	// PollInterval is how often the shutdown waiter checks for idle.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// SubmitOption customises a single submission.
type SubmitOption func(*entry)

// OnProgress registers fn to be called synchronously on every progress
// report. A panic in fn fails the task.
func OnProgress(fn func(Progress)) SubmitOption {
	return func(e *entry) {
		e.onProgress = fn
	}
}

// Stats is a point-in-time count of tasks by activity.
type Stats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Total   int `json:"total"`
}

// StreamID returns the stream identifier for a task's events.
func StreamID(taskID string) string {
	return StreamPrefix + ":" + taskID
}

type entry struct {
	task       model.Task
	work       Work
	onProgress func(Progress)

	cancel          context.CancelFunc
	cancelRequested bool

	// doneAt keeps the monotonic reading that CompletedAt, being UTC, drops.
	doneAt time.Time
	// handlerErr is set when the OnProgress handler panicked.
	handlerErr error
}

// markCompleted stamps the completion time. Callers hold e.mu.
func (ent *entry) markCompleted() {
	now := time.Now()
	ent.doneAt = now
	utc := now.UTC()
	ent.task.CompletedAt = &utc
}

// Engine runs submitted work on a bounded worker pool. Submissions beyond the
// pool size queue FIFO. Submit, Get and Cancel never block on running work.
type Engine struct {
	opts     Options
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   map[string]*entry
	queue   []string
	pending int
	running int
	closed  bool
	stopped bool

	baseCtx   context.Context
	stopWork  context.CancelFunc
	stopSweep chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New creates an engine and registers it with the lifecycle coordinator.
// Workers start on STARTUP; submissions close on PREPARE_SHUTDOWN; the pool
// and sweeper stop on SHUTDOWN. A nil notifier discards events.
func New(opts Options, lc Lifecycle, n Notifier, logger *slog.Logger) *Engine {
	if n == nil {
		n = nopNotifier{}
	}
	baseCtx, stopWork := context.WithCancel(context.Background())
	e := &Engine{
		opts:      opts.withDefaults(),
		notifier:  n,
		logger:    logger,
		tasks:     make(map[string]*entry),
		baseCtx:   baseCtx,
		stopWork:  stopWork,
		stopSweep: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	lc.RegisterNotification("engine", e.onPhase)
	lc.RegisterWaiter("engine", e.drain)
	return e
}

func (e *Engine) onPhase(p lifecycle.Phase) error {
	switch p {
	case lifecycle.PhaseStartup:
		e.start()
	case lifecycle.PhasePrepareShutdown:
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.logger.Info("engine closed to new submissions")
	case lifecycle.PhaseShutdown:
		e.stop()
	}
	return nil
}

func (e *Engine) start() {
	e.startOnce.Do(func() {
		for i := 0; i < e.opts.Workers; i++ {
			e.wg.Go(e.worker)
		}
		e.wg.Go(e.sweep)
		e.logger.Info("engine started", "workers", e.opts.Workers)
	})
}

// Wait blocks until the worker and sweeper goroutines have exited. It only
// returns after SHUTDOWN has been broadcast.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Submit queues work and returns the new task id. It fails with
// ErrEngineClosed once shutdown has begun.
func (e *Engine) Submit(kind string, work Work, opts ...SubmitOption) (string, error) {
	if work == nil {
		return "", errors.New("submit: nil work")
	}

	ent := &entry{
		task: model.Task{
			ID:        model.NewID(),
			Kind:      kind,
			State:     model.TaskPending,
			CreatedAt: time.Now().UTC(),
		},
		work: work,
	}
	for _, opt := range opts {
		opt(ent)
	}
	id := ent.task.ID

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.tasks[id] = ent
	e.queue = append(e.queue, id)
	e.pending++
	e.cond.Signal()
	e.mu.Unlock()

	tasksSubmitted.WithLabelValues(kind).Inc()
	tasksQueued.Inc()
	e.logger.Debug("task submitted", "task_id", id, "kind", kind)
	return id, nil
}

// Get returns a snapshot of the task.
func (e *Engine) Get(id string) (model.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return ent.task, nil
}

// List returns snapshots of all retained tasks, newest first.
func (e *Engine) List() []model.Task {
	e.mu.Lock()
	tasks := make([]model.Task, 0, len(e.tasks))
	for _, ent := range e.tasks {
		tasks = append(tasks, ent.task)
	}
	e.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID > tasks[j].ID
	})
	return tasks
}

// Stats returns current task counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{Pending: e.pending, Running: e.running, Total: len(e.tasks)}
}

// Live reports whether id names a task that has not reached a terminal state.
// It is the producer check for task streams.
func (e *Engine) Live(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.tasks[id]
	return ok && !ent.task.State.Terminal()
}

// Cancel removes a pending task before it starts and reports true. For a
// running task it signals cooperative cancellation through the work context
// and reports false; the work decides whether to stop. Terminal and unknown
// tasks report false.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	ent, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return false
	}

	switch ent.task.State {
	case model.TaskPending:
		e.transitionLocked(ent, model.TaskCancelled)
		ent.markCompleted()
		e.pending--
		snap := ent.task
		e.mu.Unlock()

		tasksQueued.Dec()
		observeFinished(snap.Kind, snap.State)
		e.logger.Info("task cancelled before start", "task_id", id)
		e.publishFinal(snap)
		return true

	case model.TaskRunning:
		ent.cancelRequested = true
		cancel := ent.cancel
		e.mu.Unlock()

		cancel()
		e.logger.Info("cancellation requested for running task", "task_id", id)
		return false

	default:
		e.mu.Unlock()
		return false
	}
}

// worker takes tasks off the queue until the engine stops.
func (e *Engine) worker() {
	for {
		ent, snap, ctx, ok := e.next()
		if !ok {
			return
		}
		e.run(ctx, ent, snap)
	}
}

// next blocks until a pending task is available and marks it running.
func (e *Engine) next() (*entry, model.Task, context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		for len(e.queue) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if e.stopped {
			return nil, model.Task{}, nil, false
		}

		id := e.queue[0]
		e.queue[0] = ""
		e.queue = e.queue[1:]

		ent, ok := e.tasks[id]
		if !ok || ent.task.State != model.TaskPending {
			// Cancelled while queued.
			continue
		}

		ctx, cancel := context.WithCancel(e.baseCtx)
		ent.cancel = cancel
		e.transitionLocked(ent, model.TaskRunning)
		now := time.Now().UTC()
		ent.task.StartedAt = &now
		e.pending--
		e.running++

		tasksQueued.Dec()
		tasksRunning.Inc()
		return ent, ent.task, ctx, true
	}
}

// run executes one task and publishes its events. The engine lock is never
// held while calling the notifier.
func (e *Engine) run(ctx context.Context, ent *entry, snap model.Task) {
	stream := StreamID(snap.ID)
	e.notifier.SendEvent(context.Background(), stream, EventState, snap)

	start := time.Now()
	result, err := e.invoke(ctx, ent, snap.ID)
	ent.cancel()
	elapsed := time.Since(start)

	final := e.finish(ent, result, err)
	tasksRunning.Dec()
	taskDuration.WithLabelValues(final.Kind).Observe(elapsed.Seconds())
	observeFinished(final.Kind, final.State)

	if final.State == model.TaskFailed {
		e.logger.Warn("task failed",
			"task_id", final.ID,
			"kind", final.Kind,
			"duration_ms", elapsed.Milliseconds(),
			"error", final.Error,
		)
	} else {
		e.logger.Info("task finished",
			"task_id", final.ID,
			"kind", final.Kind,
			"state", final.State,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	e.publishFinal(final)
}

// invoke calls the work, converting a panic into an error so that one bad
// task cannot take down a worker.
func (e *Engine) invoke(ctx context.Context, ent *entry, id string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked",
				"task_id", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return ent.work(ctx, e.reporter(ent, id))
}

func (e *Engine) reporter(ent *entry, id string) ProgressFunc {
	stream := StreamID(id)
	return func(percent int, message string) error {
		if percent < 0 || percent > 100 {
			return fmt.Errorf("%w: got %d", ErrInvalidProgress, percent)
		}

		e.mu.Lock()
		if ent.task.State != model.TaskRunning {
			// Late report from a goroutine the work left behind.
			e.mu.Unlock()
			return nil
		}
		ent.task.Progress = percent
		ent.task.Message = message
		e.mu.Unlock()

		p := Progress{TaskID: id, Percent: percent, Message: message}
		if err := e.callProgressHandler(ent, id, p); err != nil {
			return err
		}
		e.notifier.SendEvent(context.Background(), stream, EventProgress, p)
		return nil
	}
}

// callProgressHandler runs the OnProgress handler, which may be invoked from
// any goroutine the work started. A panic fails the task even if the work
// ignores the returned error.
func (e *Engine) callProgressHandler(ent *entry, id string, p Progress) (err error) {
	if ent.onProgress == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("progress handler panicked",
				"task_id", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("progress handler panicked: %v", r)
			e.mu.Lock()
			if ent.handlerErr == nil {
				ent.handlerErr = err
			}
			e.mu.Unlock()
		}
	}()
	ent.onProgress(p)
	return nil
}

// finish records the outcome of a task and returns the final snapshot.
func (e *Engine) finish(ent *entry, result any, err error) model.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil && ent.handlerErr != nil {
		err = ent.handlerErr
	}

	state := model.TaskSucceeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && (ent.cancelRequested || e.stopped):
		state = model.TaskCancelled
	default:
		state = model.TaskFailed
	}

	e.transitionLocked(ent, state)
	ent.markCompleted()
	if err != nil {
		ent.task.Error = err.Error()
	} else {
		ent.task.Result = result
		ent.task.Progress = 100
	}
	e.running--
	return ent.task
}

// transitionLocked moves a task to a new state. An invalid transition means
// the engine's bookkeeping is corrupt, which is unrecoverable.
func (e *Engine) transitionLocked(ent *entry, to model.TaskState) {
	from := ent.task.State
	if !model.ValidTransition(from, to) {
		panic(fmt.Sprintf("engine: invalid task transition %s -> %s for task %s", from, to, ent.task.ID))
	}
	ent.task.State = to
}

// publishFinal sends the terminal state event and ends the task's stream.
func (e *Engine) publishFinal(snap model.Task) {
	stream := StreamID(snap.ID)
	e.notifier.SendEvent(context.Background(), stream, EventState, snap)
	e.notifier.Close(context.Background(), stream)
}

// stop halts the pool: queued tasks are cancelled, idle workers exit, and
// running work has its context cancelled. It does not wait for running work.
func (e *Engine) stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.closed = true

	var cancelled []model.Task
	for _, id := range e.queue {
		ent, ok := e.tasks[id]
		if !ok || ent.task.State != model.TaskPending {
			continue
		}
		e.transitionLocked(ent, model.TaskCancelled)
		ent.markCompleted()
		ent.task.Error = "engine stopped before task started"
		e.pending--
		cancelled = append(cancelled, ent.task)
	}
	e.queue = nil
	running := e.running
	e.cond.Broadcast()
	e.mu.Unlock()

	e.stopWork()
	close(e.stopSweep)

	for _, snap := range cancelled {
		tasksQueued.Dec()
		observeFinished(snap.Kind, snap.State)
		e.publishFinal(snap)
	}

	e.logger.Info("engine stopped",
		"cancelled_pending", len(cancelled),
		"still_running", running,
	)
}

// InFlight returns the number of pending plus running tasks.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending + e.running
}

// drain is the engine's shutdown waiter. It polls until no task is pending or
// running, or until ctx expires.
func (e *Engine) drain(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		n := e.InFlight()
		if n == 0 {
			e.logger.Info("engine drained")
			return nil
		}
		select {
		case <-ctx.Done():
			e.logger.Warn("engine drain incomplete", "in_flight", n)
			return fmt.Errorf("%w: %d remaining", ErrDrainIncomplete, n)
		case <-ticker.C:
		}
	}
}

// sweep periodically evicts expired terminal tasks until the engine stops.
func (e *Engine) sweep() {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopSweep:
			return
		case now := <-ticker.C:
			if n := e.evict(now); n > 0 {
				e.logger.Debug("evicted expired tasks", "count", n)
			}
		}
	}
}

func (e *Engine) evict(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	for id, ent := range e.tasks {
		if !ent.task.State.Terminal() || ent.doneAt.IsZero() {
			continue
		}
		if now.Sub(ent.doneAt) >= e.opts.Retention {
			delete(e.tasks, id)
			n++
		}
	}
	tasksEvicted.Add(float64(n))
	return n
}

type nopNotifier struct{}

func (nopNotifier) SendEvent(context.Context, string, string, any) bool { return false }
func (nopNotifier) Close(context.Context, string) bool                  { return false }
