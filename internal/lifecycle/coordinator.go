package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is a process lifecycle phase.
type Phase int32

// Phases in the order they are broadcast.
const (
	PhaseInit Phase = iota
	PhaseStartup
	PhasePrepareShutdown
	PhaseShutdown
	PhaseAfterShutdown
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseStartup:
		return "startup"
	case PhasePrepareShutdown:
		return "prepare_shutdown"
	case PhaseShutdown:
		return "shutdown"
	case PhaseAfterShutdown:
		return "after_shutdown"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

var (
	// ErrAlreadyShutdown is returned by Shutdown when another call already ran
	// or is running the shutdown sequence.
	ErrAlreadyShutdown = errors.New("shutdown already in progress")

	// ErrDegraded wraps waiter failures. Shutdown still completed every phase.
	ErrDegraded = errors.New("degraded shutdown")
)

// Notification reacts to a phase transition. It must not block indefinitely.
type Notification func(Phase) error

// Waiter blocks the drain step until its work is done. The context deadline
// is the remaining shutdown budget.
type Waiter func(ctx context.Context) error

type namedNotification struct {
	name string
	fn   Notification
}

type namedWaiter struct {
	name string
	fn   Waiter
}

// Coordinator is the lifecycle event bus and shutdown driver. It is safe for
// concurrent use. Phase state is read without locks so callbacks may query it
// while a broadcast is in progress.
type Coordinator struct {
	logger *slog.Logger

	mu            sync.Mutex
	notifications []namedNotification
	waiters       []namedWaiter

	phase        atomic.Int32
	started      atomic.Bool
	shuttingDown atomic.Bool
	done         chan struct{}
}

// NewCoordinator creates a coordinator in the init phase.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// RegisterNotification adds fn to the ordered list of phase subscribers.
func (c *Coordinator) RegisterNotification(name string, fn Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, namedNotification{name: name, fn: fn})
}

// RegisterWaiter adds fn to the drain step. Waiters run sequentially in
// registration order.
func (c *Coordinator) RegisterWaiter(name string, fn Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = append(c.waiters, namedWaiter{name: name, fn: fn})
}

// Phase returns the most recently broadcast phase.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// ShuttingDown reports whether Shutdown has been called.
func (c *Coordinator) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Done is closed once AFTER_SHUTDOWN has been broadcast.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// FireStartup broadcasts STARTUP. Only the first call has any effect.
func (c *Coordinator) FireStartup() {
	if !c.started.CompareAndSwap(false, true) {
		c.logger.Warn("startup already fired")
		return
	}
	if c.shuttingDown.Load() {
		c.logger.Warn("startup skipped, shutdown already begun")
		return
	}
	c.broadcast(PhaseStartup)
}

// Shutdown runs the drain sequence: PREPARE_SHUTDOWN, every waiter bounded by
// what remains of timeout, SHUTDOWN, AFTER_SHUTDOWN. Calls after the first
// return ErrAlreadyShutdown without doing anything. Waiter failures are
// reported as an ErrDegraded error once all phases have run.
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	if !c.shuttingDown.CompareAndSwap(false, true) {
		c.logger.Info("shutdown already in progress, ignoring")
		return ErrAlreadyShutdown
	}

	start := time.Now()
	c.logger.Info("shutdown started", "timeout", timeout.String())

	c.broadcast(PhasePrepareShutdown)
	failures := c.drain(start.Add(timeout))
	c.broadcast(PhaseShutdown)
	c.broadcast(PhaseAfterShutdown)
	close(c.done)

	elapsed := time.Since(start)
	shutdownDuration.Observe(elapsed.Seconds())

	if len(failures) > 0 {
		c.logger.Warn("shutdown completed degraded",
			"duration_ms", elapsed.Milliseconds(),
			"failed_waiters", len(failures),
		)
		return fmt.Errorf("%w: %w", ErrDegraded, errors.Join(failures...))
	}

	c.logger.Info("shutdown completed", "duration_ms", elapsed.Milliseconds())
	return nil
}

// broadcast invokes every notification in order on the calling goroutine.
// The subscriber list is copied first so callbacks may register more.
func (c *Coordinator) broadcast(p Phase) {
	c.phase.Store(int32(p))

	c.mu.Lock()
	subs := make([]namedNotification, len(c.notifications))
	copy(subs, c.notifications)
	c.mu.Unlock()

	c.logger.Debug("phase broadcast", "phase", p.String(), "subscribers", len(subs))
	for _, n := range subs {
		if err := c.notify(n, p); err != nil {
			c.logger.Error("lifecycle notification failed",
				"notification", n.name,
				"phase", p.String(),
				"error", err,
			)
		}
	}
}

func (c *Coordinator) notify(n namedNotification, p Phase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return n.fn(p)
}

// drain runs the waiters sequentially against a shared deadline. Each waiter
// gets whatever budget its predecessors left.
func (c *Coordinator) drain(deadline time.Time) []error {
	c.mu.Lock()
	waiters := make([]namedWaiter, len(c.waiters))
	copy(waiters, c.waiters)
	c.mu.Unlock()

	var failures []error
	for _, w := range waiters {
		if err := c.runWaiter(w, deadline); err != nil {
			waiterFailures.WithLabelValues(w.name).Inc()
			c.logger.Warn("shutdown waiter failed",
				"waiter", w.name,
				"error", err,
			)
			failures = append(failures, fmt.Errorf("waiter %s: %w", w.name, err))
		}
	}
	return failures
}

// runWaiter calls w on its own goroutine so a waiter that ignores its context
// cannot hold the coordinator past the deadline.
func (c *Coordinator) runWaiter(w namedWaiter, deadline time.Time) error {
	if time.Until(deadline) <= 0 {
		return context.DeadlineExceeded
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic: %v", r)
			}
		}()
		result <- w.fn(ctx)
	}()

	select {
	case err := <-result:
		c.logger.Debug("shutdown waiter returned",
			"waiter", w.name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	case <-ctx.Done():
		return fmt.Errorf("did not return within budget: %w", ctx.Err())
	}
}
