package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

// recorder collects the phases a notification observed.
type recorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *recorder) notify(p Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
	return nil
}

func (r *recorder) seen() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "startup", PhaseStartup.String())
	assert.Equal(t, "prepare_shutdown", PhasePrepareShutdown.String())
	assert.Equal(t, "shutdown", PhaseShutdown.String())
	assert.Equal(t, "after_shutdown", PhaseAfterShutdown.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}

func TestFullPhaseSequence(t *testing.T) {
	c := newTestCoordinator()
	rec := &recorder{}
	c.RegisterNotification("rec", rec.notify)

	c.FireStartup()
	require.NoError(t, c.Shutdown(time.Second))

	assert.Equal(t, []Phase{PhaseStartup, PhasePrepareShutdown, PhaseShutdown, PhaseAfterShutdown}, rec.seen())
	assert.Equal(t, PhaseAfterShutdown, c.Phase())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after shutdown")
	}
}

func TestFireStartupOnlyOnce(t *testing.T) {
	c := newTestCoordinator()
	rec := &recorder{}
	c.RegisterNotification("rec", rec.notify)

	c.FireStartup()
	c.FireStartup()

	assert.Equal(t, []Phase{PhaseStartup}, rec.seen())
}

func TestNotificationsRunInRegistrationOrder(t *testing.T) {
	c := newTestCoordinator()
	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		c.RegisterNotification(name, func(p Phase) error {
			if p == PhaseStartup {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
			}
			return nil
		})
	}

	c.FireStartup()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFaultySubscriberDoesNotBlockOthers(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterNotification("panics", func(p Phase) error {
		panic("boom")
	})
	c.RegisterNotification("errors", func(p Phase) error {
		return errors.New("subscriber failure")
	})
	rec := &recorder{}
	c.RegisterNotification("rec", rec.notify)

	c.FireStartup()
	require.NoError(t, c.Shutdown(time.Second))

	assert.Equal(t, []Phase{PhaseStartup, PhasePrepareShutdown, PhaseShutdown, PhaseAfterShutdown}, rec.seen())
}

func TestNotificationMayQueryStateDuringBroadcast(t *testing.T) {
	c := newTestCoordinator()
	var during atomic.Bool
	c.RegisterNotification("query", func(p Phase) error {
		if p == PhasePrepareShutdown {
			during.Store(c.ShuttingDown() && c.Phase() == PhasePrepareShutdown)
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = c.Shutdown(time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown deadlocked when a notification queried coordinator state")
	}
	assert.True(t, during.Load())
}

func TestDuplicateShutdownIsNoop(t *testing.T) {
	c := newTestCoordinator()
	var prepares atomic.Int32
	c.RegisterNotification("count", func(p Phase) error {
		if p == PhasePrepareShutdown {
			prepares.Add(1)
		}
		return nil
	})
	release := make(chan struct{})
	c.RegisterWaiter("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Shutdown(5 * time.Second)
		}()
	}

	// Every caller except the one running the sequence returns immediately.
	for i := 0; i < callers-1; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrAlreadyShutdown)
		case <-time.After(2 * time.Second):
			t.Fatal("duplicate shutdown call blocked")
		}
	}

	close(release)
	wg.Wait()
	close(results)
	last := <-results
	assert.NoError(t, last)
	assert.Equal(t, int32(1), prepares.Load())
}

func TestWaitersRunOnlyDuringDrain(t *testing.T) {
	c := newTestCoordinator()
	var sawPhase atomic.Int32
	c.RegisterWaiter("phase", func(ctx context.Context) error {
		sawPhase.Store(int32(c.Phase()))
		return nil
	})

	c.FireStartup()
	assert.Equal(t, int32(0), sawPhase.Load())

	require.NoError(t, c.Shutdown(time.Second))
	assert.Equal(t, int32(PhasePrepareShutdown), sawPhase.Load())
}

func TestWaitersShareBudgetSequentially(t *testing.T) {
	const unit = 100 * time.Millisecond
	c := newTestCoordinator()

	var finished atomic.Int32
	sleeper := func(d time.Duration) Waiter {
		return func(ctx context.Context) error {
			select {
			case <-time.After(d):
				finished.Add(1)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	c.RegisterWaiter("three", sleeper(3*unit))
	c.RegisterWaiter("one", sleeper(1*unit))

	start := time.Now()
	require.NoError(t, c.Shutdown(5*unit))
	elapsed := time.Since(start)

	assert.Equal(t, int32(2), finished.Load())
	assert.GreaterOrEqual(t, elapsed, 4*unit, "waiters must run sequentially")
	assert.Less(t, elapsed, 5*unit)
}

func TestWaiterTimeoutIsDegradedNotFatal(t *testing.T) {
	c := newTestCoordinator()
	rec := &recorder{}
	c.RegisterNotification("rec", rec.notify)

	// Ignores its context entirely.
	c.RegisterWaiter("stuck", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})
	var secondCtxErr atomic.Value
	c.RegisterWaiter("second", func(ctx context.Context) error {
		secondCtxErr.Store(true)
		return nil
	})

	start := time.Now()
	err := c.Shutdown(100 * time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Less(t, elapsed, 500*time.Millisecond, "shutdown must honour its timeout")
	assert.Nil(t, secondCtxErr.Load(), "a waiter with no remaining budget is not invoked")
	assert.Equal(t, []Phase{PhasePrepareShutdown, PhaseShutdown, PhaseAfterShutdown}, rec.seen())
}

func TestWaiterPanicIsCaught(t *testing.T) {
	c := newTestCoordinator()
	var ran atomic.Bool
	c.RegisterWaiter("panics", func(ctx context.Context) error {
		panic("waiter exploded")
	})
	c.RegisterWaiter("after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	err := c.Shutdown(time.Second)
	assert.ErrorIs(t, err, ErrDegraded)
	assert.True(t, ran.Load())
}
