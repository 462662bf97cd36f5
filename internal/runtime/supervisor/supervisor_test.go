package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func waitCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestGoCompletes(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var ran atomic.Bool
	s.Go("worker", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := s.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if !ran.Load() {
		t.Fatal("goroutine never ran")
	}

	c := s.Counters()
	if c.Started != 1 || c.Active != 0 {
		t.Fatalf("Counters() = %+v, want Started=1 Active=0", c)
	}
}

func TestGoReportsFirstError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error { return errBoom })

	err := s.Wait(waitCtx(t, 2*time.Second))
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, errBoom)
	}
	if !strings.Contains(err.Error(), "worker") {
		t.Fatalf("Wait() = %v, want name in message", err)
	}
	if got := s.Counters().FirstError; got == "" {
		t.Fatal("Counters().FirstError empty")
	}
}

func TestGoTreatsContextCanceledAsClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error { return context.Canceled })

	if err := s.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("kaboom", func(ctx context.Context) error { panic("oh no") })

	err := s.Wait(waitCtx(t, 2*time.Second))
	if err == nil || !strings.Contains(err.Error(), "panic in kaboom") {
		t.Fatalf("Wait() = %v, want panic error", err)
	}
	if got := s.Counters().Panics; got != 1 {
		t.Fatalf("Panics = %d, want 1", got)
	}
}

func TestWithCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("failer", func(ctx context.Context) error { return errBoom })

	err := s.Wait(waitCtx(t, 2*time.Second))
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want %v", err, errBoom)
	}
}

func TestGo0(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var ran atomic.Bool
	s.Go0("worker", func(ctx context.Context) { ran.Store(true) })

	if err := s.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if !ran.Load() {
		t.Fatal("goroutine never ran")
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errBoom
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t, 5*time.Second)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if got := s.Counters().Restarts; got != 2 {
		t.Fatalf("Restarts = %d, want 2", got)
	}
}

func TestGoRestartGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("hopeless", func(ctx context.Context) error {
		calls.Add(1)
		return errBoom
	},
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond),
		WithMaxRestarts(2))

	err := s.Wait(waitCtx(t, 5*time.Second))
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want %v", err, errBoom)
	}
	// Initial run plus two retries, then the third failure gives up.
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("watcher", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errBoom
		}
		return nil
	},
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond),
		WithPublishFirstError(true))

	// The loop self-heals, but the first failure stays visible.
	err := s.Wait(waitCtx(t, 5*time.Second))
	if !errors.Is(err, errBoom) {
		t.Fatalf("Wait() = %v, want published %v", err, errBoom)
	}
}

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var calls atomic.Int32
	s.GoRestart("panicky", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("first run")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Wait(waitCtx(t, 5*time.Second)); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := s.Counters().Panics; got != 1 {
		t.Fatalf("Panics = %d, want 1", got)
	}
}

func TestStopCancelsBlockedGoroutines(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	if err := s.Stop(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("Stop() = %v, want nil", err)
	}
	if got := s.Counters().Active; got != 0 {
		t.Fatalf("Active = %d, want 0", got)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	s := New(context.Background())
	s.Go("stuck", func(ctx context.Context) error {
		<-gate
		return nil
	})

	err := s.Wait(waitCtx(t, 50*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}

	close(gate)
	if err := s.Wait(waitCtx(t, 2*time.Second)); err != nil {
		t.Fatalf("second Wait() = %v, want nil", err)
	}
}

func TestNilCounters(t *testing.T) {
	t.Parallel()

	var s *Supervisor
	if got := s.Counters(); got != (Counters{}) {
		t.Fatalf("Counters() = %+v, want zero", got)
	}
}
