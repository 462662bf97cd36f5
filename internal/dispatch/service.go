package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/eventbus"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/metrics"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	rtsup "github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/runtime/supervisor"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// tracked pairs a Request with its runtime plumbing. All fields are
// guarded by the Service mutex.
type tracked struct {
	req    Request
	seq    uint64
	queued bool
	cancel context.CancelFunc // set while processing
	timer  *time.Timer        // pending requeue, nil otherwise
}

// Service is the dispatcher. Construct with New, Start it, then Submit;
// submissions while stopped return ErrStopped. Pending requests survive a
// Stop/Start cycle in memory.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	reg *provider.Registry

	queue *requestQueue
	adm   *admission
	index map[string]*tracked

	history []HistoryItem

	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64
	retried   uint64
	evicted   uint64

	// wake short-circuits the tick on submit, release and requeue.
	wake chan struct{}

	execWG sync.WaitGroup
	sup    *rtsup.Supervisor

	stopCh   chan struct{}
	stopDone chan struct{}
	// stopped distinguishes "stopped after running" (submissions rejected)
	// from "not started yet" (submissions wait in the queue).
	stopped bool

	tracer trace.Tracer

	lastNoProviderWarnAt int64

	// Seams for tests; swap before Start.
	nowFunc   func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// New builds a dispatcher over reg. reg must be non-nil; an empty registry
// is legal and leaves submitted requests waiting in the queue.
func New(cfg Config, reg *provider.Registry, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		reg:       reg,
		queue:     newRequestQueue(),
		adm:       newAdmission(cfg.MaxConcurrency),
		index:     map[string]*tracked{},
		wake:      make(chan struct{}, 1),
		tracer:    otel.Tracer("dispatcher"),
		nowFunc:   time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Start launches the dispatch loop. It is idempotent; if a Stop is in
// progress it waits for that to finish before restarting.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		// Re-check after wait.
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.stopped = false
	stopCh := s.stopCh
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "dispatch"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	cfg := s.cfg
	s.mu.Unlock()

	sup.GoRestart("loop", func(c context.Context) error {
		s.loop(c, stopCh)
		// Clean exits happen only on shutdown.
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("dispatch loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("dispatcher started",
		logx.Int("max_concurrency", cfg.MaxConcurrency),
		logx.String("strategy", string(cfg.Strategy)),
		logx.Duration("tick", cfg.TickInterval),
	)
	s.wakeLoop()
}

// Stop halts the dispatch loop and blocks until in-flight executions
// drain, bounded by ctx. Requests awaiting a retry are folded back into
// the queue so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.stopped = true
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		// Wait unbounded in background; the caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.execWG.Wait()

		s.mu.Lock()
		for _, t := range s.index {
			if t.timer != nil {
				t.timer.Stop()
				t.timer = nil
			}
			if t.req.Status == StatusPending && !t.queued {
				s.queue.push(t)
				s.syncDepthGauge(t.req.Priority)
			}
		}
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("dispatcher stopped")
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out", logx.Err(ctx.Err()))
	}
}

// Shutdown stops the dispatcher. It is an alias for Stop.
func (s *Service) Shutdown(ctx context.Context) { s.Stop(ctx) }

// Supervisor exposes the dispatcher's internal supervisor for operational
// visibility (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Submit enqueues one task and returns its request id. The queue is
// unbounded: a well-formed submission always succeeds except after
// Stop/Shutdown. Submissions made before Start wait in the queue.
func (s *Service) Submit(task Task, prio Priority) (string, error) {
	name := strings.TrimSpace(task.Name)
	if name == "" {
		return "", errors.New("dispatch: task name is required")
	}
	task.Name = name
	if !prio.Valid() {
		return "", fmt.Errorf("dispatch: invalid priority %d", int(prio))
	}

	s.mu.Lock()
	if s.stopped || s.stopDone != nil {
		s.mu.Unlock()
		return "", ErrStopped
	}
	t := &tracked{req: Request{
		ID:         uuid.NewString(),
		Task:       task,
		Priority:   prio,
		Status:     StatusPending,
		CreatedAt:  s.nowFunc(),
		MaxRetries: s.cfg.MaxRetries,
	}}
	id := t.req.ID
	s.index[id] = t
	s.queue.push(t)
	s.submitted++
	s.syncDepthGauge(prio)
	ev := s.eventLocked(t)
	s.mu.Unlock()

	metrics.RequestsSubmitted.WithLabelValues(prio.String()).Inc()
	s.publish("request.submitted", ev)
	s.wakeLoop()
	s.log.Debug("request submitted",
		logx.String("id", id),
		logx.String("task", name),
		logx.String("priority", prio.String()),
	)
	return id, nil
}

// Status returns a point-in-time copy of the request. Reading it changes
// nothing.
func (s *Service) Status(id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.index[id]
	if t == nil {
		return Request{}, ErrNotFound
	}
	return t.req, nil
}

// Cancel aborts a request. Pending requests are discarded from the queue;
// processing requests get their context cancelled and the in-flight call
// may still run to completion, but no further state changes are observable
// for the id.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	t := s.index[id]
	if t == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	if t.req.Status.Terminal() {
		s.mu.Unlock()
		return ErrFinished
	}

	if t.queued {
		s.queue.forget(t)
	}
	t.req.Status = StatusCancelled
	t.req.FinishedAt = s.nowFunc()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	cancel := t.cancel
	t.cancel = nil
	s.cancelled++
	s.syncDepthGauge(t.req.Priority)
	s.appendHistoryLocked(t)
	ev := s.eventLocked(t)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	metrics.RequestsCancelled.Inc()
	s.publish("request.cancelled", ev)
	s.log.Debug("request cancelled", logx.String("id", id))
	return nil
}

// Snapshot returns the operational view served by /statusz.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	depths := make(map[string]int, priorityCount)
	for p := PriorityCritical; p <= PriorityLow; p++ {
		depths[p.String()] = s.queue.depth(p)
	}
	snap := Snapshot{
		Running:        s.stopCh != nil && s.stopDone == nil,
		Strategy:       string(s.cfg.Strategy),
		QueueLen:       s.queue.len(),
		QueueDepths:    depths,
		MaxConcurrency: s.cfg.MaxConcurrency,
		Tracked:        len(s.index),
		Submitted:      s.submitted,
		Completed:      s.completed,
		Failed:         s.failed,
		Cancelled:      s.cancelled,
		Retried:        s.retried,
		Evicted:        s.evicted,
		History:        append([]HistoryItem(nil), s.history...),
	}
	s.mu.Unlock()

	snap.InFlight = s.adm.inFlight()
	if s.reg != nil {
		snap.Providers = s.reg.Snapshot()
	}
	return snap
}

// PruneFinished evicts terminal requests that finished before the
// retention window and returns their copies, oldest first. Evicted ids are
// no longer readable via Status.
func (s *Service) PruneFinished(olderThan time.Duration) []Request {
	if olderThan < 0 {
		olderThan = 0
	}
	cutoff := s.nowFunc().Add(-olderThan)

	s.mu.Lock()
	var out []Request
	for id, t := range s.index {
		if !t.req.Status.Terminal() {
			continue
		}
		if t.req.FinishedAt.IsZero() || !t.req.FinishedAt.Before(cutoff) {
			continue
		}
		out = append(out, t.req)
		delete(s.index, id)
	}
	s.evicted += uint64(len(out))
	s.mu.Unlock()

	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.Before(out[j].FinishedAt) })
	metrics.Evicted.Add(float64(len(out)))
	for i := range out {
		r := &out[i]
		s.publish("request.evicted", RequestEvent{
			ID:       r.ID,
			Task:     r.Task.Name,
			Priority: r.Priority.String(),
			Status:   r.Status,
			Provider: r.Provider,
		})
	}
	s.log.Debug("evicted finished requests", logx.Int("count", len(out)))
	return out
}

// Reconfigure hot-applies tunables. MaxRetries affects future submissions
// only; each request keeps the budget it was created with. Shrinking the
// admission limit takes effect as running work releases slots.
func (s *Service) Reconfigure(cfg Config) error {
	cfg = cfg.withDefaults()
	if _, err := provider.ParseStrategy(string(cfg.Strategy)); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.adm.resize(cfg.MaxConcurrency)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.mu.Unlock()

	// A raised limit or shorter tick should take effect right away.
	s.wakeLoop()

	if old != cfg {
		s.log.Info("dispatcher reconfigured",
			logx.Int("max_concurrency", cfg.MaxConcurrency),
			logx.String("strategy", string(cfg.Strategy)),
			logx.Int("max_retries", cfg.MaxRetries),
			logx.Duration("base_backoff", cfg.BaseBackoff),
			logx.Duration("tick", cfg.TickInterval),
		)
	}
	return nil
}

// loop waits for a wake signal or the safety-net tick, then drains.
func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	s.mu.Lock()
	interval := s.cfg.TickInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.wake:
		case <-ticker.C:
		}

		s.drain(stopCh)

		s.mu.Lock()
		d := s.cfg.TickInterval
		s.mu.Unlock()
		if d != interval {
			interval = d
			ticker.Reset(interval)
		}
	}
}

// drain admits and launches work while pending requests and free slots
// remain. Pop-once: a request leaves the queue exactly once per dispatch,
// so nothing is ever double-dispatched.
func (s *Service) drain(stopCh <-chan struct{}) {
	launched := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.mu.Lock()
		if s.stopDone != nil {
			s.mu.Unlock()
			return
		}
		cfg := s.cfg
		if cfg.MaxPerTick > 0 && launched >= cfg.MaxPerTick {
			s.mu.Unlock()
			return
		}
		if s.queue.len() == 0 {
			s.mu.Unlock()
			return
		}
		if !s.adm.tryAdmit() {
			s.mu.Unlock()
			return
		}
		t := s.queue.pop()
		if t == nil {
			// Only cancelled leftovers were in the heap.
			s.adm.release()
			s.mu.Unlock()
			return
		}
		t.req.Status = StatusProcessing
		if t.req.StartedAt.IsZero() {
			t.req.StartedAt = s.nowFunc()
		}
		reqCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		attempt := t.req.Retries + 1
		s.syncDepthGauge(t.req.Priority)
		ev := s.eventLocked(t)
		ev.Attempt = attempt
		s.mu.Unlock()

		metrics.InFlight.Inc()
		s.publish("request.started", ev)

		s.execWG.Add(1)
		go func() {
			defer s.execWG.Done()
			defer s.releaseSlot()
			s.execute(reqCtx, t, attempt, cfg)
		}()
		launched++
	}
}

// releaseSlot pairs with the loop's tryAdmit and wakes the loop so a freed
// slot is reused immediately.
func (s *Service) releaseSlot() {
	s.adm.release()
	metrics.InFlight.Dec()
	s.wakeLoop()
}

func (s *Service) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// scheduleRequeue re-enters t into the queue after delay, at its original
// priority. Callers hold mu and have already set the status back to
// pending. The delay holds no admission slot.
func (s *Service) scheduleRequeue(t *tracked, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	t.timer = s.afterFunc(delay, func() {
		s.mu.Lock()
		t.timer = nil
		if s.stopCh == nil || s.stopDone != nil {
			// Stop's final sweep folds pending requests back into the queue.
			s.mu.Unlock()
			return
		}
		if t.req.Status != StatusPending || t.queued {
			s.mu.Unlock()
			return
		}
		s.queue.push(t)
		s.syncDepthGauge(t.req.Priority)
		s.mu.Unlock()
		s.wakeLoop()
	})
}

// appendHistoryLocked records a terminal outcome in the ring. Attempts
// counts finished provider calls: retries plus the terminal attempt, or
// just the consumed retries for a cancellation.
func (s *Service) appendHistoryLocked(t *tracked) {
	attempts := t.req.Retries
	if t.req.Status != StatusCancelled && !t.req.StartedAt.IsZero() {
		attempts++
	}
	var dur time.Duration
	if !t.req.StartedAt.IsZero() && !t.req.FinishedAt.IsZero() {
		dur = t.req.FinishedAt.Sub(t.req.StartedAt)
	}
	s.history = append(s.history, HistoryItem{
		ID:       t.req.ID,
		Task:     t.req.Task.Name,
		Priority: t.req.Priority,
		Status:   t.req.Status,
		Provider: t.req.Provider,
		Attempts: attempts,
		Duration: dur,
		Finished: t.req.FinishedAt,
		Error:    t.req.Error,
	})
	if limit := s.cfg.HistorySize; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// eventLocked builds the bus payload for t's current state. Callers hold
// mu and fill attempt/latency/delay/error as applicable.
func (s *Service) eventLocked(t *tracked) RequestEvent {
	return RequestEvent{
		ID:       t.req.ID,
		Task:     t.req.Task.Name,
		Priority: t.req.Priority.String(),
		Status:   t.req.Status,
		Provider: t.req.Provider,
	}
}

func (s *Service) publish(typ string, data RequestEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.nowFunc(), Data: data})
}

func (s *Service) syncDepthGauge(p Priority) {
	metrics.QueueDepth.WithLabelValues(p.String()).Set(float64(s.queue.depth(p)))
}

func (s *Service) shouldWarn(last *int64) bool {
	prev := atomic.LoadInt64(last)
	n := s.nowFunc().UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}
