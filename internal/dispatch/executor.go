package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/metrics"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

// execute runs one attempt for t. The caller holds the admission slot and
// releases it when execute returns, so a scheduled backoff delay never
// occupies a slot.
func (s *Service) execute(ctx context.Context, t *tracked, attempt int, cfg Config) {
	defer func() {
		// The per-attempt context is done with; let Cancel keep its own
		// reference if it already took it.
		s.mu.Lock()
		cancel := t.cancel
		t.cancel = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	candidates := s.reg.Snapshot()
	name, err := provider.Select(cfg.Strategy, candidates)
	if err != nil {
		s.noProvider(t, cfg, err)
		return
	}
	p, ok := s.reg.Lookup(name)
	if !ok {
		s.noProvider(t, cfg, fmt.Errorf("provider %q not registered", name))
		return
	}

	s.mu.Lock()
	if t.req.Status == StatusCancelled {
		s.mu.Unlock()
		return
	}
	t.req.Provider = name
	inv := provider.Invocation{
		RequestID: t.req.ID,
		Task:      t.req.Task.Name,
		Payload:   t.req.Task.Payload,
		Options:   t.req.Task.Options,
	}
	s.mu.Unlock()

	callCtx := ctx
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	callCtx, span := s.tracer.Start(callCtx, "dispatch.attempt", trace.WithAttributes(
		attribute.String("request.id", inv.RequestID),
		attribute.String("provider", name),
		attribute.Int("attempt", attempt),
	))

	start := time.Now()
	result, err := s.invoke(callCtx, p, inv)
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	s.settle(t, name, attempt, cfg, result, latency, err)
}

// invoke calls the provider, converting panics into errors so one bad
// backend cannot take down the dispatcher.
func (s *Service) invoke(ctx context.Context, p provider.Provider, inv provider.Invocation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("provider panicked",
				logx.String("provider", p.Name()),
				logx.String("id", inv.RequestID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return p.Invoke(ctx, inv)
}

// noProvider returns t to the queue after one tick. The request keeps its
// retry budget: a missing backend is an infrastructure gap, not a request
// failure, and the request is never dropped.
func (s *Service) noProvider(t *tracked, cfg Config, err error) {
	s.mu.Lock()
	if t.req.Status != StatusProcessing {
		s.mu.Unlock()
		return
	}
	t.req.Status = StatusPending
	s.scheduleRequeue(t, cfg.TickInterval)
	id := t.req.ID
	s.mu.Unlock()

	metrics.NoProvider.Inc()
	if s.shouldWarn(&s.lastNoProviderWarnAt) {
		s.log.Warn("no provider available", logx.String("id", id), logx.Err(err))
	}
}

// settle applies the state machine transition for a finished attempt.
// Provider stats are recorded on every settled attempt, success or
// failure; a request cancelled mid-flight records nothing, since the
// caller aborted the attempt rather than the provider failing it.
func (s *Service) settle(t *tracked, name string, attempt int, cfg Config, result any, latency time.Duration, err error) {
	now := s.nowFunc()

	s.mu.Lock()
	if t.req.Status == StatusCancelled {
		s.mu.Unlock()
		return
	}

	if err == nil {
		t.req.Status = StatusCompleted
		t.req.Result = result
		t.req.FinishedAt = now
		s.completed++
		s.appendHistoryLocked(t)
		ev := s.eventLocked(t)
		ev.Attempt = attempt
		ev.Latency = latency
		s.mu.Unlock()

		s.reg.RecordSuccess(name, latency)
		metrics.RequestsCompleted.WithLabelValues(name).Inc()
		s.publish("request.completed", ev)
		if latency >= 750*time.Millisecond {
			s.log.Info("request completed",
				logx.String("id", ev.ID),
				logx.String("provider", name),
				logx.Duration("latency", latency),
				logx.Int("attempt", attempt),
			)
		} else {
			s.log.Debug("request completed",
				logx.String("id", ev.ID),
				logx.String("provider", name),
				logx.Duration("latency", latency),
				logx.Int("attempt", attempt),
			)
		}
		return
	}

	wrapped := fmt.Errorf("provider %s: %w", name, err)

	if !provider.IsNoRetry(err) && t.req.Retries < t.req.MaxRetries {
		t.req.Retries++
		t.req.Status = StatusPending
		delay := time.Duration(t.req.Retries) * cfg.BaseBackoff
		if d, ok := provider.RetryDelay(err); ok {
			delay = d
		}
		s.retried++
		s.scheduleRequeue(t, delay)
		ev := s.eventLocked(t)
		ev.Attempt = attempt
		ev.Delay = delay
		ev.Error = wrapped.Error()
		s.mu.Unlock()

		s.reg.RecordFailure(name)
		metrics.Retries.WithLabelValues(name).Inc()
		s.publish("request.retry", ev)
		s.log.Warn("attempt failed, requeued",
			logx.String("id", ev.ID),
			logx.String("provider", name),
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		return
	}

	t.req.Status = StatusFailed
	t.req.Error = wrapped.Error()
	t.req.FinishedAt = now
	s.failed++
	s.appendHistoryLocked(t)
	ev := s.eventLocked(t)
	ev.Attempt = attempt
	ev.Error = t.req.Error
	s.mu.Unlock()

	s.reg.RecordFailure(name)
	metrics.RequestsFailed.WithLabelValues(name).Inc()
	s.publish("request.failed", ev)
	s.log.Warn("request failed",
		logx.String("id", ev.ID),
		logx.String("provider", name),
		logx.Int("attempt", attempt),
		logx.Err(err),
	)
}
