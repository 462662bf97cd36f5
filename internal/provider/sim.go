package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// SimProvider fakes a compute backend for local runs and tests. Each
// invocation sleeps for the configured latency and fails with the
// configured probability.
type SimProvider struct {
	name     string
	latency  time.Duration
	failRate float64
}

// NewSim builds a simulated provider. failRate is clamped to [0, 1].
func NewSim(name string, latency time.Duration, failRate float64) (*SimProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("sim provider: empty name")
	}
	if failRate < 0 {
		failRate = 0
	}
	if failRate > 1 {
		failRate = 1
	}
	return &SimProvider{name: name, latency: latency, failRate: failRate}, nil
}

func (p *SimProvider) Name() string { return p.name }

func (p *SimProvider) Invoke(ctx context.Context, inv Invocation) (any, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.failRate > 0 && rand.Float64() < p.failRate {
		return nil, fmt.Errorf("%s: simulated failure", p.name)
	}
	return map[string]any{
		"provider": p.name,
		"request":  inv.RequestID,
		"task":     inv.Task,
	}, nil
}
