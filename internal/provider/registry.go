package provider

import (
	"fmt"
	"sync"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/metrics"
)

// Stats is a per-provider rolling performance snapshot.
//
// SuccessRate is always recomputed from the cumulative success/failure
// counts; AvgLatency uses the (old+new)/2 smoothing, seeded by the first
// observation so an untouched provider doesn't look artificially fast.
type Stats struct {
	Name           string        `json:"name"`
	Requests       uint64        `json:"requests"`
	Successes      uint64        `json:"successes"`
	Failures       uint64        `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
	AvgLatency     time.Duration `json:"avg_latency"`
	CostPerRequest float64       `json:"cost_per_request"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty"`
}

// Registry holds the known backends and their stats. Iteration order is
// registration order; strategies rely on it for deterministic tie-breaks.
//
// Entries are never removed while the dispatcher is alive.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*member
}

type member struct {
	p     Provider
	stats Stats
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]*member{}}
}

// Register adds a backend with its seed cost-per-request.
func (r *Registry) Register(p Provider, costPerRequest float64) error {
	if p == nil {
		return fmt.Errorf("registry: nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("registry: provider has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("registry: duplicate provider %q", name)
	}
	r.order = append(r.order, name)
	r.byName[name] = &member{
		p:     p,
		stats: Stats{Name: name, CostPerRequest: costPerRequest},
	}
	return nil
}

// Lookup returns the backend by name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byName[name]
	if m == nil {
		return nil, false
	}
	return m.p, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Snapshot copies all stats in registration order. This is the selector's
// candidate list.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].stats)
	}
	return out
}

// RecordSuccess notes one successful attempt and its observed latency.
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byName[name]
	if m == nil {
		return
	}
	st := &m.stats
	st.Requests++
	st.Successes++
	if st.Successes == 1 {
		st.AvgLatency = latency
	} else {
		st.AvgLatency = (st.AvgLatency + latency) / 2
	}
	st.SuccessRate = successRate(st.Successes, st.Failures)
	st.UpdatedAt = time.Now()

	metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())
	metrics.ProviderSuccessRate.WithLabelValues(name).Set(st.SuccessRate)
}

// RecordFailure notes one failed attempt. Latency is not sampled from
// failures.
func (r *Registry) RecordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byName[name]
	if m == nil {
		return
	}
	st := &m.stats
	st.Requests++
	st.Failures++
	st.SuccessRate = successRate(st.Successes, st.Failures)
	st.UpdatedAt = time.Now()

	metrics.ProviderSuccessRate.WithLabelValues(name).Set(st.SuccessRate)
}

func successRate(successes, failures uint64) float64 {
	total := successes + failures
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total)
}
