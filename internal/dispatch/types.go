package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
)

// Priority is the request's scheduling class. Lower values dispatch first;
// requests within the same class dispatch in submission order.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

var priorityNames = [...]string{"critical", "high", "normal", "low"}

const priorityCount = len(priorityNames)

func (p Priority) Valid() bool { return p >= PriorityCritical && p <= PriorityLow }

func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a class name back to its Priority.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON emits the class name so snapshots and archives stay readable.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a class name or a bare class number.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParsePriority(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("priority: want class name or number, got %s", data)
	}
	if v := Priority(n); v.Valid() {
		*p = v
		return nil
	}
	return fmt.Errorf("priority %d out of range", n)
}

// Status is a request's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the unit of work a caller submits. The dispatcher treats Payload
// and Options as opaque; they travel to the provider unchanged.
type Task struct {
	Name    string         `json:"name"`
	Payload any            `json:"payload,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Request is the dispatcher's record of one submitted task. Status reads
// return copies; Result is shared with the provider's reply and must be
// treated as read-only by callers.
type Request struct {
	ID         string    `json:"id"`
	Task       Task      `json:"task"`
	Priority   Priority  `json:"priority"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Retries counts consumed requeues; it never exceeds MaxRetries, which
	// is fixed from the dispatcher config at submission time.
	Retries    int `json:"retries"`
	MaxRetries int `json:"max_retries"`

	// Provider is the backend of the most recent attempt.
	Provider string `json:"provider,omitempty"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Config tunes the dispatcher. Zero values fall back to the defaults noted
// per field, except MaxRetries where 0 genuinely means "fail on the first
// error".
type Config struct {
	// MaxConcurrency bounds simultaneously processing requests (min 1).
	MaxConcurrency int

	// MaxRetries is the per-request requeue budget.
	MaxRetries int

	// BaseBackoff scales the requeue delay: the Nth retry waits base*N.
	// Default 500ms.
	BaseBackoff time.Duration

	// Strategy picks the backend for each attempt. Default round-robin.
	Strategy provider.Strategy

	// RequestTimeout bounds a single provider call. 0 disables it.
	RequestTimeout time.Duration

	// TickInterval is the loop's safety-net tick; submissions, releases and
	// requeues wake it ahead of schedule. Default 100ms.
	TickInterval time.Duration

	// MaxPerTick caps admissions per drain pass. 0 means unlimited.
	MaxPerTick int

	// HistorySize bounds the ring of recent terminal outcomes. Default 64.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.Strategy == "" {
		c.Strategy = provider.StrategyRoundRobin
	}
	if c.RequestTimeout < 0 {
		c.RequestTimeout = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.MaxPerTick < 0 {
		c.MaxPerTick = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 64
	}
	return c
}

// Snapshot is a point-in-time operational view, served by /statusz.
type Snapshot struct {
	Running        bool           `json:"running"`
	Strategy       string         `json:"strategy"`
	QueueLen       int            `json:"queue_len"`
	QueueDepths    map[string]int `json:"queue_depths"`
	InFlight       int            `json:"in_flight"`
	MaxConcurrency int            `json:"max_concurrency"`

	// Tracked counts all requests still readable via Status, terminal ones
	// included until the janitor evicts them.
	Tracked int `json:"tracked"`

	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	Retried   uint64 `json:"retried"`
	Evicted   uint64 `json:"evicted"`

	Providers []provider.Stats `json:"providers"`
	History   []HistoryItem    `json:"history,omitempty"`
}

// HistoryItem is one terminal outcome kept in the snapshot ring.
type HistoryItem struct {
	ID       string        `json:"id"`
	Task     string        `json:"task"`
	Priority Priority      `json:"priority"`
	Status   Status        `json:"status"`
	Provider string        `json:"provider,omitempty"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration,omitempty"`
	Finished time.Time     `json:"finished"`
	Error    string        `json:"error,omitempty"`
}

// RequestEvent is the Data payload of request.* events on the bus.
type RequestEvent struct {
	ID       string        `json:"id"`
	Task     string        `json:"task"`
	Priority string        `json:"priority"`
	Status   Status        `json:"status"`
	Provider string        `json:"provider,omitempty"`
	Attempt  int           `json:"attempt,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	Error    string        `json:"error,omitempty"`
}
