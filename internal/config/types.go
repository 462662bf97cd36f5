package config

// Config is the root of dispatcherd's configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown fields are rejected so typos surface at load time instead of
// silently running with defaults.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`

	// Providers is the static list of execution backends. Order matters:
	// selection strategies break ties by list order. Changing this list
	// requires a restart; the dispatcher never mutates provider stats
	// identity while alive.
	// An empty list is legal: requests then wait in the queue until a
	// restart supplies backends.
	Providers []ProviderConfig `json:"providers" validate:"dive"`

	Admin   AdminConfig    `json:"admin,omitempty"`
	Janitor *JanitorConfig `json:"janitor,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Tracing TracingConfig  `json:"tracing,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	// MaxLinesPerSec throttles the file sink (0 = unlimited).
	MaxLinesPerSec int `json:"max_lines_per_sec,omitempty" validate:"gte=0"`
}

// DispatchConfig controls the request dispatcher.
//
// Defaults (when fields are omitted):
//   - max_retries: 3 (an explicit 0 disables retries)
//   - base_backoff: "500ms"
//   - request_timeout: "0s" (disabled)
//   - tick_interval: "100ms"
//   - strategy: "round-robin"
//   - max_per_tick: 0 (unlimited)
//   - history_size: 64
type DispatchConfig struct {
	MaxConcurrency int `json:"max_concurrency" validate:"gte=1"`

	// MaxRetries is a pointer so an omitted field defaults to 3 while an
	// explicit 0 means "fail on the first error".
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0"`

	// BaseBackoff scales the requeue delay: attempt N waits base*N.
	BaseBackoff string `json:"base_backoff,omitempty"`

	// RequestTimeout bounds a single provider call. "0s" disables it.
	RequestTimeout string `json:"request_timeout,omitempty"`

	// TickInterval is the dispatch loop's safety-net tick. The loop is
	// normally woken by submissions and releases.
	TickInterval string `json:"tick_interval,omitempty"`

	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=round-robin least-loaded fastest-response cost-optimized"`

	// MaxPerTick caps admissions per drain pass (0 = unlimited).
	MaxPerTick int `json:"max_per_tick,omitempty" validate:"gte=0"`

	HistorySize int `json:"history_size,omitempty" validate:"gte=0"`
}

const defaultMaxRetries = 3

// MaxRetriesOrDefault resolves the retry budget, honoring an explicit 0.
func (d DispatchConfig) MaxRetriesOrDefault() int {
	if d.MaxRetries != nil {
		return *d.MaxRetries
	}
	return defaultMaxRetries
}

// ProviderConfig declares one execution backend.
//
// Kind values:
//   - "http": POSTs the task as JSON to URL, honoring rate_per_sec/burst.
//   - "sim":  in-process simulated backend (latency + fail_rate), useful
//     for local runs and load drills.
type ProviderConfig struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=http sim"`

	// CostPerRequest seeds the cost-optimized strategy. Unit is up to the
	// operator (e.g. cents per call); only relative order matters.
	CostPerRequest float64 `json:"cost_per_request,omitempty" validate:"gte=0"`

	// http only.
	URL        string  `json:"url,omitempty" validate:"omitempty,url"`
	RatePerSec float64 `json:"rate_per_sec,omitempty" validate:"gte=0"`
	Burst      int     `json:"burst,omitempty" validate:"gte=0"`
	AuthToken  string  `json:"auth_token,omitempty"` // do not log

	// sim only.
	Latency  string  `json:"latency,omitempty"`
	FailRate float64 `json:"fail_rate,omitempty" validate:"gte=0,lte=1"`
}

// AdminConfig controls the optional admin HTTP server
// (healthz, statusz, metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8344").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8344"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /debug/pprof/profile (30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// JanitorConfig controls the retention sweeper.
//
// Enabled is a pointer so an omitted section defaults to on while an
// explicit false turns it off.
//
// Defaults:
//   - schedule: "@every 1m"
//   - retention: "30m"
type JanitorConfig struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"`
}

// StorageConfig controls the optional archive of evicted terminal requests.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./dispatcherd.db" }
//
// Driver "" or "none" disables archiving; the dispatcher itself keeps no
// durable state either way.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TracingConfig controls OpenTelemetry span export (stdout exporter).
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"service_name,omitempty"` // default: "dispatcherd"
	Pretty      bool   `json:"pretty,omitempty"`
}
