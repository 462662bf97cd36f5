package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/config"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/dispatch"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/services/admin"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/services/janitor"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/storage"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

// The map* helpers translate the file config into per-service configs,
// parsing duration strings along the way. They are also called from the
// reload validator so a bad file is rejected before commit.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:        cfg.Logging.File.Enabled,
			Path:           cfg.Logging.File.Path,
			MaxLinesPerSec: cfg.Logging.File.MaxLinesPerSec,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	dc := cfg.Dispatch

	backoff, err := config.ParseDurationOrDefault("dispatch.base_backoff", dc.BaseBackoff, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	reqTimeout, err := config.ParseDurationField("dispatch.request_timeout", dc.RequestTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	tick, err := config.ParseDurationOrDefault("dispatch.tick_interval", dc.TickInterval, 100*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	strategy, err := provider.ParseStrategy(dc.Strategy)
	if err != nil {
		return dispatch.Config{}, fmt.Errorf("dispatch.strategy: %w", err)
	}

	return dispatch.Config{
		MaxConcurrency: dc.MaxConcurrency,
		MaxRetries:     dc.MaxRetriesOrDefault(),
		BaseBackoff:    backoff,
		Strategy:       strategy,
		RequestTimeout: reqTimeout,
		TickInterval:   tick,
		MaxPerTick:     dc.MaxPerTick,
		HistorySize:    dc.HistorySize,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin

	read, err := config.ParseDurationField("admin.read_timeout", ac.ReadTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	write, err := config.ParseDurationField("admin.write_timeout", ac.WriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationField("admin.idle_timeout", ac.IdleTimeout)
	if err != nil {
		return admin.Config{}, err
	}

	return admin.Config{
		Enabled:              ac.Enabled,
		Addr:                 ac.Addr,
		Token:                ac.Token,
		AllowInsecure:        ac.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: ac.MutexProfileFraction,
		BlockProfileRate:     ac.BlockProfileRate,
	}, nil
}

// mapJanitorConfig defaults to an enabled sweeper; an omitted janitor
// section still keeps the status index from growing without bound.
func mapJanitorConfig(cfg *config.Config) (janitor.Config, error) {
	jc := config.JanitorConfig{}
	if cfg.Janitor != nil {
		jc = *cfg.Janitor
	}

	enabled := true
	if jc.Enabled != nil {
		enabled = *jc.Enabled
	}
	retention, err := config.ParseDurationField("janitor.retention", jc.Retention)
	if err != nil {
		return janitor.Config{}, err
	}
	if schedule := strings.TrimSpace(jc.Schedule); schedule != "" {
		if err := janitor.ValidateSchedule(schedule); err != nil {
			return janitor.Config{}, fmt.Errorf("janitor.schedule: %w", err)
		}
	}

	return janitor.Config{
		Enabled:   enabled,
		Schedule:  jc.Schedule,
		Retention: retention,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// buildRegistry constructs the execution backends from the static provider
// list. Provider identity is fixed for the process lifetime; changing the
// list requires a restart so stats stay attached to the right backend.
func buildRegistry(cfgs []config.ProviderConfig) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, pc := range cfgs {
		p, err := buildProvider(pc)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p, pc.CostPerRequest); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildProvider(pc config.ProviderConfig) (provider.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(pc.Kind)) {
	case "http":
		return provider.NewHTTP(provider.HTTPOptions{
			Name:       pc.Name,
			URL:        pc.URL,
			AuthToken:  pc.AuthToken,
			RatePerSec: pc.RatePerSec,
			Burst:      pc.Burst,
		})
	case "sim":
		latency, err := config.ParseDurationField("providers."+pc.Name+".latency", pc.Latency)
		if err != nil {
			return nil, err
		}
		return provider.NewSim(pc.Name, latency, pc.FailRate)
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
	}
}
