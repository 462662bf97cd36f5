// Package app wires the dispatcher process together: config, logging,
// providers, the dispatch core, and the operational services around it.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/config"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/dispatch"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/eventbus"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/runtime/supervisor"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/services/admin"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/services/janitor"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/storage"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/tracing"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	registry *provider.Registry

	disp  *dispatch.Service
	admin *admin.Service
	jan   *janitor.Service

	stopTracing func(context.Context) error
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Archive store (optional).
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("archive enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	registry, err := buildRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}
	log.Info("providers registered", logx.Int("count", registry.Len()), logx.Any("names", registry.Names()))

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dc, registry, log.With(logx.String("comp", "dispatch")), bus)

	ac, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	adminSvc := admin.New(ac, disp, bus, store, log)

	jc, err := mapJanitorConfig(cfg)
	if err != nil {
		return nil, err
	}
	jan := janitor.New(jc, disp, store, log)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		registry: registry,
		disp:     disp,
		admin:    adminSvc,
		jan:      jan,
	}, nil
}

// Dispatcher exposes the dispatch core for embedding callers.
func (a *App) Dispatcher() *dispatch.Service { return a.disp }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAdminConfig(cfg); err != nil {
			return err
		}
		if _, err := mapJanitorConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if cfg := a.cfgm.Get(); cfg != nil && cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Pretty, a.log.With(logx.String("comp", "tracing")))
		if err != nil {
			return fmt.Errorf("tracing init: %w", err)
		}
		a.stopTracing = shutdown
	}

	a.disp.Start(a.sup.Context())
	a.admin.Start(a.sup.Context())
	a.jan.Start(a.sup.Context())

	// Debug tap on the event bus; components that care subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if re, ok := e.Data.(dispatch.RequestEvent); ok {
					fields = append(fields, logx.String("id", re.ID))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Debug("config change summary", fields...)

				for _, sec := range sections {
					switch sec {
					case "providers", "storage", "tracing":
						a.log.Warn("section requires restart for changes to take effect",
							logx.String("section", sec))
					}
				}

				// Logging first so the applies below obey the new level.
				a.logs.Apply(mapLoggingConfig(newCfg))

				if dc, err := mapDispatchConfig(newCfg); err != nil {
					a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
				} else if err := a.disp.Reconfigure(dc); err != nil {
					a.log.Warn("dispatch reconfigure rejected; keeping previous", logx.Err(err))
				}

				if ac, err := mapAdminConfig(newCfg); err != nil {
					a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
				} else {
					a.admin.Reconfigure(c, ac)
				}

				if jc, err := mapJanitorConfig(newCfg); err != nil {
					a.log.Warn("invalid janitor config; keeping previous", logx.Err(err))
				} else {
					a.jan.Reconfigure(c, jc)
				}

				a.bus.Publish(eventbus.Event{Type: "config.reload", Data: map[string]any{"changed": sections}})
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so a single component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline",
					logx.String("name", name),
					logx.Err(err),
					logx.Duration("took", time.Since(start)),
				)
			}()
		}
	}

	// Order: stop feeders before the core, flush observers last.
	step("janitor", 2*time.Second, func(c context.Context) error { a.jan.Stop(c); return nil })
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("dispatcher", 5*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	if a.stopTracing != nil {
		step("tracing", 2*time.Second, func(c context.Context) error { return a.stopTracing(c) })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
