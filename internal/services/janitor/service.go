// Package janitor sweeps terminal requests out of the dispatcher's status
// index on a schedule and, when an archive store is configured, writes the
// evicted records to it.
package janitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/dispatch"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/storage"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

const (
	defaultSchedule  = "@every 1m"
	defaultRetention = 30 * time.Minute
	archiveTimeout   = 10 * time.Second
)

// Config controls the retention sweep.
type Config struct {
	Enabled bool
	// Schedule is a cron spec or @every descriptor.
	Schedule  string
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaultSchedule
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	return c
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSchedule reports whether spec parses as a janitor schedule.
func ValidateSchedule(spec string) error {
	_, err := newParser().Parse(spec)
	return err
}

// Service runs the sweep. Construct with New, then Start.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	disp  *dispatch.Service
	store storage.Store

	parser cron.Parser
	c      *cron.Cron
	stopCh chan struct{}
}

// New builds the janitor. store may be nil; evicted requests are then
// dropped after the sweep.
func New(cfg Config, disp *dispatch.Service, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		disp:   disp,
		store:  store,
		log:    log.With(logx.String("comp", "janitor")),
		parser: newParser(),
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	if !s.cfg.Enabled {
		return
	}
	s.stopCh = make(chan struct{})
	s.startCronLocked()
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		// Wait for a running sweep to finish, bounded by ctx.
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			s.log.Warn("janitor stop timed out", logx.Err(ctx.Err()))
			return
		}
	}
	s.log.Info("janitor stopped")
}

// Reconfigure hot-applies cfg. A schedule change restarts the cron;
// retention changes take effect on the next sweep.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if prev.Schedule != cfg.Schedule {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// startCronLocked builds and starts the cron. Callers hold mu.
func (s *Service) startCronLocked() {
	spec := s.cfg.Schedule
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(spec, s.Sweep); err != nil {
		s.log.Error("invalid janitor schedule, using default",
			logx.String("schedule", spec),
			logx.String("fallback", defaultSchedule),
			logx.Err(err),
		)
		spec = defaultSchedule
		if _, err := c.AddFunc(spec, s.Sweep); err != nil {
			// Unreachable with a constant spec, but don't run a cron
			// with no entries.
			s.stopCh = nil
			return
		}
	}
	s.c = c
	c.Start()
	s.log.Info("janitor started",
		logx.String("schedule", spec),
		logx.Duration("retention", s.cfg.Retention),
		logx.Bool("archive", s.store != nil),
	)
}

// Sweep runs one retention pass. The cron calls it on schedule; tests and
// operators can call it directly.
func (s *Service) Sweep() {
	s.mu.Lock()
	cfg := s.cfg
	store := s.store
	s.mu.Unlock()

	evicted := s.disp.PruneFinished(cfg.Retention)
	if len(evicted) == 0 {
		return
	}

	archived := 0
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		for i := range evicted {
			if err := store.Append(ctx, toRecord(evicted[i])); err != nil {
				s.log.Warn("archive append failed",
					logx.String("id", evicted[i].ID),
					logx.Err(err),
				)
				continue
			}
			archived++
		}
	}
	s.log.Debug("retention sweep",
		logx.Int("evicted", len(evicted)),
		logx.Int("archived", archived),
		logx.Duration("retention", cfg.Retention),
	)
}

func toRecord(r dispatch.Request) storage.Record {
	return storage.Record{
		ID:         r.ID,
		Task:       r.Task.Name,
		Priority:   r.Priority.String(),
		Status:     string(r.Status),
		Provider:   r.Provider,
		Retries:    r.Retries,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
	}
}
