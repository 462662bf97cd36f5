package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/dispatch"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/eventbus"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/storage"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "every descriptor", spec: "@every 1m"},
		{name: "cron spec", spec: "*/5 * * * *"},
		{name: "hourly descriptor", spec: "@hourly"},
		{name: "garbage", spec: "often", wantErr: true},
		{name: "six fields", spec: "* * * * * *", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateSchedule(tt.spec)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateSchedule(%q) = nil, want error", tt.spec)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateSchedule(%q): %v", tt.spec, err)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	got := Config{Enabled: true}.withDefaults()
	if got.Schedule != defaultSchedule {
		t.Fatalf("schedule = %q, want %q", got.Schedule, defaultSchedule)
	}
	if got.Retention != defaultRetention {
		t.Fatalf("retention = %v, want %v", got.Retention, defaultRetention)
	}
}

type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }
func (echoProvider) Invoke(_ context.Context, inv provider.Invocation) (any, error) {
	return inv.Task, nil
}

func TestSweepArchivesEvicted(t *testing.T) {
	t.Parallel()
	reg := provider.NewRegistry()
	if err := reg.Register(echoProvider{}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	disp := dispatch.New(dispatch.Config{
		MaxConcurrency: 2,
		BaseBackoff:    5 * time.Millisecond,
		TickInterval:   10 * time.Millisecond,
	}, reg, logx.Nop(), eventbus.New())
	disp.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		disp.Stop(ctx)
	})

	store, err := storage.Open(storage.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "archive.jsonl"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	id, err := disp.Submit(dispatch.Task{Name: "echo-me"}, dispatch.PriorityNormal)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		req, err := disp.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if req.Status == dispatch.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("request stuck in %s", req.Status)
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond) // let FinishedAt fall behind the cutoff

	j := New(Config{Enabled: true, Retention: 0}, disp, store, logx.Nop())
	j.Sweep()

	// The request left the index and landed in the archive.
	if _, err := disp.Status(id); err == nil {
		t.Fatal("request still readable after sweep")
	}
	recs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("archive holds %d records, want 1", len(recs))
	}
	if recs[0].ID != id || recs[0].Status != "completed" || recs[0].Provider != "echo" {
		t.Fatalf("archived record = %+v", recs[0])
	}

	// A second sweep finds nothing new.
	j.Sweep()
	recs, err = store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("archive holds %d records after idle sweep, want 1", len(recs))
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()
	disp := dispatch.New(dispatch.Config{MaxConcurrency: 1}, provider.NewRegistry(), logx.Nop(), eventbus.New())
	j := New(Config{Enabled: true, Schedule: "@every 1h"}, disp, nil, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	j.Start(ctx)
	j.Start(ctx)
	j.Stop(ctx)
	j.Stop(ctx)

	// Disabled janitor never starts.
	off := New(Config{Enabled: false}, disp, nil, logx.Nop())
	off.Start(ctx)
	off.Stop(ctx)
}

func TestReconfigureToggles(t *testing.T) {
	t.Parallel()
	disp := dispatch.New(dispatch.Config{MaxConcurrency: 1}, provider.NewRegistry(), logx.Nop(), eventbus.New())
	j := New(Config{Enabled: false}, disp, nil, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Enable via reconfigure.
	j.Reconfigure(ctx, Config{Enabled: true, Schedule: "@every 1h"})
	j.mu.Lock()
	running := j.stopCh != nil
	j.mu.Unlock()
	if !running {
		t.Fatal("Reconfigure(enabled) did not start the janitor")
	}

	// Schedule change restarts; still running afterwards.
	j.Reconfigure(ctx, Config{Enabled: true, Schedule: "@every 2h"})
	j.mu.Lock()
	running = j.stopCh != nil
	sched := j.cfg.Schedule
	j.mu.Unlock()
	if !running || sched != "@every 2h" {
		t.Fatalf("after schedule change: running=%v schedule=%q", running, sched)
	}

	// Disable stops it.
	j.Reconfigure(ctx, Config{Enabled: false})
	j.mu.Lock()
	running = j.stopCh != nil
	j.mu.Unlock()
	if running {
		t.Fatal("Reconfigure(disabled) left the janitor running")
	}
}
