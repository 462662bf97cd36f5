package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/dispatch"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/eventbus"
	"github.com/pohlai88/aibos-SaaS-windows-1-sub015/internal/provider"
	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

func newAdminService(t *testing.T, cfg Config) *Service {
	t.Helper()
	disp := dispatch.New(dispatch.Config{MaxConcurrency: 1}, provider.NewRegistry(), logx.Nop(), eventbus.New())
	s := New(cfg, disp, eventbus.New(), nil, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func TestAdminEndpoints(t *testing.T) {
	s := newAdminService(t, Config{Enabled: true, Addr: "127.0.0.1:0"})
	s.Start(context.Background())

	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected admin server to expose address")
	}
	base := "http://" + addr

	resp, body := get(t, base+"/healthz", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, base+"/statusz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statusz = %d", resp.StatusCode)
	}
	var status statusPayload
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("statusz not JSON: %v\n%s", err, body)
	}
	if status.Dispatch.MaxConcurrency != 1 {
		t.Fatalf("statusz dispatch = %+v", status.Dispatch)
	}
	if status.Bus == nil {
		t.Fatal("statusz missing bus section")
	}
	if status.Runtime.Goroutines <= 0 {
		t.Fatalf("statusz runtime = %+v", status.Runtime)
	}

	resp, body = get(t, base+"/metrics", nil)
	if resp.StatusCode != http.StatusOK || len(body) == 0 {
		t.Fatalf("metrics = %d, %d bytes", resp.StatusCode, len(body))
	}

	resp, _ = get(t, base+"/debug/pprof/cmdline", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pprof cmdline = %d", resp.StatusCode)
	}

	// No store configured.
	resp, _ = get(t, base+"/archivez", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("archivez without store = %d, want 404", resp.StatusCode)
	}
}

func TestAdminTokenAuth(t *testing.T) {
	s := newAdminService(t, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "hunter2"})
	s.Start(context.Background())

	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected admin server to expose address")
	}
	base := "http://" + addr

	resp, _ := get(t, base+"/healthz", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", resp.StatusCode)
	}
	resp, _ = get(t, base+"/healthz", map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, want 401", resp.StatusCode)
	}
	resp, _ = get(t, base+"/healthz", map[string]string{"Authorization": "Bearer hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer token = %d, want 200", resp.StatusCode)
	}
	resp, _ = get(t, base+"/healthz?token=hunter2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query token = %d, want 200", resp.StatusCode)
	}
}

func TestAdminReconfigure(t *testing.T) {
	cfg := Config{Enabled: true, Addr: "127.0.0.1:0"}
	s := newAdminService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Reconfigure(ctx, cfg)
	addr := s.Addr()
	if addr == "" {
		t.Fatal("Reconfigure(enabled) did not start the server")
	}

	// Same config is a no-op: same listener stays up.
	s.Reconfigure(ctx, cfg)
	if got := s.Addr(); got != addr {
		t.Fatalf("addr changed on no-op reconfigure: %s -> %s", addr, got)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if got := s.Addr(); got != "" {
		t.Fatalf("expected admin server to stop, still at %s", got)
	}
}

func TestAdminRefusesInsecureBind(t *testing.T) {
	// Non-loopback without token or allow_insecure must not listen.
	s := newAdminService(t, Config{Enabled: true, Addr: "0.0.0.0:0"})
	s.Start(context.Background())
	if got := s.Addr(); got != "" {
		t.Fatalf("insecure bind accepted, listening at %s", got)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "127.0.0.1:8344", want: true},
		{addr: "localhost:8344", want: true},
		{addr: "[::1]:8344", want: true},
		{addr: "0.0.0.0:8344", want: false},
		{addr: ":8344", want: false},
		{addr: "10.0.0.8:8344", want: false},
		{addr: "garbage", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			if got := isLoopbackAddr(tt.addr); got != tt.want {
				t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}
