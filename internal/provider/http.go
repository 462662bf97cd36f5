package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const errBodyLimit = 1 << 10 // keep error snippets short

// HTTPOptions configures an HTTP-backed provider.
type HTTPOptions struct {
	Name      string
	URL       string
	AuthToken string
	// RatePerSec throttles outbound calls when > 0.
	RatePerSec float64
	Burst      int
	// Client overrides the default http.Client, mainly for tests.
	Client *http.Client
}

// HTTPProvider invokes a remote compute endpoint by POSTing the invocation
// as JSON and decoding the JSON reply.
type HTTPProvider struct {
	name    string
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTP builds an HTTP provider from opts.
func NewHTTP(opts HTTPOptions) (*HTTPProvider, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fmt.Errorf("http provider: empty name")
	}
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("http provider %s: empty url", opts.Name)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return &HTTPProvider{
		name:    opts.Name,
		url:     opts.URL,
		token:   opts.AuthToken,
		client:  client,
		limiter: limiter,
	}, nil
}

func (p *HTTPProvider) Name() string { return p.name }

// Invoke sends the invocation and returns the decoded response body.
// 4xx replies are wrapped with NoRetry: resending the same payload will
// not change the outcome. 5xx and transport errors stay retryable, and a
// Retry-After header is honored when present.
func (p *HTTPProvider) Invoke(ctx context.Context, inv Invocation) (any, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate wait: %w", err)
		}
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return nil, NoRetry(fmt.Errorf("encode invocation: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, NoRetry(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeResult(resp.Body)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		snippet := readSnippet(resp.Body)
		return nil, NoRetry(fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, snippet))
	default:
		snippet := readSnippet(resp.Body)
		err := fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, snippet)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return nil, RetryAfter(err, d)
		}
		return nil, err
	}
}

func decodeResult(r io.Reader) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		// Non-JSON replies are still a result, just opaque.
		return string(data), nil
	}
	return out, nil
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, errBodyLimit))
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil && secs > 0 {
		return secs, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
	}
	return 0, false
}
