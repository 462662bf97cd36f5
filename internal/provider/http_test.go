package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestNewHTTPValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewHTTP(HTTPOptions{URL: "http://x"}); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := NewHTTP(HTTPOptions{Name: "x"}); err == nil {
		t.Fatal("empty url accepted")
	}
}

func TestHTTPInvokeSuccess(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var gotAuth, gotType string
	var gotInv Invocation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		err := json.NewDecoder(r.Body).Decode(&gotInv)
		mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"answer": 42})
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPOptions{Name: "remote", URL: srv.URL, AuthToken: "sekrit", Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	res, err := p.Invoke(context.Background(), Invocation{RequestID: "r1", Task: "summarize"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "Bearer sekrit" {
		t.Fatalf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotType != "application/json" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	if gotInv.RequestID != "r1" || gotInv.Task != "summarize" {
		t.Fatalf("server saw %+v", gotInv)
	}
	m, ok := res.(map[string]any)
	if !ok || m["answer"] != float64(42) {
		t.Fatalf("result = %#v, want decoded JSON object", res)
	}
}

func TestHTTPInvokeClientErrorIsNoRetry(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad input", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPOptions{Name: "remote", URL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	_, err = p.Invoke(context.Background(), Invocation{RequestID: "r1", Task: "t"})
	if err == nil {
		t.Fatal("Invoke succeeded on 422")
	}
	if !IsNoRetry(err) {
		t.Fatalf("4xx error not marked NoRetry: %v", err)
	}
}

func TestHTTPInvokeServerErrorIsRetryable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPOptions{Name: "remote", URL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	_, err = p.Invoke(context.Background(), Invocation{RequestID: "r1", Task: "t"})
	if err == nil {
		t.Fatal("Invoke succeeded on 503")
	}
	if IsNoRetry(err) {
		t.Fatalf("5xx error marked NoRetry: %v", err)
	}
	d, ok := RetryDelay(err)
	if !ok || d != 2*time.Second {
		t.Fatalf("RetryDelay = %v/%v, want 2s from header", d, ok)
	}
}

func TestHTTPInvokeNonJSONBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("plain text reply"))
	}))
	defer srv.Close()

	p, err := NewHTTP(HTTPOptions{Name: "remote", URL: srv.URL, Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	res, err := p.Invoke(context.Background(), Invocation{RequestID: "r1", Task: "t"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res != "plain text reply" {
		t.Fatalf("result = %#v, want raw string", res)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("parseRetryAfter(3) = %v/%v", d, ok)
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatal("empty header parsed")
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("garbage header parsed")
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if d, ok := parseRetryAfter(future); !ok || d < 80*time.Second || d > 90*time.Second {
		t.Fatalf("parseRetryAfter(date) = %v/%v", d, ok)
	}
}
