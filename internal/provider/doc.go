// Package provider defines the execution backends the dispatcher hands
// requests to, the per-backend rolling statistics, and the selection
// strategies that load-balance across them.
//
// A backend is opaque: Invoke either returns a result or an error. The two
// shipped implementations (http, sim) exist so the daemon is runnable; the
// dispatcher treats every Provider identically.
package provider
