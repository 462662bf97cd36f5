package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures the archive.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", archiving is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one archived terminal request.
// Keep it flat and schema-stable; it outlives process restarts.
type Record struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Priority   string    `json:"priority"`
	Status     string    `json:"status"`
	Provider   string    `json:"provider,omitempty"`
	Retries    int       `json:"retries"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}
