package storage

// Package storage archives terminal requests evicted from the dispatcher's
// in-memory index. The dispatcher itself keeps no durable state; the archive
// exists so operators can answer "what happened to request X" after the
// retention sweep.
//
// Backends:
//   - file: append-only JSON Lines, no extra dependencies
//   - sqlite: single-file database, queryable with standard tooling
