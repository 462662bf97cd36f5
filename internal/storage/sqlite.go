package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/pohlai88/aibos-SaaS-windows-1-sub015/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive (
	id          TEXT PRIMARY KEY,
	task        TEXT NOT NULL,
	priority    TEXT NOT NULL,
	status      TEXT NOT NULL,
	provider    TEXT,
	retries     INTEGER NOT NULL DEFAULT 0,
	err         TEXT,
	created_ms  INTEGER NOT NULL,
	finished_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS archive_finished ON archive(finished_ms);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("record id is required")
	}
	// Evicted ids are unique per process lifetime; DO NOTHING makes a
	// replay after a partial failure harmless.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archive(id, task, priority, status, provider, retries, err, created_ms, finished_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Task, rec.Priority, rec.Status, nullStr(rec.Provider),
		rec.Retries, nullStr(rec.Error), rec.CreatedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	return err
}

// Recent returns up to limit records, newest first.
func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, priority, status, provider, retries, err, created_ms, finished_ms
		 FROM archive ORDER BY finished_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var prov, errStr sql.NullString
		var createdMS, finishedMS int64
		if err := rows.Scan(&rec.ID, &rec.Task, &rec.Priority, &rec.Status, &prov, &rec.Retries, &errStr, &createdMS, &finishedMS); err != nil {
			return nil, err
		}
		rec.Provider = prov.String
		rec.Error = errStr.String
		rec.CreatedAt = time.UnixMilli(createdMS)
		rec.FinishedAt = time.UnixMilli(finishedMS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
