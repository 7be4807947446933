package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// cycleRetention bounds the audit trail kept in the cycles table.
const cycleRetention = 500

// SQLiteStore keeps the snapshot in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (creating if needed) the snapshot database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single-connection
	// pool serializes access at the Go level and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			source_label TEXT NOT NULL,
			host         TEXT NOT NULL,
			category     TEXT NOT NULL,
			detail       TEXT NOT NULL,
			severity     TEXT NOT NULL,
			opdata       TEXT NOT NULL,
			last_change  INTEGER NOT NULL,
			age_seconds  INTEGER NOT NULL,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			display      TEXT NOT NULL DEFAULT '',
			updated_at   TEXT DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id         TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			active     INTEGER NOT NULL,
			new_count  INTEGER NOT NULL,
			updated_count INTEGER NOT NULL,
			resolved_count INTEGER NOT NULL,
			changed    INTEGER NOT NULL,
			error      TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// Load reads the full alert mapping. A row that fails to scan is a
// storage failure; a missing table cannot happen because the schema is
// created on open.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]alert.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_label, host, category, detail, severity,
		        opdata, last_change, age_seconds, acknowledged
		 FROM alerts`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]alert.Record)
	for rows.Next() {
		var rec alert.Record
		var acked int
		if err := rows.Scan(&rec.ID, &rec.SourceLabel, &rec.Host, &rec.Category,
			&rec.Detail, &rec.Severity, &rec.Opdata, &rec.LastChange,
			&rec.AgeSeconds, &acked); err != nil {
			return nil, err
		}
		rec.Acked = acked != 0
		result[rec.ID] = rec
	}
	return result, rows.Err()
}

// Save replaces the stored mapping wholesale in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records map[string]alert.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM alerts"); err != nil {
		return err
	}
	for _, rec := range records {
		acked := 0
		if rec.Acked {
			acked = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (id, source_label, host, category, detail,
			                     severity, opdata, last_change, age_seconds,
			                     acknowledged, display, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))`,
			rec.ID, rec.SourceLabel, rec.Host, rec.Category, rec.Detail,
			rec.Severity, rec.Opdata, rec.LastChange, rec.AgeSeconds,
			acked, rec.Render(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordCycle appends one audit row and trims the trail to the
// retention bound.
func (s *SQLiteStore) RecordCycle(ctx context.Context, info CycleInfo) error {
	changed := 0
	if info.Changed {
		changed = 1
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (id, started_at, duration_ms, active, new_count,
		                     updated_count, resolved_count, changed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		info.Duration.Milliseconds(), info.Active, info.New, info.Updated,
		info.Resolved, changed, info.Error,
	); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cycles WHERE id NOT IN (
			SELECT id FROM cycles ORDER BY started_at DESC LIMIT ?
		)`, cycleRetention,
	); err != nil {
		slog.Warn("cycle audit trim failed", "err", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
