package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskcore/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e EventRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events(at, node, kind, task_id, name, priority, previous) VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Node, e.Kind, int64(e.TaskID), nullStr(e.Name), e.Priority, e.Previous,
	)
	return err
}

func (s *sqliteStore) AppendBenchmark(ctx context.Context, r BenchmarkResult) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bench_results(at, name, iterations, total_ns, avg_ns, overhead_ns) VALUES(?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Name, r.Iterations, int64(r.TotalNanos), int64(r.AvgNanos), int64(r.Overhead),
	)
	return err
}

func (s *sqliteStore) PutBaseline(ctx context.Context, name string, avgNanos uint64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bench_baselines(name, avg_ns) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET avg_ns=excluded.avg_ns`,
		name, int64(avgNanos),
	)
	return err
}

func (s *sqliteStore) GetBaseline(ctx context.Context, name string) (uint64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT avg_ns FROM bench_baselines WHERE name = ?`, name).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(ns), true, nil
}

// CountEvents is used by tests and diagnostics.
func (s *sqliteStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_events`).Scan(&n)
	return n, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
