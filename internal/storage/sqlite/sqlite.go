package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"bitbar-composite/internal/storage"
)

// Store реализует storage.Store поверх SQLite.
type Store struct {
	db *sql.DB
}

// Open инициализирует соединение и выполняет миграции.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			report TEXT NOT NULL,
			plugins INTEGER NOT NULL,
			failures INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_ts ON runs(ts);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			plugin TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			error TEXT,
			stdout TEXT,
			stderr TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, position);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun сохраняет прогон вместе с результатами плагинов в одной транзакции.
func (s *Store) SaveRun(ctx context.Context, run storage.RunRecord) (int64, error) {
	ts := run.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO runs(ts, report, plugins, failures) VALUES(?,?,?,?)`,
		ts, run.Report, run.Plugins, run.Failures)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}
	for i, o := range run.Outcomes {
		_, err := tx.ExecContext(ctx, `INSERT INTO outcomes(run_id, position, plugin, status, error_kind, error, stdout, stderr) VALUES(?,?,?,?,?,?,?,?)`,
			id, i, o.Plugin, o.Status, o.ErrorKind, o.Error, o.Stdout, o.Stderr)
		if err != nil {
			return 0, fmt.Errorf("insert outcome %s: %w", o.Plugin, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// LatestRun возвращает последний прогон с результатами плагинов.
func (s *Store) LatestRun(ctx context.Context) (storage.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, ts, report, plugins, failures FROM runs ORDER BY id DESC LIMIT 1`)
	var run storage.RunRecord
	var ts string
	if err := row.Scan(&run.ID, &ts, &run.Report, &run.Plugins, &run.Failures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RunRecord{}, storage.ErrNotFound
		}
		return storage.RunRecord{}, fmt.Errorf("query latest run: %w", err)
	}
	parsedTS, err := parseSQLiteTS(ts)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("parse run timestamp: %w", err)
	}
	run.TS = parsedTS

	rows, err := s.db.QueryContext(ctx, `
SELECT plugin, status, error_kind, error, stdout, stderr
FROM outcomes
WHERE run_id = ?
ORDER BY position`, run.ID)
	if err != nil {
		return storage.RunRecord{}, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o storage.OutcomeRecord
		if err := rows.Scan(&o.Plugin, &o.Status, &o.ErrorKind, &o.Error, &o.Stdout, &o.Stderr); err != nil {
			return storage.RunRecord{}, fmt.Errorf("scan outcome: %w", err)
		}
		run.Outcomes = append(run.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return storage.RunRecord{}, fmt.Errorf("iterate outcomes: %w", err)
	}
	return run, nil
}

// QueryRuns возвращает сводки прогонов (без отчета и результатов) по фильтрам.
func (s *Store) QueryRuns(ctx context.Context, q storage.RunQuery) ([]storage.RunRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	from := q.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := q.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, ts, plugins, failures
FROM runs
WHERE ts >= ? AND ts <= ?
ORDER BY id DESC
LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]storage.RunRecord, 0, limit)
	for rows.Next() {
		var run storage.RunRecord
		var ts string
		if err := rows.Scan(&run.ID, &ts, &run.Plugins, &run.Failures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		parsedTS, err := parseSQLiteTS(ts)
		if err != nil {
			return nil, fmt.Errorf("parse run timestamp: %w", err)
		}
		run.TS = parsedTS
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Prune оставляет только keep последних прогонов; keep <= 0 ничего не удаляет.
func (s *Store) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const keepIDs = `SELECT id FROM runs ORDER BY id DESC LIMIT ?`
	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE run_id NOT IN (`+keepIDs+`)`, keep); err != nil {
		return fmt.Errorf("prune outcomes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN (`+keepIDs+`)`, keep); err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prune: %w", err)
	}
	return nil
}

func parseSQLiteTS(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite time format: %q", v)
}

// Close закрывает соединение.
func (s *Store) Close() error {
	return s.db.Close()
}
