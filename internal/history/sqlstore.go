package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	iteration     INTEGER NOT NULL,
	at            TEXT    NOT NULL,
	blocking_gaps INTEGER NOT NULL,
	total_gaps    INTEGER NOT NULL,
	can_terminate INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_gaps (
	run_seq  INTEGER NOT NULL REFERENCES runs(seq),
	gap_id   TEXT    NOT NULL,
	type     TEXT    NOT NULL,
	severity TEXT    NOT NULL,
	message  TEXT    NOT NULL,
	PRIMARY KEY (run_seq, gap_id)
);
`

// SqlStore keeps runs in a SQLite database (control/history.db).
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*SqlStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown history schema version %d", v)
	}
	return nil
}

func (s *SqlStore) Record(ctx context.Context, run Run) (Run, Diff, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, Diff{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM runs").Scan(&prevSeq); err != nil {
		return Run{}, Diff{}, fmt.Errorf("find previous run: %w", err)
	}
	var prev []GapRef
	if prevSeq.Valid {
		prev, err = gapsOf(ctx, tx, prevSeq.Int64)
		if err != nil {
			return Run{}, Diff{}, err
		}
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs(iteration, at, blocking_gaps, total_gaps, can_terminate) VALUES(?,?,?,?,?)",
		run.Iteration, run.At.UTC().Format(time.RFC3339Nano), run.BlockingGaps, run.TotalGaps, boolInt(run.CanTerminate))
	if err != nil {
		return Run{}, Diff{}, fmt.Errorf("insert run: %w", err)
	}
	run.Seq, err = res.LastInsertId()
	if err != nil {
		return Run{}, Diff{}, fmt.Errorf("run id: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO run_gaps(run_seq, gap_id, type, severity, message) VALUES(?,?,?,?,?)")
	if err != nil {
		return Run{}, Diff{}, fmt.Errorf("prepare gap insert: %w", err)
	}
	defer stmt.Close()
	for _, g := range run.Gaps {
		if _, err := stmt.ExecContext(ctx, run.Seq, g.ID, g.Type, g.Severity, g.Message); err != nil {
			return Run{}, Diff{}, fmt.Errorf("insert gap %s: %w", g.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Run{}, Diff{}, fmt.Errorf("commit run: %w", err)
	}
	d := Compare(prev, run.Gaps)
	d.Previous = prevSeq.Int64
	return run, d, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func gapsOf(ctx context.Context, q querier, seq int64) ([]GapRef, error) {
	rows, err := q.QueryContext(ctx, "SELECT gap_id, type, severity, message FROM run_gaps WHERE run_seq = ? ORDER BY gap_id", seq)
	if err != nil {
		return nil, fmt.Errorf("query run gaps: %w", err)
	}
	defer rows.Close()
	var out []GapRef
	for rows.Next() {
		var g GapRef
		if err := rows.Scan(&g.ID, &g.Type, &g.Severity, &g.Message); err != nil {
			return nil, fmt.Errorf("scan run gap: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SqlStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	q := "SELECT seq, iteration, at, blocking_gaps, total_gaps, can_terminate FROM runs ORDER BY seq DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqlStore) Latest(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT seq, iteration, at, blocking_gaps, total_gaps, can_terminate FROM runs ORDER BY seq DESC LIMIT 1")
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Gaps, err = gapsOf(ctx, s.db, r.Seq)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SqlStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r    Run
		at   string
		term int
	)
	if err := sc.Scan(&r.Seq, &r.Iteration, &at, &r.BlockingGaps, &r.TotalGaps, &term); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Run{}, fmt.Errorf("parse run time %q: %w", at, err)
	}
	r.At = t
	r.CanTerminate = term != 0
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
