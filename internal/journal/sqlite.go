//go:build sqlite

package journal

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

	logx "wsched/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	log.Debug("journal opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(run_id, seq, at, type, worker, task, queue_len, duration_ms, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Seq, r.At.UTC().Format(time.RFC3339Nano), r.Type, r.Worker,
		nullZero(int64(r.Task)), nullZero(int64(r.QueueLen)), nullZero(r.DurationMS), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, runID string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, at, type, worker, task, queue_len, duration_ms, err FROM (
		   SELECT * FROM events WHERE (? = '' OR run_id = ?) ORDER BY at DESC, seq DESC LIMIT ?
		 ) ORDER BY at ASC, seq ASC`,
		runID, runID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                      Record
			at                     string
			task, qlen, durationMS sql.NullInt64
			errStr                 sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Seq, &at, &r.Type, &r.Worker, &task, &qlen, &durationMS, &errStr); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Task = uint64(task.Int64)
		r.QueueLen = int(qlen.Int64)
		r.DurationMS = durationMS.Int64
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
