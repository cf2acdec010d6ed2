package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "arius/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsSQL string

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
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
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

func (s *sqliteStore) AppendJob(ctx context.Context, r JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, func, args, started, stopped, success, result, attempts)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Name, r.Func, nullStr(r.Args), r.Started.UnixMilli(), r.Stopped.UnixMilli(),
		boolInt(r.Success), nullStr(r.Result), r.Attempts,
	)
	return err
}

func jobWhere(f JobFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Func != "" {
		conds = append(conds, "func = ?")
		args = append(args, f.Func)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolInt(*f.Success))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "stopped < ?")
		args = append(args, f.Before.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqliteStore) Jobs(ctx context.Context, f JobFilter) ([]JobRecord, error) {
	where, args := jobWhere(f)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, func, COALESCE(args,''), started, stopped, success, COALESCE(result,''), attempts FROM jobs`+where+` ORDER BY started`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			r                JobRecord
			started, stopped int64
			success          int
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Func, &r.Args, &started, &stopped, &success, &r.Result, &r.Attempts); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(started)
		r.Stopped = time.UnixMilli(stopped)
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteJobs(ctx context.Context, f JobFilter) (int, error) {
	where, args := jobWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) AppendError(ctx context.Context, e ErrorEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_log(at, level, message, fields) VALUES(?,?,?,?)`,
		e.At.UnixMilli(), e.Level, e.Message, nullStr(e.Fields),
	)
	return err
}

func (s *sqliteStore) Errors(ctx context.Context) ([]ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT at, level, message, COALESCE(fields,'') FROM error_log ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ErrorEntry
	for rows.Next() {
		var (
			e  ErrorEntry
			at int64
		)
		if err := rows.Scan(&at, &e.Level, &e.Message, &e.Fields); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteErrors(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM error_log WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) UpsertSchedule(ctx context.Context, r ScheduleRow) error {
	if strings.TrimSpace(r.Func) == "" {
		return errors.New("schedule func is required")
	}
	var params any
	if len(r.Params) > 0 {
		b, err := json.Marshal(r.Params)
		if err != nil {
			return err
		}
		params = string(b)
	}
	// id and created are kept from the first insert.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, func, kind, minutes, cron, run_at, params, next_run, created, updated)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(func) DO UPDATE SET
		   kind=excluded.kind, minutes=excluded.minutes, cron=excluded.cron, run_at=excluded.run_at,
		   params=excluded.params, next_run=excluded.next_run, updated=excluded.updated`,
		r.ID, r.Func, r.Kind, r.Minutes, nullStr(r.Cron), unixMilliOrZero(r.RunAt), params,
		unixMilliOrZero(r.NextRun), r.Created.UnixMilli(), r.Updated.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Schedules(ctx context.Context) ([]ScheduleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, func, kind, minutes, COALESCE(cron,''), run_at, COALESCE(params,''), next_run, created, updated
		 FROM schedules ORDER BY func`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRow
	for rows.Next() {
		var (
			r                                ScheduleRow
			params                           string
			runAt, nextRun, created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.Func, &r.Kind, &r.Minutes, &r.Cron, &runAt, &params, &nextRun, &created, &updated); err != nil {
			return nil, err
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
				s.log.Warn("schedule params unreadable", logx.String("func", r.Func), logx.Err(err))
			}
		}
		r.RunAt = timeOrZero(runAt)
		r.NextRun = timeOrZero(nextRun)
		r.Created = time.UnixMilli(created)
		r.Updated = time.UnixMilli(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

func (s *sqliteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, strings.TrimSpace(key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
