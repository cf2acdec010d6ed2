package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "arius/pkg/logx"
)

// Store is the persistence API used by the task layer and maintenance tasks.
type Store interface {
	AppendJob(ctx context.Context, r JobRecord) error
	Jobs(ctx context.Context, f JobFilter) ([]JobRecord, error)
	DeleteJobs(ctx context.Context, f JobFilter) (int, error)

	AppendError(ctx context.Context, e ErrorEntry) error
	Errors(ctx context.Context) ([]ErrorEntry, error)
	DeleteErrors(ctx context.Context, before time.Time) (int, error)

	UpsertSchedule(ctx context.Context, r ScheduleRow) error
	Schedules(ctx context.Context) ([]ScheduleRow, error)

	PutSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
