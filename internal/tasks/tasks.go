package tasks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/tidwall/gjson"

	"arius/internal/storage"
	"arius/internal/task"
	"arius/internal/task/engine"
	logx "arius/pkg/logx"
)

// Module is the task module path the maintenance tasks live under.
const Module = "arius.tasks"

const (
	SettingHeartbeat     = "_ARIUS_HEARTBEAT"
	SettingLatestVersion = "_ARIUS_LATEST_VERSION"

	DefaultRetention = 30 * 24 * time.Hour
	heartbeatKeep    = 5 * time.Minute
)

// Ref returns the reference for a task in this module.
func Ref(name string) task.Ref { return task.Path(Module + "." + name) }

// Notifier sends a service manager notification. daemon.SdNotify fits.
type Notifier func(unsetEnv bool, state string) (bool, error)

type Config struct {
	Retention time.Duration
	UpdateURL string
}

// Tasks holds the collaborators of the maintenance tasks.
type Tasks struct {
	cfg    Config
	store  storage.Store
	log    logx.Logger
	client *http.Client
	notify Notifier
	now    func() time.Time
}

type Option func(*Tasks)

func WithLogger(l logx.Logger) Option       { return func(t *Tasks) { t.log = l } }
func WithHTTPClient(c *http.Client) Option  { return func(t *Tasks) { t.client = c } }
func WithNotifier(n Notifier) Option        { return func(t *Tasks) { t.notify = n } }
func WithClock(now func() time.Time) Option { return func(t *Tasks) { t.now = now } }

func New(cfg Config, store storage.Store, opts ...Option) *Tasks {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	t := &Tasks{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: 15 * time.Second},
		notify: daemon.SdNotify,
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	return t
}

// Register installs the module in tbl.
func (t *Tasks) Register(tbl *task.Table) {
	tbl.Register(Module, "heartbeat", t.Heartbeat)
	tbl.Register(Module, "delete_successful_tasks", t.DeleteSuccessfulTasks)
	tbl.Register(Module, "delete_failed_tasks", t.DeleteFailedTasks)
	tbl.Register(Module, "delete_old_error_logs", t.DeleteOldErrorLogs)
	tbl.Register(Module, "check_for_updates", t.CheckForUpdates)
}

func (t *Tasks) requireStore() error {
	if t.store == nil {
		return engine.NoRetry(storage.ErrDisabled)
	}
	return nil
}

// Heartbeat records that the task pipeline is alive and pings the systemd
// watchdog. Its own successful ledger rows are pruned after five minutes.
func (t *Tasks) Heartbeat(ctx context.Context, _ task.Args) error {
	if err := t.requireStore(); err != nil {
		return err
	}
	now := t.now()
	if err := t.store.PutSetting(ctx, SettingHeartbeat, now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, err := t.store.DeleteJobs(ctx, storage.JobFilter{
		Func:    Ref("heartbeat").String(),
		Success: storage.Bool(true),
		Before:  now.Add(-heartbeatKeep),
	})
	if err != nil {
		return fmt.Errorf("heartbeat: prune: %w", err)
	}
	if t.notify != nil {
		if _, err := t.notify(false, daemon.SdNotifyWatchdog); err != nil {
			t.log.Debug("watchdog notify failed", logx.Err(err))
		}
	}
	t.log.Debug("heartbeat", logx.Int("pruned", n))
	return nil
}

func (t *Tasks) threshold() time.Time { return t.now().Add(-t.cfg.Retention) }

// DeleteSuccessfulTasks removes successful ledger rows older than the
// retention period.
func (t *Tasks) DeleteSuccessfulTasks(ctx context.Context, _ task.Args) error {
	return t.deleteJobs(ctx, "successful", true)
}

// DeleteFailedTasks removes failed ledger rows older than the retention
// period.
func (t *Tasks) DeleteFailedTasks(ctx context.Context, _ task.Args) error {
	return t.deleteJobs(ctx, "failed", false)
}

func (t *Tasks) deleteJobs(ctx context.Context, what string, success bool) error {
	if err := t.requireStore(); err != nil {
		return err
	}
	n, err := t.store.DeleteJobs(ctx, storage.JobFilter{Success: storage.Bool(success), Before: t.threshold()})
	if err != nil {
		return fmt.Errorf("delete %s tasks: %w", what, err)
	}
	if n > 0 {
		t.log.Info("old task results deleted", logx.String("kind", what), logx.Int("count", n))
	}
	return nil
}

func (t *Tasks) DeleteOldErrorLogs(ctx context.Context, _ task.Args) error {
	if err := t.requireStore(); err != nil {
		return err
	}
	n, err := t.store.DeleteErrors(ctx, t.threshold())
	if err != nil {
		return fmt.Errorf("delete old error logs: %w", err)
	}
	if n > 0 {
		t.log.Info("old error logs deleted", logx.Int("count", n))
	}
	return nil
}

// releaseTag reads tag_name from a single release object, or from the first
// element of a release list.
func releaseTag(body []byte) string {
	if tag := gjson.GetBytes(body, "tag_name"); tag.Exists() {
		return tag.String()
	}
	return gjson.GetBytes(body, "0.tag_name").String()
}

// CheckForUpdates fetches the latest release tag and stores it.
func (t *Tasks) CheckForUpdates(ctx context.Context, _ task.Args) error {
	url := strings.TrimSpace(t.cfg.UpdateURL)
	if url == "" {
		t.log.Debug("update check skipped: no update_url")
		return nil
	}
	if err := t.requireStore(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("check for updates: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("check for updates: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return engine.NoRetry(err)
		}
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("check for updates: read: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return engine.NoRetry(fmt.Errorf("check for updates: invalid json"))
	}
	latest, err := VersionTuple(releaseTag(body))
	if err != nil {
		return engine.NoRetry(fmt.Errorf("check for updates: %w", err))
	}
	tag := fmt.Sprintf("%d.%d.%d", latest[0], latest[1], latest[2])
	if err := t.store.PutSetting(ctx, SettingLatestVersion, tag); err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}

	if cur, err := VersionTuple(Version); err == nil && Newer(latest, cur) {
		t.log.Info("newer release available", logx.String("current", Version), logx.String("latest", tag))
	}
	return nil
}
