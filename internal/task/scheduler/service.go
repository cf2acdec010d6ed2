package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"arius/internal/eventbus"
	"arius/internal/task"
	logx "arius/pkg/logx"
)

// Store is the schedule store and its trigger.
//
// Lock order: key lock, mu, emu, tmu. Firing jobs never take mu.
type Store struct {
	log     logx.Logger
	bus     eventbus.Bus
	disp    Dispatcher
	persist Persister
	parser  cron.Parser

	emu     sync.RWMutex
	entries map[string]*Entry

	klMu     sync.Mutex
	keyLocks map[string]*keyLock

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	cronIDs map[string]cron.EntryID

	// Read by firing jobs, which must not take mu: restart waits for them.
	loc    atomic.Pointer[time.Location]
	runCtx atomic.Pointer[ctxBox]

	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceVer map[string]uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ctxBox struct{ ctx context.Context }

type Option func(*Store)

func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = l } }
func WithBus(b eventbus.Bus) Option   { return func(s *Store) { s.bus = b } }

// WithPersister stores every upsert and lets Load restore entries.
func WithPersister(p Persister) Option { return func(s *Store) { s.persist = p } }

func New(cfg Config, disp Dispatcher, opts ...Option) *Store {
	s := &Store{
		cfg:         cfg,
		disp:        disp,
		parser:      cronParser,
		entries:     map[string]*Entry{},
		keyLocks:    map[string]*keyLock{},
		cronIDs:     map[string]cron.EntryID{},
		timers:      map[string]*time.Timer{},
		onceVer:     map[string]uint64{},
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Store) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Running reports whether the trigger is active.
func (s *Store) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *Store) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg
	running := s.c != nil
	if running && cfg.Enabled && oldTZ != newTZ {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(context.Background())
	case !running && cfg.Enabled && !wasEnabled && s.runCtx.Load() != nil:
		s.Start(s.runCtx.Load().ctx)
	}
}

// Start arms every known entry. ctx is the parent of every dispatch.
func (s *Store) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx.Store(&ctxBox{ctx: ctx})
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	loc := s.loadLocationLocked()
	s.loc.Store(loc)
	s.c = newCron(s.parser, loc, s.log)
	entries := s.snapshotEntries()
	for _, e := range entries {
		s.armLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(entries)))
}

// Stop disarms the trigger. Entries stay in the store.
func (s *Store) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.cronIDs = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Store) snapshotEntries() []Entry {
	s.emu.RLock()
	defer s.emu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// armLocked registers e with the trigger, replacing any previous arming of
// the same key. Call with s.mu held.
func (s *Store) armLocked(e Entry) {
	s.disarmLocked(e.Key)
	if s.c == nil {
		return
	}
	key := e.Key

	switch e.Kind {
	case KindMinutes:
		every := time.Duration(e.Minutes) * time.Minute
		sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(s.location()), key)
		s.cronIDs[key] = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(key) }))
		s.log.Debug("schedule armed", logx.String("key", key), logx.Int("minutes", e.Minutes), logx.Duration("startup_spread", jitter))

	case KindCron:
		id, err := s.c.AddFunc(e.Cron, func() { s.fire(key) })
		if err != nil {
			s.log.Error("schedule register failed", logx.String("key", key), logx.String("spec", e.Cron), logx.Err(err))
			return
		}
		s.cronIDs[key] = id
		args := []logx.Field{logx.String("key", key), logx.String("spec", e.Cron)}
		if next := s.previewNextRunsLocked(e.Cron, 4); next != "" {
			args = append(args, logx.String("next", next))
		}
		s.log.Debug("schedule armed", args...)

	case KindOnce:
		if e.NextRun.IsZero() {
			// Already fired.
			return
		}
		s.armOnce(key, e.NextRun)

	default:
		s.log.Debug("schedule kind not triggerable", logx.String("key", key), logx.String("kind", string(e.Kind)))
	}
}

// disarmLocked removes key from cron and cancels its timer. Call with s.mu held.
func (s *Store) disarmLocked(key string) {
	if id, ok := s.cronIDs[key]; ok {
		if s.c != nil {
			s.c.Remove(id)
		}
		delete(s.cronIDs, key)
	}
	s.tmu.Lock()
	if t, ok := s.timers[key]; ok {
		_ = t.Stop()
		delete(s.timers, key)
	}
	// Bump the version so a timer that already fired is ignored.
	s.onceVer[key]++
	s.tmu.Unlock()
}

func (s *Store) armOnce(key string, at time.Time) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	ver := s.onceVer[key] + 1
	s.onceVer[key] = ver
	delay := max(time.Until(at), 0)
	s.timers[key] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.onceVer[key] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		s.tmu.Unlock()
		s.fire(key)
	})
}

// fire dispatches the entry behind key in Background mode.
func (s *Store) fire(key string) {
	s.emu.RLock()
	e, ok := s.entries[key]
	var ref task.Ref
	var kind Kind
	if ok {
		ref = e.Ref
		kind = e.Kind
	}
	s.emu.RUnlock()
	if !ok {
		return
	}

	ctx := context.Background()
	if b := s.runCtx.Load(); b != nil {
		ctx = b.ctx
	}

	now := time.Now()
	s.publish("schedule.fired", Fired{Key: key, Kind: kind, At: now})
	if err := s.dispatch(ctx, key, ref); err != nil {
		s.reportDispatchError(key, err)
	}

	s.emu.Lock()
	cur, ok := s.entries[key]
	var row *Entry
	if ok {
		cur.Prev = now
		switch cur.Kind {
		case KindOnce:
			cur.NextRun = time.Time{}
			cp := *cur
			row = &cp
		case KindMinutes:
			cur.NextRun = now.Add(time.Duration(cur.Minutes) * time.Minute)
		case KindCron:
			cur.NextRun = s.computeNext(*cur, now)
		}
	}
	s.emu.Unlock()

	if row != nil && s.persists(row.Ref) {
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persist.UpsertSchedule(pctx, row.row()); err != nil {
			s.log.Warn("schedule persist failed", logx.String("key", key), logx.Err(err))
		}
	}
}

// dispatch runs the entry's task. Background dispatch falls back to inline
// execution on this goroutine, so a panicking task is turned into an error.
func (s *Store) dispatch(ctx context.Context, key string, ref task.Ref) (err error) {
	if s.disp == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule %s panicked: %v\n%s", key, r, debug.Stack())
		}
	}()
	return s.disp.Dispatch(ctx, ref, task.Background, task.Args{})
}

// Fired is published on the bus each time an entry triggers.
type Fired struct {
	Key  string    `json:"key"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
}

func (s *Store) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (s *Store) computeNext(e Entry, now time.Time) time.Time {
	switch e.Kind {
	case KindMinutes:
		return now.Add(time.Duration(e.Minutes) * time.Minute)
	case KindCron:
		sched, err := s.parser.Parse(e.Cron)
		if err != nil {
			return time.Time{}
		}
		return sched.Next(now.In(s.location()))
	case KindOnce:
		return e.RunAt
	}
	return time.Time{}
}

func (s *Store) location() *time.Location {
	if loc := s.loc.Load(); loc != nil {
		return loc
	}
	return time.Local
}

func (s *Store) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc.Store(loc)
	s.c = newCron(s.parser, loc, s.log)
	s.cronIDs = map[string]cron.EntryID{}
	entries := s.snapshotEntries()
	for _, e := range entries {
		s.armLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(entries)))
}

func (s *Store) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked returns a short list of upcoming run times for a cron
// spec. Call with s.mu held.
func (s *Store) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.location())
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func (s *Store) parseCron(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}
