package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arius/internal/task"
	logx "arius/pkg/logx"
)

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey serializes work on one key without blocking other keys.
func (s *Store) lockKey(key string) func() {
	s.klMu.Lock()
	l := s.keyLocks[key]
	if l == nil {
		l = &keyLock{}
		s.keyLocks[key] = l
	}
	l.refs++
	s.klMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.klMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.keyLocks, key)
		}
		s.klMu.Unlock()
	}
}

// Upsert creates or updates the schedule for ref.
//
// The key is ref.String(). An existing entry keeps its ID and Created time and
// takes the new kind and params. Unknown kinds are stored but never fire.
func (s *Store) Upsert(ctx context.Context, ref task.Ref, kind Kind, p Params) (Entry, error) {
	key := strings.TrimSpace(ref.String())
	if key == "" {
		return Entry{}, errors.New("schedule reference required")
	}
	kind = Kind(strings.ToLower(strings.TrimSpace(string(kind))))
	if err := Validate(kind, p, s.parseCron); err != nil {
		return Entry{}, fmt.Errorf("schedule %s: %w", key, err)
	}

	unlock := s.lockKey(key)
	defer unlock()

	now := time.Now()
	s.emu.RLock()
	prev, existed := s.entries[key]
	var e Entry
	if existed {
		e = *prev
	}
	s.emu.RUnlock()

	if !existed {
		e = Entry{ID: uuid.NewString(), Key: key, Created: now}
	}
	e.Ref = ref
	e.Kind = kind
	e.Minutes = p.Minutes
	e.Cron = strings.TrimSpace(p.Cron)
	e.RunAt = p.RunAt
	e.Params = copyMap(p.Extra)
	e.Updated = now
	e.NextRun = s.computeNext(e, now)

	if s.persists(ref) {
		if err := s.persist.UpsertSchedule(ctx, e.row()); err != nil {
			return Entry{}, fmt.Errorf("persist schedule %s: %w", key, err)
		}
	}

	s.emu.Lock()
	stored := e
	s.entries[key] = &stored
	s.emu.Unlock()

	s.mu.Lock()
	if s.c != nil {
		s.armLocked(e)
	}
	s.mu.Unlock()

	if existed {
		s.log.Debug("schedule updated", logx.String("key", key), logx.String("kind", string(kind)))
	} else {
		s.log.Info("schedule created", logx.String("key", key), logx.String("kind", string(kind)))
	}
	s.publish("schedule.upserted", e)
	return e, nil
}

// persists reports whether entries for ref are written to the persister.
// Direct handles cannot be restored by name after a restart, so they stay in
// memory only.
func (s *Store) persists(ref task.Ref) bool {
	return s.persist != nil && !ref.IsDirect()
}

// Get returns the entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.emu.RLock()
	defer s.emu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Params = copyMap(e.Params)
	return out, true
}

// List returns every entry sorted by key.
func (s *Store) List() []Entry {
	out := s.snapshotEntries()
	for i := range out {
		out[i].Params = copyMap(out[i].Params)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Load restores persisted entries as path references. Keys already present
// in the store are left alone.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	rows, err := s.persist.Schedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("load schedules: %w", err)
	}
	n := 0
	var loaded []Entry
	s.emu.Lock()
	for _, r := range rows {
		if strings.TrimSpace(r.Func) == "" {
			continue
		}
		if _, ok := s.entries[r.Func]; ok {
			continue
		}
		e := entryFromRow(r)
		s.entries[e.Key] = &e
		loaded = append(loaded, e)
		n++
	}
	s.emu.Unlock()

	s.mu.Lock()
	if s.c != nil {
		for _, e := range loaded {
			s.armLocked(e)
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.log.Info("schedules loaded", logx.Int("count", n))
	}
	return n, nil
}
