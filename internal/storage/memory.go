package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// memState is the plain data behind the memory and file backends.
type memState struct {
	Jobs      []JobRecord            `json:"jobs"`
	Errors    []ErrorEntry           `json:"errors"`
	Schedules map[string]ScheduleRow `json:"schedules"`
	Settings  map[string]string      `json:"settings"`
}

func newMemState() memState {
	return memState{Schedules: map[string]ScheduleRow{}, Settings: map[string]string{}}
}

// memStore keeps everything in process memory.
//
// onChange, when set, runs with mu held after every successful mutation;
// the file backend uses it to write a snapshot.
type memStore struct {
	mu       sync.Mutex
	st       memState
	closed   bool
	onChange func(st *memState) error
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memStore{st: newMemState()}
}

var errClosed = errors.New("storage closed")

func (s *memStore) changedLocked() error {
	if s.onChange == nil {
		return nil
	}
	return s.onChange(&s.st)
}

func (s *memStore) AppendJob(_ context.Context, r JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.st.Jobs = append(s.st.Jobs, r)
	return s.changedLocked()
}

func (s *memStore) Jobs(_ context.Context, f JobFilter) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]JobRecord, 0, len(s.st.Jobs))
	for _, r := range s.st.Jobs {
		if f.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) DeleteJobs(_ context.Context, f JobFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	n := 0
	kept := s.st.Jobs[:0]
	for _, r := range s.st.Jobs {
		if f.match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.st.Jobs = kept
	if n == 0 {
		return 0, nil
	}
	return n, s.changedLocked()
}

func (s *memStore) AppendError(_ context.Context, e ErrorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.st.Errors = append(s.st.Errors, e)
	return s.changedLocked()
}

func (s *memStore) Errors(_ context.Context) ([]ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return append([]ErrorEntry(nil), s.st.Errors...), nil
}

func (s *memStore) DeleteErrors(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	n := 0
	kept := s.st.Errors[:0]
	for _, e := range s.st.Errors {
		if e.At.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.st.Errors = kept
	if n == 0 {
		return 0, nil
	}
	return n, s.changedLocked()
}

func (s *memStore) UpsertSchedule(_ context.Context, r ScheduleRow) error {
	key := strings.TrimSpace(r.Func)
	if key == "" {
		return errors.New("schedule func is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if prev, ok := s.st.Schedules[key]; ok {
		// Identity is owned by the first insert.
		r.ID = prev.ID
		r.Created = prev.Created
	}
	s.st.Schedules[key] = copyRow(r)
	return s.changedLocked()
}

func (s *memStore) Schedules(_ context.Context) ([]ScheduleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]ScheduleRow, 0, len(s.st.Schedules))
	for _, r := range s.st.Schedules {
		out = append(out, copyRow(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Func < out[j].Func })
	return out, nil
}

func (s *memStore) PutSetting(_ context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.st.Settings[key] = value
	return s.changedLocked()
}

func (s *memStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errClosed
	}
	v, ok := s.st.Settings[strings.TrimSpace(key)]
	return v, ok, nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func copyRow(r ScheduleRow) ScheduleRow {
	if r.Params != nil {
		p := make(map[string]string, len(r.Params))
		for k, v := range r.Params {
			p[k] = v
		}
		r.Params = p
	}
	return r
}
