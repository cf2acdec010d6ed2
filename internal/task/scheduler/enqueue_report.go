package scheduler

import (
	"time"

	logx "arius/pkg/logx"
)

const dispatchWarnThrottle = 5 * time.Second

// reportDispatchError logs a failed trigger at most once per key per throttle window.
// A full queue during a burst would otherwise flood the log.
func (s *Store) reportDispatchError(key string, err error) {
	if err == nil {
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[key]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[key] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule trigger failed", logx.String("schedule", key), logx.Err(err))
}
