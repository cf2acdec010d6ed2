package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"arius/internal/storage"
	logx "arius/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, t)
			atomic.AddInt32(&s.inFlight, -1)
			s.pending.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := time.Duration(0)
	if !qt.enqueuedAt.IsZero() {
		queueDelay = max(start.Sub(qt.enqueuedAt), 0)
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if qt.track {
		defer qt.state.release()
	}

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStaleDropped(start, qt.task, queueDelay)
		s.record(HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Func: qt.task.Func, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"}, cfg.HistorySize)
		return
	}

	s.log.Debug("task.started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	s.publish("task.started", TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Func: qt.task.Func, Started: start, QueueDelay: queueDelay})

	attempts := 0
	op := func() error {
		attempts++
		err := s.runOnce(ctx, qt)
		if err == nil {
			return nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return backoff.Permanent(nr.err)
		}
		return err
	}
	err := backoff.Retry(op, newBackOff(ctx, qt.opt))

	dur := time.Since(start)
	stopped := time.Now()
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Func: qt.task.Func, Started: start, Duration: dur, QueueDelay: queueDelay, Attempts: attempts}
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Func: qt.task.Func, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("task.failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish("task.failed", ev)
	} else {
		if dur >= 750*time.Millisecond {
			s.log.Info("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		} else {
			s.log.Debug("task.completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		}
		s.publish("task.finished", ev)
	}
	s.record(item, cfg.HistorySize)
	s.writeLedger(qt.task, start, stopped, attempts, err)
}

// runOnce executes a single attempt. Panics are converted to errors so one bad
// task can't kill a worker.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task.panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}

func newBackOff(ctx context.Context, opt TaskOptions) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = opt.RetryBase
	eb.MaxInterval = opt.RetryMaxDelay
	eb.RandomizationFactor = opt.RetryJitter
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(opt.RetryMax, 0))), ctx)
}

func (s *Service) writeLedger(t Task, started, stopped time.Time, attempts int, runErr error) {
	if s.ledger == nil {
		return
	}
	r := storage.JobRecord{
		ID:       t.ID,
		Name:     t.Name,
		Func:     t.Func,
		Args:     t.Args,
		Started:  started,
		Stopped:  stopped,
		Success:  runErr == nil,
		Attempts: attempts,
	}
	if runErr != nil {
		r.Result = runErr.Error()
	}
	// The worker ctx may already be canceled during shutdown; the record still matters.
	lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ledger.AppendJob(lctx, r); err != nil {
		s.log.Warn("job ledger write failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Err(err))
	}
}
