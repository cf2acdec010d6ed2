package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "arius/pkg/logx"
)

// cronLogger routes robfig/cron's own logging into logx.
type cronLogger struct{ log logx.Logger }

// Info carries cron's per-wake chatter ("wake", "run", "schedule").
func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// newCron builds the trigger. Recover keeps a panicking job off the host
// process even if fire's own recovery is bypassed.
func newCron(p cron.Parser, loc *time.Location, log logx.Logger) *cron.Cron {
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithParser(p),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
}
