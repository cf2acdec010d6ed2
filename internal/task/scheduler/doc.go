// Package scheduler keeps recurring job definitions keyed by task reference
// and triggers them.
//
// Upsert is idempotent per reference string: a second call updates the
// existing entry in place. The trigger runs "minutes" and "cron" entries
// through robfig/cron and "once" entries through timers. Every firing is
// dispatched in Background mode; execution belongs to the task engine.
package scheduler
