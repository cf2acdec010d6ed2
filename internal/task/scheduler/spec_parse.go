package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Specs may carry seconds; "@daily" style descriptors are accepted too.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CheckCron reports whether spec is a cron expression the trigger accepts.
func CheckCron(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

var reClock = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// KindFromSpec turns a one-line schedule, as written in config, into store
// parameters:
//
//	"5m", "2h30m"          every interval (whole minutes)
//	"01:30"                every 1h30m
//	"daily 03:00"          once a day at 03:00 in the trigger timezone
//	"@hourly", "0 */6 * * *"  cron
//
// "cron:" and "every:" prefixes force the reading.
func KindFromSpec(raw string) (Kind, Params, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	switch {
	case s == "":
		return "", Params{}, fmt.Errorf("schedule required")
	case strings.HasPrefix(low, "cron:"):
		return cronSpec(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "daily "):
		p, err := dailyAt(strings.TrimSpace(s[len("daily "):]))
		if err != nil {
			return "", Params{}, err
		}
		return KindCron, p, nil
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return cronSpec(s)
	}
	if kind, p, err := intervalSpec(s); err == nil {
		return kind, p, nil
	}
	return "", Params{}, fmt.Errorf("invalid schedule %q (use an interval like '55m' or '02:30', 'daily HH:MM', or a cron spec)", raw)
}

func cronSpec(expr string) (Kind, Params, error) {
	if expr == "" {
		return "", Params{}, fmt.Errorf("cron spec required")
	}
	if err := CheckCron(expr); err != nil {
		return "", Params{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return KindCron, Params{Cron: expr}, nil
}

func intervalSpec(v string) (Kind, Params, error) {
	d, err := parseInterval(v)
	if err != nil {
		return "", Params{}, err
	}
	if d%time.Minute != 0 {
		return "", Params{}, fmt.Errorf("interval %s is not a whole number of minutes", d)
	}
	return KindMinutes, Params{Minutes: int(d / time.Minute)}, nil
}

// parseInterval accepts a Go duration or H:MM, where H may exceed 23.
func parseInterval(v string) (time.Duration, error) {
	var d time.Duration
	if m := reClock.FindStringSubmatch(v); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// dailyAt returns cron params for HH:MM every day.
func dailyAt(hhmm string) (Params, error) {
	m := reClock.FindStringSubmatch(hhmm)
	if m == nil {
		return Params{}, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return Params{}, fmt.Errorf("invalid time %q, expected HH:MM", hhmm)
	}
	return Params{Cron: fmt.Sprintf("%d %d * * *", mm, h)}, nil
}
