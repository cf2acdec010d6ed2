package scheduler

import "testing"

func TestKindFromSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		kind    Kind
		minutes int
		cron    string
	}{
		{raw: "30m", kind: KindMinutes, minutes: 30},
		{raw: " 2h30m ", kind: KindMinutes, minutes: 150},
		{raw: "01:30", kind: KindMinutes, minutes: 90},
		{raw: "every:48:00", kind: KindMinutes, minutes: 48 * 60},
		{raw: "@hourly", kind: KindCron, cron: "@hourly"},
		{raw: "*/5 * * * *", kind: KindCron, cron: "*/5 * * * *"},
		{raw: "cron:0 0 * * *", kind: KindCron, cron: "0 0 * * *"},
		{raw: "daily 03:05", kind: KindCron, cron: "5 3 * * *"},
		{raw: "Daily 23:59", kind: KindCron, cron: "59 23 * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			kind, p, err := KindFromSpec(tt.raw)
			if err != nil {
				t.Fatalf("KindFromSpec(%q) error: %v", tt.raw, err)
			}
			if kind != tt.kind || p.Minutes != tt.minutes || p.Cron != tt.cron {
				t.Fatalf("KindFromSpec(%q) = %s, %+v", tt.raw, kind, p)
			}
			if err := Validate(kind, p, CheckCron); err != nil {
				t.Fatalf("Validate(%q) = %v", tt.raw, err)
			}
		})
	}
}

func TestKindFromSpecInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"not-a-schedule",
		"90s",
		"0m",
		"01:75",
		"daily 24:00",
		"daily noon",
		"cron:",
		"@sometimes",
		"61 * * * *",
	} {
		if kind, p, err := KindFromSpec(raw); err == nil {
			t.Fatalf("KindFromSpec(%q) = %s, %+v, want error", raw, kind, p)
		}
	}
}
