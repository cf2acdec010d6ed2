package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"arius/internal/app"
	"arius/internal/task/scheduler"
)

func newSchedulesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List persisted schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Stop(context.Background(), app.StopAppStop)

			if err := a.Prepare(ctx); err != nil {
				return err
			}

			return printSchedules(cmd.OutOrStdout(), a.Schedules().Snapshot(), time.Now())
		},
	}
}

// printSchedules writes one row per entry. Entries whose next run already
// passed (missed while nothing was serving) are marked overdue.
func printSchedules(out io.Writer, snap scheduler.Snapshot, now time.Time) error {
	overdue := map[string]bool{}
	for _, e := range snap.Due(now) {
		overdue[e.Key] = true
	}

	fmt.Fprintf(out, "timezone: %s  trigger: %s\n", snap.Timezone, triggerState(snap))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tKIND\tWHEN\tNEXT\tPREV\tUPDATED")
	for _, e := range snap.Entries {
		next := stamp(e.NextRun)
		if overdue[e.Key] {
			next += " (overdue)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Key, e.Kind, describe(e), next, stamp(e.Prev), stamp(e.Updated))
	}
	return w.Flush()
}

func triggerState(snap scheduler.Snapshot) string {
	switch {
	case snap.Running:
		return "running"
	case snap.Enabled:
		return "enabled"
	}
	return "disabled"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func describe(e scheduler.Entry) string {
	switch e.Kind {
	case scheduler.KindMinutes:
		return fmt.Sprintf("every %dm", e.Minutes)
	case scheduler.KindCron:
		return e.Cron
	case scheduler.KindOnce:
		return e.RunAt.Format(time.RFC3339)
	}
	return "-"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), cmd.Root().Version)
		},
	}
}
