package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"arius/internal/app"
	"arius/internal/task"
)

type runOptions struct {
	background bool
	wait       time.Duration
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <module.function> [arg|key=value ...]",
		Short: "Dispatch one task by reference",
		Example: `  arius run arius.tasks.heartbeat
  arius run --background arius.tasks.delete_old_error_logs
  arius run plugin.netprobe.probe`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, opts, ro, args[0], parseArgs(args[1:]))
		},
	}
	cmd.Flags().BoolVarP(&ro.background, "background", "b", false, "offload to the worker pool when background dispatch is allowed")
	cmd.Flags().DurationVar(&ro.wait, "wait", time.Minute, "how long to wait for background work to finish")
	return cmd
}

func runTask(cmd *cobra.Command, opts *rootOptions, ro *runOptions, ref string, args task.Args) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.open()
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := a.Stop(context.Background(), app.StopAppStop); err == nil {
			err = stopErr
		}
	}()

	if err := a.Prepare(ctx); err != nil {
		return err
	}

	// Dispatch only warns on an unresolvable ref; surface it as the exit error.
	if _, err := a.Tasks().Resolve(ctx, task.Path(ref)); err != nil {
		return err
	}

	mode := task.Inline
	if ro.background {
		mode = task.Background
		a.Engine().Start(ctx)
		defer a.Engine().Stop(context.Background())
	}

	if err := a.Dispatcher().Dispatch(ctx, task.Path(ref), mode, args); err != nil {
		return err
	}
	if mode == task.Background {
		waitCtx, cancel := context.WithTimeout(ctx, ro.wait)
		defer cancel()
		if err := a.Engine().WaitIdle(waitCtx); err != nil {
			return fmt.Errorf("wait for %s: %w", ref, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s done (%s)\n", ref, mode)
	return nil
}

// parseArgs splits CLI words into positional and key=value arguments.
// Integers, floats and booleans are converted; everything else stays a string.
func parseArgs(words []string) task.Args {
	var out task.Args
	for _, w := range words {
		if k, v, ok := strings.Cut(w, "="); ok && k != "" {
			if out.Keyword == nil {
				out.Keyword = map[string]any{}
			}
			out.Keyword[k] = scalar(v)
			continue
		}
		out.Positional = append(out.Positional, scalar(w))
	}
	return out
}

func scalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
