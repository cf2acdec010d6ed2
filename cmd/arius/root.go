package main

import (
	"github.com/spf13/cobra"

	"arius/internal/app"
	"arius/internal/tasks"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "arius",
		Short: "Task dispatch, scheduling and plugin host",
		Long: `arius runs named tasks inline or on a background worker pool, fires them
from persistent schedules, and hosts plugins that react to events or
contribute their own scheduled tasks.`,
		Version:       tasks.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (yaml or json); empty uses defaults")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newPluginsCommand(opts),
		newSchedulesCommand(opts),
		newVersionCommand(),
	)
	return root
}

func (o *rootOptions) open() (*app.App, error) {
	return app.New(o.configPath)
}
