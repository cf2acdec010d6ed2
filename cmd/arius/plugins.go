package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"arius/internal/app"
	"arius/internal/plugin"
)

func newPluginsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List discovered plugins and their granted capabilities",
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

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SLUG\tNAME\tSOURCE\tCAPABILITIES\tSTATUS")
			for _, d := range a.Plugins().Plugins() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Slug, d.Name, d.Source, joinTags(d.Granted), pluginStatus(d))
			}
			for _, d := range a.Plugins().Failed() {
				fmt.Fprintf(w, "%s\t%s\t%s\t-\tfailed\n", d.Slug, d.Name, d.Source)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, ve := range a.Plugins().Errors() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", ve.Error())
			}
			return nil
		},
	}
}

func pluginStatus(d *plugin.Descriptor) string {
	switch {
	case d.Disabled:
		return "disabled"
	case len(d.Errors) > 0:
		return fmt.Sprintf("%d error(s)", len(d.Errors))
	}
	return "ok"
}

func joinTags(tags []plugin.Tag) string {
	if len(tags) == 0 {
		return "-"
	}
	s := make([]string, len(tags))
	for i, t := range tags {
		s[i] = string(t)
	}
	return strings.Join(s, ",")
}
