package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/spf13/cobra"
)

// NewLoadersCmd creates the loaders command
func NewLoadersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loaders",
		Short: "List the loaders in recognition order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tDISPLAY NAME\tMODULE\tPRODUCES")
				for _, l := range rt.System.Loaders().AllLoaders() {
					module := l.Module()
					if module == "" {
						module = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Name(), l.DisplayName(), module, l.RepresentationType())
				}
				return w.Flush()
			})
		},
	}

	return cmd
}
