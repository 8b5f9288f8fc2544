package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/spf13/cobra"
)

// NewOrderCmd creates the order command
func NewOrderCmd(a *app) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "order <folder> [names...]",
		Short: "Show or change the explicit order of a folder",
		Long: `Show or change the explicit order of a folder.

Names are file names with extension. Listed objects come first, in the
given order; the rest follow the folder's sort mode.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				df, err := resolveFolder(ctx, rt, args[0])
				if err != nil {
					return err
				}

				switch {
				case unset:
					return df.SetOrderNames(nil)
				case len(args) > 1:
					return df.SetOrderNames(args[1:])
				}

				for _, name := range df.Order() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&unset, "clear", false, "remove the explicit order")

	return cmd
}
