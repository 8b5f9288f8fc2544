package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/spf13/cobra"
)

// NewSortCmd creates the sort command
func NewSortCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sort <folder> [mode]",
		Short: "Show or change the sort mode of a folder",
		Long: `Show or change the sort mode of a folder.

Modes: none, names, class, folder-names, last-modified, size, extensions,
natural. Objects listed in the folder's explicit order always come first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				df, err := resolveFolder(ctx, rt, args[0])
				if err != nil {
					return err
				}

				if len(args) == 1 {
					fmt.Fprintln(cmd.OutOrStdout(), df.SortMode())
					return nil
				}

				mode, err := loaders.ParseSortMode(args[1])
				if err != nil {
					return err
				}
				return df.SetSortMode(mode)
			})
		},
	}

	return cmd
}
