package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/gc"
	"github.com/spf13/cobra"
)

// NewGCCmd creates the gc command
func NewGCCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove attributes of files that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				c, err := gc.NewCollector(rt.FileSystem, gc.Config{DryRun: dryRun})
				if err != nil {
					return err
				}
				stats, err := c.RunNow(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphaned attributes without deleting them")

	return cmd
}
