package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/spf13/cobra"
)

// NewAssignCmd creates the assign command
func NewAssignCmd(a *app) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "assign <file> [loader]",
		Short: "Show or change the loader assigned to a file",
		Long: `Show or change the loader assigned to a file.

An assigned loader is consulted before every other loader when the file is
recognized. The assignment is stored with the file's attributes.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				file := rt.FileSystem.FindResource(args[0])
				if file == nil {
					return fmt.Errorf("%s does not exist", args[0])
				}
				pool := rt.System.Loaders()

				switch {
				case unset:
					return pool.SetAssignedLoader(file, nil)
				case len(args) == 2:
					l := pool.Loader(args[1])
					if l == nil {
						return fmt.Errorf("unknown loader %q", args[1])
					}
					return pool.SetAssignedLoader(file, l)
				}

				if l := pool.AssignedLoader(file); l != nil {
					fmt.Fprintln(cmd.OutOrStdout(), l.Name())
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&unset, "clear", false, "remove the assignment")

	return cmd
}
