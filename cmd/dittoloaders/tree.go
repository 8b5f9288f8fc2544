package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/nodes"
	"github.com/spf13/cobra"
)

// NewTreeCmd creates the tree command
func NewTreeCmd(a *app) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "tree [folder]",
		Short: "Print the object tree below a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				root := argOr(args, 0, "/")
				df, err := resolveFolder(ctx, rt, root)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, root)
				return printTree(ctx, out, nodes.New(rt.System, df, nil, rt.NodeOptions()), 1, depth)
			})
		},
	}

	cmd.Flags().IntVarP(&depth, "depth", "L", 0, "descend at most this many levels (0 = unlimited)")

	return cmd
}

func printTree(ctx context.Context, out io.Writer, view *nodes.FolderChildren, level, maxDepth int) error {
	list, err := view.Nodes(ctx, true)
	if err != nil {
		return err
	}

	indent := strings.Repeat("  ", level)
	for _, n := range list {
		obj := n.Object()
		if obj == nil {
			continue
		}
		fmt.Fprintf(out, "%s%s  [%s]\n", indent, displayName(n), obj.Loader().Name())

		if n.IsLeaf() || (maxDepth > 0 && level >= maxDepth) {
			continue
		}
		if children := n.Children(); children != nil {
			if err := printTree(ctx, out, children, level+1, maxDepth); err != nil {
				return err
			}
		}
	}
	return nil
}
