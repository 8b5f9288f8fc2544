package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/marmos91/dittoloaders/pkg/nodes"
	"github.com/spf13/cobra"
)

// NewLsCmd creates the ls command
func NewLsCmd(a *app) *cobra.Command {
	var showFiles bool

	cmd := &cobra.Command{
		Use:   "ls [folder]",
		Short: "List the data objects of a folder in folder order",
		Long: `List the data objects of a folder in folder order.

Each row shows one object: composite objects built from several files
appear once. Use --files to print the files of each object.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				df, err := resolveFolder(ctx, rt, argOr(args, 0, "/"))
				if err != nil {
					return err
				}

				view := nodes.New(rt.System, df, nil, rt.NodeOptions())
				list, err := view.Nodes(ctx, true)
				if err != nil {
					return err
				}
				return printNodes(cmd.OutOrStdout(), list, showFiles)
			})
		},
	}

	cmd.Flags().BoolVar(&showFiles, "files", false, "list the files of each object")

	return cmd
}

func printNodes(out io.Writer, list []*nodes.Node, showFiles bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLOADER\tFILES\tSIZE\tMODIFIED")
	for _, n := range list {
		obj := n.Object()
		if obj == nil {
			continue
		}
		size, modified := objectStats(obj)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			displayName(n), obj.Loader().Name(), len(obj.Files()), size, modified)
		if showFiles {
			for _, f := range obj.Files() {
				fmt.Fprintf(w, "  %s\t\t\t\t\n", f.NameExt())
			}
		}
	}
	return w.Flush()
}

func displayName(n *nodes.Node) string {
	if n.IsLeaf() {
		return n.Name()
	}
	return n.Name() + "/"
}

// objectStats sums the sizes of an object's files and picks their latest
// modification time.
func objectStats(obj loaders.DataObject) (size, modified string) {
	if _, ok := obj.(*loaders.DataFolder); ok {
		return "-", "-"
	}
	var total int64
	var latest time.Time
	for _, f := range obj.Files() {
		total += f.Size()
		if t := f.ModTime(); t.After(latest) {
			latest = t
		}
	}
	if latest.IsZero() {
		return humanize.Bytes(uint64(total)), "-"
	}
	return humanize.Bytes(uint64(total)), humanize.Time(latest)
}
