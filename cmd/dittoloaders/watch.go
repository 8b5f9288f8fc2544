package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/nodes"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command
func NewWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [folder]",
		Short: "Print the children of a folder whenever they change",
		Long: `Print the children of a folder whenever they change.

Changes made on disk by other programs are picked up by the filesystem
watcher, so filesystem.root must be configured. Stop with Ctrl-C.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enableWatch := func(cfg *config.Config) { cfg.Filesystem.Watch.Enabled = true }

			return a.run(cmd, func(ctx context.Context, rt *config.Runtime) error {
				df, err := resolveFolder(ctx, rt, argOr(args, 0, "/"))
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				view := nodes.New(rt.System, df, nil, rt.NodeOptions())
				remove := view.AddListener(func(s nodes.Snapshot) {
					names := make([]string, 0, len(s.Nodes))
					for _, n := range s.Nodes {
						names = append(names, displayName(n))
					}
					fmt.Fprintf(out, "[%d] %s\n", s.Serial, strings.Join(names, " "))
				})
				defer remove()

				err = view.Attach().Wait(ctx)
				defer view.Detach()
				if err != nil && ctx.Err() == nil {
					return err
				}

				<-ctx.Done()
				return nil
			}, enableWatch)
		},
	}

	return cmd
}
