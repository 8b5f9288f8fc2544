package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/config"
	"github.com/marmos91/dittoloaders/pkg/loaders"
	"github.com/spf13/cobra"
)

// app carries the global flags and the runtime of one command invocation.
type app struct {
	cfgFile     string
	logLevel    string
	metricsAddr string
}

type runFunc func(ctx context.Context, rt *config.Runtime) error

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "dittoloaders",
		Short: "Browse a directory tree as typed data objects",
		Long: `dittoloaders recognizes the files of a directory tree as data objects.

Loaders claim files by extension, name pattern or content type. Objects can
span several files sharing a base name, folders keep a persistent order and
sort mode, and shadow files link to objects elsewhere in the tree.

Run 'dittoloaders init' to write a sample configuration.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dittoloaders/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level override (DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		NewInitCmd(),
		NewLsCmd(a),
		NewTreeCmd(a),
		NewSortCmd(a),
		NewOrderCmd(a),
		NewAssignCmd(a),
		NewLoadersCmd(a),
		NewWatchCmd(a),
		NewGCCmd(a),
	)

	return rootCmd
}

// run loads the configuration, applies the global flags and mutate,
// assembles a runtime, and hands it to fn. The runtime is closed when fn
// returns.
func (a *app) run(cmd *cobra.Command, fn runFunc, mutate ...func(*config.Config)) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(a.logLevel)
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = a.metricsAddr
	}
	for _, m := range mutate {
		m(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}

	rt, err := config.InitializeRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { err = errors.Join(err, rt.Close()) }()

	if srv := rt.Metrics.Server; srv != nil {
		srvCtx, cancel := context.WithCancel(ctx)
		served := make(chan error, 1)
		go func() { served <- srv.Start(srvCtx) }()
		defer func() {
			cancel()
			err = errors.Join(err, <-served)
		}()
	}

	return fn(ctx, rt)
}

// resolveFolder returns the folder object at p.
func resolveFolder(ctx context.Context, rt *config.Runtime, p string) (*loaders.DataFolder, error) {
	obj, err := rt.System.FindPath(ctx, p)
	if err != nil {
		return nil, err
	}
	df, ok := obj.(*loaders.DataFolder)
	if !ok {
		return nil, fmt.Errorf("%s is not a folder", p)
	}
	return df, nil
}

func argOr(args []string, i int, def string) string {
	if len(args) > i {
		return args[i]
	}
	return def
}
