package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wdonsong/huntly/internal/bridge"
	"github.com/wdonsong/huntly/internal/config"
	"github.com/wdonsong/huntly/internal/dispatch"
	"github.com/wdonsong/huntly/internal/library"
	"github.com/wdonsong/huntly/internal/logging"
	"github.com/wdonsong/huntly/internal/stream"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "huntlyd",
		Short:         "Huntly background daemon for capture, AI processing, and badge state",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logging.SetLevel(logging.LevelDebug)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.huntly/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon and accept tab connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.AddCommand(serve, newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "huntlyd %s\n", version)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Get().Verbose {
		logging.SetLevel(logging.LevelDebug)
	}
	logger := logging.NewComponentLogger("huntlyd")
	logger.Info("huntlyd %s starting", version)
	if cfg.ServerConfigured() {
		logger.Info("managed server: %s", cfg.Get().Server.BaseURL)
	} else {
		logger.Info("managed server not configured, direct provider mode only")
	}

	metrics, err := dispatch.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	lib := library.NewClient(cfg, logging.NewComponentLogger("library"))
	backends := []stream.Backend{
		stream.NewServerBackend(cfg, logging.NewComponentLogger("stream.server")),
		stream.NewProviderBackend(cfg, logging.NewComponentLogger("stream.provider")),
	}

	br := bridge.New(cfg.Get().Bridge, logging.NewComponentLogger("bridge"))
	d, err := dispatch.New(ctx, cfg, lib, br, backends, logging.NewComponentLogger("dispatch"), metrics)
	if err != nil {
		return err
	}
	br.Bind(d)

	if err := br.Run(ctx); err != nil {
		return err
	}
	logger.Info("huntlyd stopped")
	return nil
}
