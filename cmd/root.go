// Package cmd implements the relayd CLI using cobra: a single root command
// enforcing spec.md §6's fixed positional argv, with no daemon-control
// subcommands (relayd is one foreground process, not a supervised daemon).
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaynet.dev/relayd/internal/config"
	"relaynet.dev/relayd/internal/log"
	"relaynet.dev/relayd/internal/metrics"
	"relaynet.dev/relayd/internal/orchestrator"
)

const shutdownGrace = 5 * time.Second

// rootCmd is relayd's only command. Its Args validator enforces spec.md
// §6's "exit code -1 on fewer than 5 argv entries" rule (argv[0] is the
// program name, so four Args here).
var rootCmd = &cobra.Command{
	Use:          "relayd trusted_host trusted_port mempool_port sponsor [whitelist_prefix...]",
	Short:        "relayd relays blocks and transactions between peers and a trusted upstream node",
	Args:         requireArgs,
	RunE:         run,
	SilenceUsage: true,
}

// requireArgs wraps a too-short argv in exitError, so main maps it to -1.
func requireArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.MinimumNArgs(4)(cmd, args); err != nil {
		return exitError{err}
	}
	return nil
}

// Execute runs the root command. Called once from main(), which is
// responsible for translating a returned exitError into spec.md §6's
// exit code -1.
func Execute() error {
	return rootCmd.Execute()
}

// exitError marks an error that should produce spec.md §6's exit code -1
// (argv validation failure or listener bind/listen failure) rather than a
// generic nonzero exit.
type exitError struct{ err error }

func (e exitError) Error() string { return e.err.Error() }

// IsExitError reports whether err should map to exit code -1.
func IsExitError(err error) bool {
	_, ok := err.(exitError)
	return ok
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromArgs(args)
	if err != nil {
		return exitError{err}
	}

	if err := log.Init(log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		return fmt.Errorf("cmd: init logging: %w", err)
	}
	entry := log.GetLogger().Entry()

	o, err := orchestrator.New(orchestrator.Config{
		ListenAddr:    cfg.ListenAddr,
		TrustedHost:   cfg.TrustedHost,
		TrustedPort:   cfg.TrustedPort,
		MempoolPort:   cfg.MempoolPort,
		Sponsor:       cfg.Sponsor,
		Whitelist:     cfg.Whitelist,
		SweepInterval: cfg.SweepInterval,
	}, entry)
	if err != nil {
		return fmt.Errorf("cmd: build orchestrator: %w", err)
	}

	metricsSrv := metrics.NewServer(cfg.MetricsListen, cfg.MetricsPath)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metricsSrv.Start(ctx, entry); err != nil {
		return fmt.Errorf("cmd: start metrics server: %w", err)
	}

	runErr := o.Run(ctx)
	if runErr != nil {
		runErr = exitError{runErr}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Warn("cmd: orchestrator shutdown incomplete")
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		entry.WithError(err).Warn("cmd: metrics server shutdown incomplete")
	}

	return runErr
}
