package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/api"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/dispatch"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/safety"
)

func newStartCmd() *cobra.Command {
	var (
		configPath string
		noAPI      bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Switchboard daemon",
		Long:  "Runs the dispatch loop: polls agent mailboxes, applies the decision checks, spawns workers for accepted messages, and replies when they finish. Also serves the operator API unless --no-api is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, noAPI)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "disable the operator HTTP API")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string, noAPI bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedPolicies(gormDB, cfg.Agents); err != nil {
		return err
	}

	ctrl, err := newController(cfg.Safety.SentinelPath)
	if err != nil {
		return err
	}
	if closer, ok := ctrl.(*safety.SentinelSwitch); ok {
		defer closer.Close()
		fmt.Fprintf(out, "Kill switch sentinel: %s\n", cfg.Safety.SentinelPath)
	}

	daemon, err := dispatch.NewDaemon(dispatch.DaemonOpts{
		DB:       gormDB,
		Config:   cfg,
		Safety:   ctrl,
		Notifier: notify.FromConfig(cfg.Notify),
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	errCh := make(chan error, 2)
	if !noAPI {
		go func() {
			errCh <- api.Start(ctx, api.StartOpts{
				DB:     gormDB,
				Safety: ctrl,
				Port:   cfg.API.Port,
				Out:    out,
			})
		}()
	}
	go func() {
		errCh <- daemon.Run(ctx)
	}()

	if err := <-errCh; err != nil {
		cancel()
		return err
	}
	cancel()
	return nil
}

// newController builds the kill switch: a filesystem sentinel when a path is
// configured, otherwise an in-process switch.
func newController(sentinelPath string) (safety.Controller, error) {
	if sentinelPath == "" {
		return safety.NewSwitch(), nil
	}
	return safety.NewSentinelSwitch(sentinelPath)
}
