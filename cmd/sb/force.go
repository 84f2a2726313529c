package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/dispatch"
	"github.com/zulandar/switchboard/internal/mailbox"
	"github.com/zulandar/switchboard/internal/notify"
)

func newForceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "force <message-id>",
		Short: "Force-dispatch a message now",
		Long:  "Dispatches a worker for the message immediately, bypassing the cooldown, rate window, and dedup checks. The kill switch still applies. Blocks until the worker finishes and the reply is delivered.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForce(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runForce(cmd *cobra.Command, configPath, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid message ID %q", rawID)
	}

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	msg, err := mailbox.Get(gormDB, uint(id))
	if err != nil {
		return err
	}

	ctrl, err := newController(cfg.Safety.SentinelPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, dec, err := daemon.ForceSync(ctx, *msg)
	if err != nil {
		return err
	}
	if dec.Verdict != dispatch.VerdictAccept {
		return fmt.Errorf("not dispatched: %s (%s)", dec.Verdict, dec.Reason)
	}

	fmt.Fprintf(out, "Execution %s: %s\n", res.ExecutionID, res.Status)
	if res.Detail != "" {
		fmt.Fprintf(out, "  %s\n", res.Detail)
	}
	return nil
}
