package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/safety"
)

func newKillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Kill switch commands",
		Long:  "Engages, disengages, or inspects the global kill switch. While engaged, no new workers are dispatched; in-flight workers finish normally.",
	}

	cmd.AddCommand(newKillOnCmd())
	cmd.AddCommand(newKillOffCmd())
	cmd.AddCommand(newKillStatusCmd())
	return cmd
}

// sentinelFromConfig loads config and returns the sentinel-backed controller.
func sentinelFromConfig(configPath string) (*config.Config, safety.Controller, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Safety.SentinelPath == "" {
		return nil, nil, fmt.Errorf("no safety.sentinel_path configured; the kill switch needs a sentinel file to outlive this command")
	}
	ctrl, err := safety.NewSentinelSwitch(cfg.Safety.SentinelPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, ctrl, nil
}

func newKillOnCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "on",
		Short: "Engage the kill switch (halt all dispatch)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctrl, err := sentinelFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := ctrl.Engage(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill switch engaged (%s)\n", cfg.Safety.SentinelPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newKillOffCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "off",
		Short: "Disengage the kill switch (resume dispatch)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctrl, err := sentinelFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := ctrl.Disengage(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Kill switch disengaged (%s)\n", cfg.Safety.SentinelPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newKillStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show kill switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			if cfg.Safety.SentinelPath == "" {
				fmt.Fprintln(out, "No sentinel configured; kill switch state is in-process only")
				return nil
			}
			if sentinelExists(cfg.Safety.SentinelPath) {
				fmt.Fprintf(out, "ENGAGED (%s)\n", cfg.Safety.SentinelPath)
			} else {
				fmt.Fprintf(out, "disengaged (%s)\n", cfg.Safety.SentinelPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

// sentinelExists reports whether the sentinel file is present.
func sentinelExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
