package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/policy"
	"gorm.io/gorm"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Automation policy commands",
	}

	cmd.AddCommand(newPolicyListCmd())
	cmd.AddCommand(newPolicySetCmd())
	cmd.AddCommand(newPolicyEnableCmd())
	cmd.AddCommand(newPolicyDisableCmd())
	cmd.AddCommand(newPolicyMuteCmd())
	cmd.AddCommand(newPolicyUnmuteCmd())
	return cmd
}

func newPolicyListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all agent automation policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			policies, err := policy.All(gormDB)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tMODE\tENABLED\tMUTED\tCOOLDOWN\tWINDOW\tMAX/WINDOW\tTIMEOUT")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%ds\t%ds\t%d\t%ds\n",
					p.AgentID, p.Mode, p.Enabled, p.Muted,
					p.CooldownSeconds, p.WindowSeconds, p.MaxPerWindow, p.TimeoutSeconds)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newPolicySetCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		cooldown   int
		window     int
		maxPer     int
		timeout    int
		retries    int
	)

	cmd := &cobra.Command{
		Use:   "set <agent-id>",
		Short: "Update an agent's automation policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := args[0]
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("mode") {
				if err := policy.SetMode(gormDB, agentID, mode); err != nil {
					return err
				}
			}

			opts := policy.UpdateOpts{}
			if cmd.Flags().Changed("cooldown") {
				opts.CooldownSeconds = &cooldown
			}
			if cmd.Flags().Changed("window") {
				opts.WindowSeconds = &window
			}
			if cmd.Flags().Changed("max-per-window") {
				opts.MaxPerWindow = &maxPer
			}
			if cmd.Flags().Changed("timeout") {
				opts.TimeoutSeconds = &timeout
			}
			if cmd.Flags().Changed("retries") {
				opts.MaxRetries = &retries
			}
			if err := policy.Update(gormDB, agentID, opts); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated policy for %s\n", agentID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&mode, "mode", "", "automation mode (auto, notify, manual)")
	cmd.Flags().IntVar(&cooldown, "cooldown", 0, "cooldown seconds between triggers")
	cmd.Flags().IntVar(&window, "window", 0, "rate window seconds")
	cmd.Flags().IntVar(&maxPer, "max-per-window", 0, "max triggers per window")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "worker timeout seconds")
	cmd.Flags().IntVar(&retries, "retries", 0, "max reply delivery retries")
	return cmd
}

func newPolicyEnableCmd() *cobra.Command {
	return newPolicyToggleCmd("enable", "Enable automation for an agent", func(gormDB *gorm.DB, agentID string) error {
		return policy.SetEnabled(gormDB, agentID, true)
	})
}

func newPolicyDisableCmd() *cobra.Command {
	return newPolicyToggleCmd("disable", "Disable automation for an agent", func(gormDB *gorm.DB, agentID string) error {
		return policy.SetEnabled(gormDB, agentID, false)
	})
}

func newPolicyMuteCmd() *cobra.Command {
	return newPolicyToggleCmd("mute", "Mute an agent (messages surface but never dispatch)", func(gormDB *gorm.DB, agentID string) error {
		return policy.SetMuted(gormDB, agentID, true)
	})
}

func newPolicyUnmuteCmd() *cobra.Command {
	return newPolicyToggleCmd("unmute", "Unmute an agent", func(gormDB *gorm.DB, agentID string) error {
		return policy.SetMuted(gormDB, agentID, false)
	})
}

func newPolicyToggleCmd(use, short string, apply func(*gorm.DB, string) error) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <agent-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := apply(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Policy for %s: %sd\n", args[0], use)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}
