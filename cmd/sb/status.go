package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/policy"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show mailbox and automation status",
		Long:  "Summarizes per-agent mailbox counts, policy state, running executions, and the kill switch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	engaged := cfg.Safety.SentinelPath != "" && sentinelExists(cfg.Safety.SentinelPath)
	if engaged {
		fmt.Fprintln(out, "KILL SWITCH ENGAGED — dispatch halted")
	}

	policies, err := policy.All(gormDB)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tMODE\tENABLED\tMUTED\tNEW\tOPENED\tRUNNING")
	for _, p := range policies {
		var newCount, openedCount, running int64
		gormDB.Model(&models.Message{}).Where("to_agent = ? AND status = ?", p.AgentID, models.MessageNew).Count(&newCount)
		gormDB.Model(&models.Message{}).Where("to_agent = ? AND status = ? AND archived = ?", p.AgentID, models.MessageOpened, false).Count(&openedCount)
		gormDB.Model(&models.ExecutionRecord{}).Where("agent_id = ? AND status IN ?", p.AgentID,
			[]string{models.ExecPending, models.ExecRunning}).Count(&running)

		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%d\t%d\t%d\n",
			p.AgentID, p.Mode, p.Enabled, p.Muted, newCount, openedCount, running)
	}
	w.Flush()

	var recent int64
	gormDB.Model(&models.LedgerEntry{}).Where("kind = ?", models.LedgerCritical).Count(&recent)
	if recent > 0 {
		fmt.Fprintf(out, "\n%d critical ledger entries — see 'sb ledger --kind critical'\n", recent)
	}
	return nil
}
