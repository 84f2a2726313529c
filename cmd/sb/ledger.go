package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		kind       string
		verdict    string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the execution ledger",
		Long:  "Lists dispatch decisions, execution outcomes, and critical events, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			filters := ledger.QueryFilters{
				AgentID: agent,
				Kind:    kind,
				Verdict: verdict,
				Limit:   limit,
			}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since duration %q", since)
				}
				filters.Since = time.Now().Add(-d)
			}

			entries, err := ledger.Query(gormDB, filters)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No ledger entries match")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tAGENT\tMSG\tKIND\tVERDICT\tEXECUTION\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.AgentID, e.MessageID, e.Kind, e.Verdict, e.ExecutionID, e.Reason)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent ID")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (decision, outcome, critical)")
	cmd.Flags().StringVar(&verdict, "verdict", "", "filter by verdict (accept, reject, defer, succeeded, failed, timed_out)")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than this duration (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max entries to show")
	return cmd
}
