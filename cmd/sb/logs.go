package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
)

func newLogsCmd() *cobra.Command {
	var (
		configPath string
		direction  string
	)

	cmd := &cobra.Command{
		Use:   "logs <execution-id>",
		Short: "Show captured worker output for an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			q := gormDB.Where("execution_id = ?", args[0]).Order("id ASC")
			if direction != "" {
				q = q.Where("direction = ?", direction)
			}
			var logs []models.WorkerLog
			if err := q.Find(&logs).Error; err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintf(out, "No output captured for %s\n", args[0])
				return nil
			}
			for _, l := range logs {
				prefix := ""
				if l.Direction == "err" {
					prefix = "[stderr] "
				}
				for _, line := range strings.Split(strings.TrimRight(l.Content, "\n"), "\n") {
					fmt.Fprintf(out, "%s%s\n", prefix, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&direction, "stream", "", "filter by stream (out, err)")
	return cmd
}
