package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/mailbox"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Mailbox commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageListCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath string
		from       string
		to         string
		subject    string
		body       string
		threadID   uint
		priority   string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver a message to an agent's mailbox",
		Long:  "Appends a message in the new state. The daemon picks it up on the next poll cycle.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			opts := mailbox.DeliverOpts{Priority: priority}
			if cmd.Flags().Changed("thread-id") {
				opts.ThreadID = &threadID
			}

			msg, err := mailbox.Deliver(gormDB, from, to, subject, body, opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Delivered message %d to %s\n", msg.ID, to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&from, "from", "", "sender agent ID (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent ID (required)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject (required)")
	cmd.Flags().StringVar(&body, "body", "", "message body (required)")
	cmd.Flags().UintVar(&threadID, "thread-id", 0, "thread ID to attach to")
	cmd.Flags().StringVar(&priority, "priority", "normal", "message priority (normal, urgent)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("body")
	return cmd
}

func newMessageListCmd() *cobra.Command {
	var (
		configPath string
		agent      string
		archived   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an agent's mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			msgs, err := mailbox.List(gormDB, agent, archived)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages for %s\n", agent)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFROM\tSUBJECT\tSTATUS\tPRIORITY\tCREATED")
			for _, m := range msgs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.FromAgent, m.Subject, m.Status, m.Priority,
					m.CreatedAt.Format("2006-01-02 15:04"))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&agent, "agent", "", "agent ID (required)")
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived messages")
	cmd.MarkFlagRequired("agent")
	return cmd
}
