package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)

	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncDrainCmd)

	rootCmd.AddCommand(deadLettersCmd)
	deadLettersCmd.AddCommand(deadLettersListCmd, deadLettersRetryCmd, deadLettersRequeueCmd, deadLettersPurgeCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the offline queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(_ context.Context, s *session) error {
			out := cmd.OutOrStdout()
			actions := s.orch.PendingActions()
			if len(actions) == 0 {
				fmt.Fprintln(out, "Offline queue is empty.")
				return nil
			}
			for _, a := range actions {
				fmt.Fprintf(out, "%s  %-6s %-10s %-28s user=%s at=%s\n",
					a.ID, a.Type, a.Collection, a.DocumentID, a.UserID, a.Timestamp.Format(time.RFC3339))
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay local work against the backend",
}

var syncDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay every queued action now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session) error {
			summary, err := s.orch.ProcessOfflineQueue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d, dead-lettered %d.\n", summary.Replayed, summary.DeadLettered)
			return nil
		})
	},
}

var deadLettersCmd = &cobra.Command{
	Use:     "deadletters",
	Aliases: []string{"dlq"},
	Short:   "Manage actions whose replay failed",
}

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, quarantined ones included",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			out := cmd.OutOrStdout()
			letters := s.orch.DeadLetters(ctx)
			if len(letters) == 0 {
				fmt.Fprintln(out, "No dead letters.")
				return nil
			}
			for _, d := range letters {
				state := "retry at " + d.NextRetryAt.Format(time.RFC3339)
				if d.Quarantined() {
					state = "QUARANTINED (" + d.QuarantineReason + ")"
				}
				fmt.Fprintf(out, "%s  %-6s %-10s retries=%d  %s\n    %s\n",
					d.ID(), d.Action.Type, d.Action.Collection, d.RetryCount, state, d.Reason)
			}
			return nil
		})
	},
}

var deadLettersRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Run one retry pass over due dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, true, func(ctx context.Context, s *session) error {
			report, err := s.orch.RetryDeadLetters(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d, rescheduled %d, quarantined %d.\n",
				len(report.Replayed), len(report.Rescheduled), len(report.Quarantined))
			return err
		})
	},
}

var deadLettersRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Clear retry state so the entry is retried on the next pass",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			if err := s.orch.RequeueDeadLetter(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s.\n", args[0])
			return nil
		})
	},
}

var deadLettersPurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Drop a dead letter permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, false, func(ctx context.Context, s *session) error {
			if err := s.orch.PurgeDeadLetter(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %s.\n", args[0])
			return nil
		})
	},
}
