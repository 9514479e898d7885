package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fetcharr/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueHistoryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func openQueue(ctx *commandContext) (*queue.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []queue.Status
			if statusFlag != "" {
				status, ok := queue.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				statuses = append(statuses, status)
			}

			jobs, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					string(job.Type),
					strconv.Itoa(job.Priority),
					string(job.Status),
					strconv.Itoa(job.RetryCount),
					job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TYPE", "PRIORITY", "STATUS", "RETRIES", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by job status")
	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Active jobs: %d\n", health.Total)
			fmt.Fprintf(out, "  pending:    %d\n", health.Pending)
			fmt.Fprintf(out, "  processing: %d\n", health.Processing)
			fmt.Fprintf(out, "  retrying:   %d\n", health.Retrying)
			fmt.Fprintf(out, "History:\n")
			fmt.Fprintf(out, "  completed:  %d\n", health.Completed)
			fmt.Fprintf(out, "  failed:     %d\n", health.Failed)
			return nil
		},
	}
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType    string
		entityType string
		entityID   int64
		priority   int
		title      string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an enrichment job",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			payload, err := json.Marshal(queue.Payload{
				EntityType: entityType,
				EntityID:   entityID,
				Title:      title,
				Source:     "cli",
			})
			if err != nil {
				return err
			}
			job, err := store.Enqueue(cmd.Context(), queue.JobType(jobType), payload, priority)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s (%s, priority %d)\n", job.ID, job.Type, job.Priority)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobType, "type", string(queue.TypeEnrichMovie), "Job type")
	cmd.Flags().StringVar(&entityType, "entity-type", "movie", "Entity type")
	cmd.Flags().Int64Var(&entityID, "entity-id", 0, "Entity identifier")
	cmd.Flags().IntVar(&priority, "priority", 20, "Job priority (lower runs first)")
	cmd.Flags().StringVar(&title, "title", "", "Entity title")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <history-id>",
		Short: "Requeue a job from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.RequeueFromHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued as job %s\n", job.ID)
			return nil
		},
	}
}

func newQueueHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "History is empty.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := entry.Result
				if entry.Status == queue.StatusFailed {
					detail = entry.ErrorMessage
				}
				rows = append(rows, []string{
					shortID(entry.ID),
					string(entry.Type),
					string(entry.Status),
					(time.Duration(entry.DurationMS) * time.Millisecond).String(),
					truncate(detail, 60),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "TYPE", "STATUS", "DURATION", "DETAIL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all active jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", removed)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
