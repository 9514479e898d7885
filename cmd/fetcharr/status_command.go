package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and database health",
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
			db, err := store.CheckHealth(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queue database: %s\n", db.DBPath)
			fmt.Fprintf(out, "  readable:        %v\n", db.DatabaseReadable)
			fmt.Fprintf(out, "  integrity check: %v\n", db.IntegrityCheck)
			fmt.Fprintf(out, "Jobs:\n")
			fmt.Fprintf(out, "  pending:    %d\n", health.Pending)
			fmt.Fprintf(out, "  processing: %d\n", health.Processing)
			fmt.Fprintf(out, "  retrying:   %d\n", health.Retrying)
			fmt.Fprintf(out, "  completed:  %d\n", health.Completed)
			fmt.Fprintf(out, "  failed:     %d\n", health.Failed)
			return nil
		},
	}
}
