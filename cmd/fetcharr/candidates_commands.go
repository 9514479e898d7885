package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fetcharr/internal/assets"
)

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	candidatesCmd := &cobra.Command{
		Use:   "candidates",
		Short: "Inspect and curate artwork candidates",
	}

	candidatesCmd.AddCommand(newCandidatesListCommand(ctx))
	candidatesCmd.AddCommand(newCandidatesSelectCommand(ctx))
	candidatesCmd.AddCommand(newCandidatesBlockCommand(ctx))

	return candidatesCmd
}

func openLibrary(ctx *commandContext) (*assets.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	return assets.Open(cfg)
}

func newCandidatesListCommand(ctx *commandContext) *cobra.Command {
	var (
		entityType string
		entityID   int64
		assetType  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artwork candidates for an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openLibrary(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var candidates []*assets.Candidate
			if assetType != "" {
				candidates, err = store.ListCandidates(cmd.Context(), entityType, entityID, assetType)
			} else {
				candidates, err = store.ListEntityCandidates(cmd.Context(), entityType, entityID)
			}
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No candidates found.")
				return nil
			}

			rows := make([][]string, 0, len(candidates))
			for _, c := range candidates {
				flag := ""
				if c.IsSelected {
					flag = "selected"
				}
				if c.IsBlocked {
					flag = "blocked"
				}
				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10),
					c.AssetType,
					c.Provider,
					fmt.Sprintf("%dx%d", c.Width, c.Height),
					c.Language,
					fmt.Sprintf("%.2f", c.Score),
					flag,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "ASSET", "PROVIDER", "SIZE", "LANG", "SCORE", "STATE"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "movie", "Entity type")
	cmd.Flags().Int64Var(&entityID, "entity-id", 0, "Entity identifier")
	cmd.Flags().StringVar(&assetType, "asset-type", "", "Filter by asset type")
	_ = cmd.MarkFlagRequired("entity-id")
	return cmd
}

func newCandidatesSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Select a candidate as the active asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid candidate id %q", args[0])
			}

			store, err := openLibrary(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			selected, err := store.Select(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected candidate %d (%s %dx%d from %s)\n",
				selected.ID, selected.AssetType, selected.Width, selected.Height, selected.Provider)
			return nil
		},
	}
}

func newCandidatesBlockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "block <id>",
		Short: "Block a candidate from selection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid candidate id %q", args[0])
			}

			store, err := openLibrary(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			promoted, err := store.Block(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Blocked candidate %d\n", id)
			if promoted != nil {
				fmt.Fprintf(out, "Promoted candidate %d (%s from %s) in its place\n",
					promoted.ID, promoted.AssetType, promoted.Provider)
			}
			return nil
		},
	}
}
