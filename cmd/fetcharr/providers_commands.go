package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/logging"
	"fetcharr/internal/providers"
	"fetcharr/internal/providers/local"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and test metadata providers",
	}

	providersCmd.AddCommand(newProvidersListCommand(ctx))
	providersCmd.AddCommand(newProvidersTestCommand(ctx))

	return providersCmd
}

// buildRegistry mirrors the daemon's provider registration so CLI commands
// see the same set.
func buildRegistry(cfg *config.Config, library *assets.Store) (*providers.Registry, error) {
	registry := providers.NewRegistry(library, providers.Limits{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstCapacity:     cfg.RateLimit.BurstCapacity,
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		ResetTimeout:      time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
	}, logging.NewNop())

	if cfg.Local.Enabled {
		if err := registry.Register(local.Name, local.NewConstructor(cfg.Local.Dir)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func newProvidersListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered providers and their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			library, err := assets.Open(cfg)
			if err != nil {
				return err
			}
			defer library.Close()

			registry, err := buildRegistry(cfg, library)
			if err != nil {
				return err
			}

			names := registry.Names()
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers registered.")
				return nil
			}

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				client, err := registry.Client(cmd.Context(), name)
				if err != nil {
					rows = append(rows, []string{name, "-", "-", "-", "unavailable: " + err.Error()})
					continue
				}
				caps := client.Capabilities()
				stored, _ := library.GetProviderConfig(cmd.Context(), name)
				lastTest := ""
				if stored != nil {
					lastTest = stored.LastTestStatus
				}
				rows = append(rows, []string{
					name,
					strconv.Itoa(len(caps.EntityTypes)),
					strconv.Itoa(len(caps.AssetTypes)),
					fmt.Sprintf("%.1f", caps.PriorityWeight),
					lastTest,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"NAME", "ENTITIES", "ASSETS", "WEIGHT", "LAST TEST"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newProvidersTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Test connectivity for one provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			library, err := assets.Open(cfg)
			if err != nil {
				return err
			}
			defer library.Close()

			registry, err := buildRegistry(cfg, library)
			if err != nil {
				return err
			}

			name := args[0]
			client, err := registry.Client(cmd.Context(), name)
			if err != nil {
				return err
			}

			status := "ok"
			testErr := client.TestConnection(cmd.Context())
			if testErr != nil {
				status = "failed: " + testErr.Error()
			}
			if err := library.RecordProviderTest(cmd.Context(), name, status); err != nil {
				return err
			}
			if testErr != nil {
				return fmt.Errorf("provider %s test failed: %w", name, testErr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s is reachable.\n", name)
			return nil
		},
	}
}
