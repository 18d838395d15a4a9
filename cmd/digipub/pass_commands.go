package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"digipub/internal/api"
	"digipub/internal/workflow"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return newPassCommand(ctx, "scan", "Discover and validate packages under the ingest root", workflow.PassScan)
}

func newRollupCommand(ctx *commandContext) *cobra.Command {
	return newPassCommand(ctx, "rollup", "Mark jobs whose every package is accepted as processed by the partner", workflow.PassRollup)
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Run feedback checks",
	}
	checkCmd.AddCommand(newPassCommand(ctx, "partner", "Probe partner visibility and finalize accepted packages", workflow.PassPartnerCheck))
	checkCmd.AddCommand(newPassCommand(ctx, "aggregator", "Read aggregator reports for waiting jobs", workflow.PassAggregatorCheck))
	checkCmd.AddCommand(newPassCommand(ctx, "catalog", "Confirm persistent links in the local catalog mirror", workflow.PassCatalogCheck))
	return checkCmd
}

// newPassCommand runs one scheduled pass under the same lock the daemon uses.
func newPassCommand(ctx *commandContext, use, short, pass string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				summary, err := svc.RunPass(cmd.Context(), pass)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]string{"pass": pass, "summary": summary})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", pass, summary)
				return nil
			})
		},
	}
}
