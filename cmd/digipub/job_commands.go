package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"digipub/internal/api"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Manage publication jobs",
	}
	jobCmd.AddCommand(newJobCreateCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobSetStatusCommand(ctx))
	jobCmd.AddCommand(newJobPublishCommand(ctx))
	jobCmd.AddCommand(newJobRemoveCommand(ctx))
	return jobCmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.CreateJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, view)
			})
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				views, err := svc.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.Name, v.Status, fmt.Sprint(len(v.Packages)), v.UpdatedAt})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Status", "Packages", "Updated"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a job and its packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.DescribeJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, view)
			})
		},
	}
}

func newJobSetStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <name> <status>",
		Short: "Move a job to a new status and run the transition's side effects",
		Long: "Moving a job to ready_for_aggregator submits its records to the aggregator; " +
			"ready_for_partner and retry start a publication run. Other statuses are stored as given.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.SetJobStatus(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, view)
			})
		},
	}
}

func newJobPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <name>",
		Short: "Run a publication for the job in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.PublishJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderFields([][2]string{
					{"Job", view.Job},
					{"Status", view.Status},
					{"Attempts", fmt.Sprint(view.Attempts)},
					{"Uploaded", strings.Join(view.Uploaded, ", ")},
					{"Failed", strings.Join(view.Failed, ", ")},
				}))
				return nil
			})
		},
	}
}

func newJobRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a job and unassign its packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				if err := svc.RemoveJob(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
				return nil
			})
		},
	}
}

func printJob(cmd *cobra.Command, ctx *commandContext, view api.JobView) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, view)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderFields([][2]string{
		{"Name", view.Name},
		{"Status", view.Status},
		{"Packages", fmt.Sprint(len(view.Packages))},
		{"Updated", view.UpdatedAt},
	}))
	for _, id := range view.Packages {
		fmt.Fprintf(out, "  %s\n", id)
	}
	return nil
}
