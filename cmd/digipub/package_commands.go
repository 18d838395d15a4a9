package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"digipub/internal/api"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <package-id>",
		Short: "Re-validate one package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.ValidatePackage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printPackage(cmd, ctx, view)
			})
		},
	}
}

func newPackageCommand(ctx *commandContext) *cobra.Command {
	pkgCmd := &cobra.Command{
		Use:     "package",
		Aliases: []string{"pkg"},
		Short:   "Inspect and manage packages",
	}
	pkgCmd.AddCommand(newPackageListCommand(ctx))
	pkgCmd.AddCommand(newPackageShowCommand(ctx))
	pkgCmd.AddCommand(newPackageSetStatusCommand(ctx))
	pkgCmd.AddCommand(newPackageSetNoteCommand(ctx))
	pkgCmd.AddCommand(newPackageAssignCommand(ctx))
	pkgCmd.AddCommand(newPackageRemoveCommand(ctx))
	return pkgCmd
}

func newPackageListCommand(ctx *commandContext) *cobra.Command {
	var status, job string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				views, err := svc.ListPackages(cmd.Context(), status, job)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No packages")
					return nil
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.ID, v.Status, v.Job, v.PID, yesNo(v.AcceptedByPartner), v.Note})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Job", "PID", "Accepted", "Note"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list packages with this status")
	cmd.Flags().StringVar(&job, "job", "", "Only list packages in this job")
	return cmd
}

func newPackageShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <package-id>",
		Short: "Show a package with its validation errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.DescribePackage(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printPackage(cmd, ctx, view)
			})
		},
	}
}

func newPackageSetStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <package-id> <status>",
		Short: "Change a package's status (reprocess re-validates)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.SetPackageStatus(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printPackage(cmd, ctx, view)
			})
		},
	}
}

func newPackageSetNoteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-note <package-id> <note>",
		Short: "Change a package's enumeration note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.SetPackageNote(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printPackage(cmd, ctx, view)
			})
		},
	}
}

func newPackageAssignCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <package-id> [job]",
		Short: "Add a package to a job (omit the job to remove it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := ""
			if len(args) == 2 {
				job = args[1]
			}
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.AssignPackage(cmd.Context(), args[0], job)
				if err != nil {
					return err
				}
				return printPackage(cmd, ctx, view)
			})
		},
	}
}

func newPackageRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <package-id>",
		Short: "Forget a package (its directory is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				if err := svc.RemovePackage(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed package %s\n", args[0])
				return nil
			})
		},
	}
}

func printPackage(cmd *cobra.Command, ctx *commandContext, view api.PackageView) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, view)
	}
	out := cmd.OutOrStdout()
	fields := [][2]string{
		{"ID", view.ID},
		{"Path", view.Path},
		{"Status", view.Status},
		{"Job", view.Job},
		{"Note", view.Note},
		{"OCLC", view.OCLC},
		{"Catalog ID", view.CatalogID},
		{"PID", view.PID},
		{"Accepted", yesNo(view.AcceptedByPartner)},
		{"Partner URL", view.PartnerURL},
		{"In catalog", yesNo(view.ConfirmedInCatalog)},
		{"Updated", view.UpdatedAt},
	}
	fmt.Fprint(out, renderFields(fields))
	if notes := strings.TrimSpace(view.Notes); notes != "" {
		fmt.Fprintln(out, "\nNotes:")
		fmt.Fprintln(out, notes)
	}
	if len(view.Errors) > 0 {
		rows := make([][]string, 0, len(view.Errors))
		for _, e := range view.Errors {
			rows = append(rows, []string{e.Category, e.Message})
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, renderTable([]string{"Category", "Error"}, rows, nil))
	}
	return nil
}
