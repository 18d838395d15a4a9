package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"digipub/internal/api"
	"digipub/internal/store"
)

// Statuses that need an operator.
var attentionPackageStatuses = map[string]statusKind{
	string(store.PackageInvalid):             statusWarn,
	string(store.PackageUploadFailed):        statusError,
	string(store.PackageCatalogUpdateFailed): statusError,
	string(store.PackageRetry):               statusWarn,
}

var attentionJobStatuses = map[string]statusKind{
	string(store.JobAggregatorUploadError): statusError,
	string(store.JobAggregatorRejected):    statusError,
	string(store.JobUploadFailed):          statusError,
	string(store.JobRetry):                 statusWarn,
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show package and job counts with collaborator readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				summary, err := svc.Status(cmd.Context(), !offline)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				for _, line := range renderStatus(summary, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip network reachability checks")
	return cmd
}

func renderStatus(summary api.StatusSummary, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Packages", colorize)...)
	for _, status := range store.PackageStatuses() {
		count := summary.Packages[string(status)]
		lines = append(lines, renderStatusLine(string(status), countKind(count, attentionPackageStatuses, string(status)), fmt.Sprint(count), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize)...)
	for _, status := range store.JobStatuses() {
		count := summary.Jobs[string(status)]
		lines = append(lines, renderStatusLine(string(status), countKind(count, attentionJobStatuses, string(status)), fmt.Sprint(count), colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Readiness", colorize)...)
	for _, result := range summary.Preflight {
		kind := statusOK
		if !result.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
	}

	if summary.Queue.Enabled {
		kind := statusInfo
		message := fmt.Sprintf("pending=%d active=%d scheduled=%d archived=%d",
			summary.Queue.Pending, summary.Queue.Active, summary.Queue.Scheduled, summary.Queue.Archived)
		if strings.TrimSpace(summary.Queue.Error) != "" {
			kind = statusError
			message = summary.Queue.Error
		}
		lines = append(lines, renderStatusLine("Publish queue tasks", kind, message, colorize))
	}
	return lines
}

// countKind flags non-zero counts of statuses that need attention.
func countKind(count int, attention map[string]statusKind, status string) statusKind {
	kind, ok := attention[status]
	switch {
	case !ok:
		return statusInfo
	case count == 0:
		return statusOK
	default:
		return kind
	}
}
