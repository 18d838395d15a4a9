package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"digipub/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var match []string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Example: "  digipub logs -n 200\n" +
			"  digipub logs -f --match 010002643210",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logs.DaemonLogPath(cfg)
			out := cmd.OutOrStdout()
			query := logs.Query{Offset: -1, Lines: lines, Match: match}

			if !follow {
				page, err := logs.Read(cmd.Context(), path, query)
				if err != nil {
					return err
				}
				for _, line := range page.Lines {
					fmt.Fprintln(out, line)
				}
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return logs.Follow(runCtx, path, query, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringArrayVar(&match, "match", nil, "Only show lines containing this text (repeatable)")
	return cmd
}
