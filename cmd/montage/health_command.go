package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show service health and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Service", colorize))
			fmt.Fprintln(out, renderStatusLine("Overall", healthStatusKind(report.Status), report.Status, colorize))
			pipelineKind := statusOK
			pipelineMsg := "running"
			if !report.Pipeline.Running {
				pipelineKind = statusWarn
				pipelineMsg = "stopped"
			}
			fmt.Fprintln(out, renderStatusLine("Pipeline", pipelineKind, pipelineMsg, colorize))
			dbKind := statusOK
			dbMsg := report.Database.Path
			if !report.Database.Readable || report.Database.Error != "" {
				dbKind = statusError
				if report.Database.Error != "" {
					dbMsg = report.Database.Error
				}
			}
			fmt.Fprintln(out, renderStatusLine("Database", dbKind, dbMsg, colorize))
			fmt.Fprintln(out, renderStatusLine("Jobs", statusInfo, fmt.Sprintf(
				"%d total, %d queued, %d processing, %d failed",
				report.Jobs.Total, report.Jobs.Queued, report.Jobs.Processing, report.Jobs.Failed), colorize))

			if len(report.Dependencies) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
				rows := make([][]string, 0, len(report.Dependencies))
				for _, dep := range report.Dependencies {
					critical := "no"
					if dep.Critical {
						critical = "yes"
					}
					rows = append(rows, []string{
						dep.Name,
						dep.Status,
						dep.BreakerState,
						critical,
						strconv.Itoa(dep.ConsecutiveFailures),
					})
				}
				table := renderTable(
					[]string{"Dependency", "Status", "Breaker", "Critical", "Failures"},
					rows, 5,
				)
				fmt.Fprintln(out, table)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the health report as JSON")
	return cmd
}
