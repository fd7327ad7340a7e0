package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			view, err := client.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if view == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			renderJobStatus(cmd, *view)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job as JSON")
	return cmd
}

func renderJobStatus(cmd *cobra.Command, view api.JobView) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("Job "+shortID(view.ID), colorize))
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(view.Status), view.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, stageTitle(view.CurrentStage), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, formatProgress(view.Progress), colorize))
	fmt.Fprintln(out, renderStatusLine("Prompt", statusInfo, truncate(view.Prompt, 70), colorize))
	if view.EstimatedCompletion != "" {
		fmt.Fprintln(out, renderStatusLine("ETA", statusInfo, view.EstimatedCompletion, colorize))
	}
	if view.OutputPath != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusOK, view.OutputPath, colorize))
	}
	if view.Error != nil {
		detail := fmt.Sprintf("%s: %s", view.Error.Kind, view.Error.Message)
		if view.Error.Stage != "" {
			detail = fmt.Sprintf("%s (stage %s)", detail, view.Error.Stage)
		}
		fmt.Fprintln(out, renderStatusLine("Error", statusError, detail, colorize))
	}
	if len(view.RetryCounts) > 0 {
		stages := make([]string, 0, len(view.RetryCounts))
		for stage := range view.RetryCounts {
			stages = append(stages, stage)
		}
		sort.Strings(stages)
		parts := make([]string, 0, len(stages))
		for _, stage := range stages {
			parts = append(parts, fmt.Sprintf("%s=%d", stage, view.RetryCounts[stage]))
		}
		fmt.Fprintln(out, renderStatusLine("Retries", statusWarn, strings.Join(parts, " "), colorize))
	}
}

func jobStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var offset int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.List(cmd.Context(), statuses, limit, offset)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			if resp.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			rows := make([][]string, 0, resp.Count)
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					shortID(job.ID),
					job.Status,
					stageTitle(job.CurrentStage),
					formatProgress(job.Progress),
					job.CreatedAt,
					truncate(job.Prompt, 48),
				})
			}
			table := renderTable(
				[]string{"ID", "Status", "Stage", "Progress", "Created", "Prompt"},
				rows, 4,
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of jobs to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job list as JSON")

	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or in-flight job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			switch result.Outcome {
			case api.CancelImmediate:
				fmt.Fprintf(out, "Job %s cancelled\n", result.ID)
			case api.CancelAccepted:
				fmt.Fprintf(out, "Cancellation requested for job %s; it will stop at the next stage boundary\n", result.ID)
			case api.CancelAlreadyFinished:
				fmt.Fprintf(out, "Job %s already finished with status %s\n", result.ID, result.Status)
			default:
				fmt.Fprintf(out, "Job %s: %s\n", result.ID, result.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the cancel result as JSON")
	return cmd
}
