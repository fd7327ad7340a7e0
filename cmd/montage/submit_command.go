package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"montage/internal/jobs"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var duration int
	var style string
	var quality string
	var voice string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a new video generation job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req := jobs.Request{
				Prompt:          strings.Join(args, " "),
				DurationSeconds: duration,
				Style:           style,
				Quality:         quality,
				Voice:           voice,
			}
			view, err := client.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s queued\n", view.ID)
			fmt.Fprintf(out, "  duration: %ds  style: %s  quality: %s  voice: %s\n",
				view.DurationSeconds, view.Style, view.Quality, view.Voice)
			return nil
		},
	}

	cmd.Flags().IntVar(&duration, "duration", 0, "Target video duration in seconds")
	cmd.Flags().StringVar(&style, "style", "", "Narrative style for the generated video")
	cmd.Flags().StringVar(&quality, "quality", "", "Output quality (draft, standard, high)")
	cmd.Flags().StringVar(&voice, "voice", "", "Narration voice")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the created job as JSON")

	return cmd
}
