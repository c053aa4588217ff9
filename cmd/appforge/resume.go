package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"appforge/internal/events"
)

func resumeCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "resume <generation-id>",
		Short: "Continue an interrupted generation from its last checkpoint",
		Long: `Load the latest checkpoint for the generation and continue executing.
Succeeded tasks are never re-run; tasks that were in flight when the
generation stopped are dispatched again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if !quiet {
				go followEvents(a.bus.Subscribe(events.TopicTask, 256))
			}

			if err := a.service.Resume(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("GENERATION RESUMED: %s\n", id)

			res, err := a.service.Wait(cmd.Context(), id)
			if cmd.Context().Err() != nil {
				cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if cerr := a.service.Cancel(cancelCtx, id); cerr != nil && err != nil {
					return fmt.Errorf("cancelling %s: %w", id, cerr)
				}
				fmt.Printf("\nCANCELLED: resume with 'appforge resume %s'\n", id)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("OUTCOME: %s\n", res.Outcome)
			if res.Degraded {
				fmt.Println("WARNING: checkpointing was degraded during the run")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-task progress")
	return cmd
}
