package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"appforge/internal/events"
	"appforge/internal/plan"
)

func runCmd() *cobra.Command {
	var (
		modules  []string
		frontend string
		backend  string
		database string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "run <requirement>",
		Short: "Plan and execute a generation",
		Long: `Plan the requirement into a task graph and execute it to completion.

Ctrl+C cancels the generation: in-flight tasks are checkpointed as
pending and 'appforge resume' continues from where it stopped.

Examples:
  appforge run "a todo app with user accounts"
  appforge run "inventory REST API" --module database --module backend`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseModules(modules)
			if err != nil {
				return err
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if !quiet {
				go followEvents(a.bus.Subscribe(events.TopicTask, 256))
			}

			id, err := a.service.Submit(cmd.Context(), args[0], plan.Constraints{
				Modules:  kinds,
				Frontend: frontend,
				Backend:  backend,
				Database: database,
			})
			if err != nil {
				return err
			}
			fmt.Printf("GENERATION STARTED: %s\n", id)

			res, err := a.service.Wait(cmd.Context(), id)
			if cmd.Context().Err() != nil {
				// Signal received: cancel cleanly and leave a resume hint.
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

	cmd.Flags().StringArrayVar(&modules, "module", nil, "explicit module kinds (repeatable)")
	cmd.Flags().StringVar(&frontend, "frontend", "", "frontend framework hint")
	cmd.Flags().StringVar(&backend, "backend", "", "backend framework hint")
	cmd.Flags().StringVar(&database, "database", "", "database engine hint")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-task progress")
	return cmd
}
