package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"appforge/internal/plan"
)

func planCmd() *cobra.Command {
	var (
		modules  []string
		frontend string
		backend  string
		database string
	)

	cmd := &cobra.Command{
		Use:   "plan <requirement>",
		Short: "Show the task graph for a requirement without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds, err := parseModules(modules)
			if err != nil {
				return err
			}

			planner := plan.NewPlanner(nil)
			g, err := planner.Plan(cmd.Context(), args[0], plan.Constraints{
				Modules:  kinds,
				Frontend: frontend,
				Backend:  backend,
				Database: database,
			})
			if err != nil {
				return err
			}

			fmt.Printf("PLAN: %s\n", g.GenerationID())
			fmt.Printf("  Requirement: %s\n", g.Requirement())
			tasks := g.Tasks()
			fmt.Printf("TASKS: %d\n", len(tasks))
			for _, t := range tasks {
				deps := "(no dependencies)"
				if len(t.DependsOn) > 0 {
					deps = "after " + strings.Join(t.DependsOn, ", ")
				}
				fmt.Printf("  %s [%s] %s\n", t.ID, t.Kind, deps)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&modules, "module", nil, "explicit module kinds (repeatable)")
	cmd.Flags().StringVar(&frontend, "frontend", "", "frontend framework hint")
	cmd.Flags().StringVar(&backend, "backend", "", "backend framework hint")
	cmd.Flags().StringVar(&database, "database", "", "database engine hint")
	return cmd
}
