package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [generation-id]",
		Short: "Show generation state from its latest checkpoint (latest if no ID given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			id := ""
			if len(args) > 0 {
				id = args[0]
			} else {
				ids, err := a.service.Generations(cmd.Context())
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintln(os.Stderr, "No generations found")
					return nil
				}
				id = ids[0]
			}

			st, err := a.service.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}
}

func generationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generations",
		Short: "List known generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ids, err := a.service.Generations(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
