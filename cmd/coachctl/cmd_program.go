package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProgramCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Manage coaching programs",
	}
	cmd.AddCommand(newProgramFinalizeCommand(opts))
	return cmd
}

func newProgramFinalizeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <session-id>",
		Short: "Build and store the final plan for a session",
		Long: `Finalize a session's program into its plan document. Every phase record
must already exist; the command lists the missing ones otherwise. Finalizing
an already completed program prints its existing document id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := orch.CompleteProgram(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Program complete for %s: %s\n", res.UserID, res.FinalDocumentID)
			return nil
		},
	}
}
