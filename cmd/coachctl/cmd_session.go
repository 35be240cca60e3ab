package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage stored sessions",
	}
	cmd.AddCommand(newSessionShowCommand(opts))
	cmd.AddCommand(newSessionExportCommand(opts))
	cmd.AddCommand(newSessionResetCommand(opts))
	return cmd
}

func newSessionShowCommand(opts *globalOptions) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			if debug {
				view, err := orch.Debug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), view)
			}
			snap, err := orch.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug-view", false, "Print the compact debug view instead")
	return cmd
}

func newSessionExportCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <session-id>",
		Short: "Print a session's transcript and phase records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			export, err := orch.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), export)
		},
	}
}

func newSessionResetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Delete a session and its phase records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, closeFn, err := openOrchestrator(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := orch.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s reset\n", args[0])
			return nil
		},
	}
}
