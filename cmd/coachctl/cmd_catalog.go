package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/coach-labs/internal/catalog"
)

func newCatalogCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the phase catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand(opts))
	cmd.AddCommand(newCatalogShowCommand(opts))
	return cmd
}

func newCatalogValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the phase catalog",
		Long: `Parse and validate the phase catalog. Every phase must have a unique
output kind, checkpoint fields must match its required fields, and the
ordinals must run from 1 without gaps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(opts.catalogPath)
			if err != nil {
				return err
			}
			source := opts.catalogPath
			if source == "" {
				source = "built-in catalog"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: OK (%d phases)\n", source, cat.Len())
			for _, p := range cat.Phases {
				fmt.Fprintf(out, "  %d. %-28s %-22s %d checkpoints\n", p.Ordinal, p.Name, p.Output, len(p.Checkpoints))
			}
			return nil
		},
	}
}

func newCatalogShowCommand(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the phase catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(opts.catalogPath)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return writeJSON(cmd.OutOrStdout(), cat)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cat); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml or json")
	return cmd
}
