package main

import (
	"fmt"

	"github.com/danmuck/wotlink/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate node and peer config files",
	}

	var kind string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a default config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", kind, args[0])
			return nil
		},
	}
	initCmd.Flags().StringVarP(&kind, "kind", "k", config.KindNode, "config kind: node|peer")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	var validateKind string
	validateCmd := &cobra.Command{
		Use:   "validate PATH",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Validate(args[0], validateKind); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", validateKind, args[0])
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validateKind, "kind", "k", config.KindNode, "config kind: node|peer")

	var showKind string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the default template for a kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tmpl, err := config.Template(showKind)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tmpl)
			return nil
		},
	}
	showCmd.Flags().StringVarP(&showKind, "kind", "k", config.KindNode, "config kind: node|peer")

	cfgCmd.AddCommand(initCmd, validateCmd, showCmd)
	return cfgCmd
}
