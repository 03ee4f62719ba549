package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/forwarder/registry"
)

func newValidateCmd(root *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file against the schema and its invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := registry.Load(root.configPath)
			if err != nil {
				return err
			}
			snap, err := registry.NewSnapshot(doc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok (%d targets, %d routes, %d templates)\n",
				root.configPath, len(snap.Targets()), len(snap.Routes()), len(snap.Templates()))

			for _, r := range snap.Routes() {
				for _, id := range r.TargetIDs {
					if _, ok := snap.Target(id); !ok {
						fmt.Fprintf(out, "warning: route %s references unknown target %q\n", r.Path, id)
					}
				}
			}
			return nil
		},
	}
}

func newInitCmd(root *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, created, err := registry.LoadOrInit(root.configPath)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", root.configPath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", root.configPath)
			return nil
		},
	}
}
