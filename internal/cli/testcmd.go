package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/store/memory"
)

type testOptions struct {
	targetID  string
	routePath string
}

func newTestCmd(root *options) *cobra.Command {
	opts := &testOptions{}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send the test message to a target, through a route, or to every enabled target",
		Long: `Send the test message in-process, without a running server.

With --target the message goes straight to that target, ignoring its
filters. With --route it runs through the route's full pipeline. With
neither, every enabled target receives it.

Examples:
  hookrelay test --target wecom-ops
  hookrelay test --route /tradingview`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fw, err := forwarder.New(
				forwarder.WithStore(memory.New(1)),
				forwarder.WithConfigFile(root.configPath, false),
				forwarder.WithLogger(root.logger),
				forwarder.WithAsync(false),
			)
			if err != nil {
				return err
			}

			res, err := fw.Dispatcher().Test(cmd.Context(), dispatch.TestRequest{
				TargetID:  opts.targetID,
				RoutePath: opts.routePath,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Outcomes); err != nil {
				return err
			}
			for _, o := range res.Outcomes {
				if o.Status == history.StatusFailed {
					return fmt.Errorf("delivery to %s failed: %s", o.TargetID, o.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.targetID, "target", "t", "", "target id")
	cmd.Flags().StringVarP(&opts.routePath, "route", "r", "", "route path")
	return cmd
}
