package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/spf13/cobra"
)

func NewModeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or switch between personal and workspace mode",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				fmt.Fprintln(cmd.OutOrStdout(), c.Modes.Current())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set personal|workspace",
		Short:     "Switch mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(mode.Personal), string(mode.Workspace)},
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := mode.Parse(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Modes.Set(ctx, next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mode: %s\n", next)
				return nil
			})
		},
	})
	return cmd
}
