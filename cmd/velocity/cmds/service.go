package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/spf13/cobra"
)

func newActionCommand(verb string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <conversation-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " the action the assistant proposed in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				var res *api.ActionResult
				if approve {
					res, err = c.API.ApproveAction(ctx, id)
				} else {
					res, err = c.API.RejectAction(ctx, id)
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), res.Message+"\n")
			})
		},
	}
}

func NewApproveCommand() *cobra.Command {
	return newActionCommand("approve", true)
}

func NewRejectCommand() *cobra.Command {
	return newActionCommand("reject", false)
}

func NewActivityCommand() *cobra.Command {
	var modeName string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent assistant activity for the current mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if modeName != "" {
					m, err := mode.Parse(modeName)
					if err != nil {
						return err
					}
					if err := c.Modes.Set(ctx, m); err != nil {
						return err
					}
				}
				if err := c.Activity.Load(ctx); err != nil {
					return err
				}
				view := c.Activity.View()
				if len(view.Entries) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No activity in %s mode\n", view.Mode)
					return nil
				}
				rows := make([][]string, 0, len(view.Entries))
				for _, e := range view.Entries {
					when := ""
					if !e.Timestamp.IsZero() {
						when = e.Timestamp.Local().Format(timeLayout)
					}
					rows = append(rows, []string{when, e.Action, e.Source, e.Project, e.Details})
				}
				return render(cmd.OutOrStdout(), markdownTable([]string{"when", "action", "source", "project", "details"}, rows))
			})
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "", "Switch to this mode first")
	return cmd
}

func NewIntegrationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integrations",
		Short: "Inspect connected services",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List integrations and whether they are connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				list, err := c.API.IntegrationStatus(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(list))
				for _, it := range list {
					connected := "no"
					if it.Connected {
						connected = "yes"
					}
					synced := ""
					if !it.LastSynced.IsZero() {
						synced = it.LastSynced.Local().Format(timeLayout)
					}
					rows = append(rows, []string{it.Service, connected, synced})
				}
				return render(cmd.OutOrStdout(), markdownTable([]string{"service", "connected", "last synced"}, rows))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "connect-url <service>",
		Short:     "Print the URL that starts the Google authorization flow",
		Args:      cobra.ExactArgs(1),
		ValidArgs: api.GoogleServices(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				u, err := c.API.GoogleConnectURL(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	})
	return cmd
}

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				h, err := c.API.Health(ctx)
				if err != nil {
					return err
				}
				line := h.Status
				if h.Service != "" {
					line += " (" + h.Service + ")"
				}
				if h.AIModel != "" {
					line += ", model " + h.AIModel
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				return nil
			})
		},
	}
}
