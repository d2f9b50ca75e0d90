package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewLoginCommand() *cobra.Command {
	var email, password string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := newUI()
			email, err := ask(ui, email, "Email", false)
			if err != nil {
				return err
			}
			password, err := ask(ui, password, "Password", true)
			if err != nil {
				return err
			}

			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				cred, err := c.Login(ctx, email, password, remember)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", cred.DisplayName())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when empty)")
	cmd.Flags().BoolVar(&remember, "remember", true, "Keep the session across restarts")
	return cmd
}

func NewSignupCommand() *cobra.Command {
	var email, password, name string
	var remember bool

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := newUI()
			email, err := ask(ui, email, "Email", false)
			if err != nil {
				return err
			}
			password, err := ask(ui, password, "Password", true)
			if err != nil {
				return err
			}

			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				cred, err := c.Signup(ctx, email, password, name, remember)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", cred.DisplayName())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when empty)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&remember, "remember", true, "Keep the session across restarts")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func NewWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				cred, tier, ok := c.Credentials.ResolveTier(ctx)
				if !ok {
					return errors.New("not signed in")
				}
				rows := [][]string{
					{"name", cred.DisplayName()},
					{"email", cred.Email},
					{"user id", fmt.Sprint(cred.UserID)},
					{"stored in", string(tier)},
				}
				if tier == credentials.TierSession {
					rows = append(rows, []string{"note", "session only"})
				}
				if exp, ok := cred.ExpiresAt(); ok {
					rows = append(rows, []string{"expires", exp.Local().Format("2006-01-02 15:04")})
				}
				return render(cmd.OutOrStdout(), markdownTable([]string{"field", "value"}, rows))
			})
		},
	}
}

func NewProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the signed-in account",
	}

	var name, email, password string
	update := &cobra.Command{
		Use:   "update",
		Short: "Change name, email or password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := api.UserUpdate{
				Name:     strings.TrimSpace(name),
				Email:    strings.TrimSpace(email),
				Password: password,
			}
			if u == (api.UserUpdate{}) {
				return errors.New("nothing to update")
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				cred, err := c.UpdateProfile(ctx, u)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s <%s>\n", cred.DisplayName(), cred.Email)
				return nil
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "New display name")
	update.Flags().StringVar(&email, "email", "", "New email")
	update.Flags().StringVar(&password, "password", "", "New password")
	cmd.AddCommand(update)
	return cmd
}
