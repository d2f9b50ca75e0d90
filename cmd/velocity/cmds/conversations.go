package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04"

func formatTime(c conversation.Conversation) string {
	t := c.UpdatedAt
	if t.IsZero() {
		t = c.CreatedAt
	}
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func NewConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List and manage conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Conversations.Refresh(ctx); err != nil {
					return err
				}
				snap := c.Conversations.Snapshot()
				if len(snap.Conversations) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet")
					return nil
				}
				rows := make([][]string, 0, len(snap.Conversations))
				for _, conv := range snap.Conversations {
					rows = append(rows, []string{fmt.Sprint(conv.ID), conv.Title, formatTime(conv)})
				}
				return render(cmd.OutOrStdout(), markdownTable([]string{"id", "title", "updated"}, rows))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new [title]",
		Short: "Create a conversation",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				conv, err := c.Conversations.CreateConversation(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %d: %s\n", conv.ID, conv.Title)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Conversations.Refresh(ctx); err != nil {
					return err
				}
				if err := c.Conversations.RenameConversation(ctx, id, strings.Join(args[1:], " ")); err != nil {
					return err
				}
				conv, _ := c.Conversations.Snapshot().Conversation(id)
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %d: %s\n", id, conv.Title)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Conversations.Refresh(ctx); err != nil {
					return err
				}
				if err := c.Conversations.DeleteConversation(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", id)
				return nil
			})
		},
	})

	return cmd
}

func NewMessagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Print the messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if err := c.Conversations.Refresh(ctx); err != nil {
					return err
				}
				if err := c.Conversations.LoadMessages(ctx, id); err != nil {
					return err
				}
				snap := c.Conversations.Snapshot()
				conv, _ := snap.Conversation(id)
				return render(cmd.OutOrStdout(), transcript(conv.Title, snap.Messages[id]))
			})
		},
	}
}

func transcript(title string, msgs []conversation.Message) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, m := range msgs {
		b.WriteString(messageMarkdown(m))
	}
	return b.String()
}

func messageMarkdown(m conversation.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", m.Role)
	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(&b, " _%s_", m.CreatedAt.Local().Format(timeLayout))
	}
	b.WriteString("\n\n")
	b.WriteString(m.Content)
	b.WriteString("\n\n")
	if m.Status == conversation.StatusFailed {
		fmt.Fprintf(&b, "> not delivered: %s\n\n", m.Error)
	}
	if len(m.Sources) > 0 {
		fmt.Fprintf(&b, "_sources: %s_\n\n", strings.Join(m.Sources, ", "))
	}
	if m.Approval == conversation.ApprovalPending {
		b.WriteString("> this action waits for approval\n\n")
	}
	return b.String()
}
