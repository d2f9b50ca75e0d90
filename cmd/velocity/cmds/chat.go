package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"
)

const chatHelp = `commands: /approve, /reject, /retry, /new, /mode personal|workspace, /exit`

func NewChatCommand() *cobra.Command {
	var conversationID int64
	var interactive bool

	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Talk to the assistant",
		Long:  "Sends one message, or starts an interactive session when no message is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				s := &chatSession{c: c, out: cmd.OutOrStdout()}
				if err := s.open(ctx, conversationID); err != nil {
					return err
				}

				text := strings.TrimSpace(strings.Join(args, " "))
				if text != "" {
					if err := s.send(ctx, text); err != nil {
						return err
					}
				}
				if text == "" || interactive {
					return s.loop(ctx, newUI())
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "Continue this conversation instead of starting a new one")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Keep chatting after the first message")
	return cmd
}

type chatSession struct {
	c         *client.Client
	out       io.Writer
	lastReply string
	lastSent  string
}

func (s *chatSession) open(ctx context.Context, id int64) error {
	if _, ok := s.c.Whoami(ctx); !ok {
		return conversation.ErrNotAuthenticated
	}
	if id == conversation.DraftID {
		return nil
	}
	if err := s.c.Conversations.Refresh(ctx); err != nil {
		return err
	}
	if err := s.c.Conversations.Select(id); err != nil {
		return err
	}
	if err := s.c.Conversations.LoadMessages(ctx, id); err != nil {
		return err
	}
	snap := s.c.Conversations.Snapshot()
	conv, _ := snap.Conversation(id)
	return render(s.out, transcript(conv.Title, snap.Messages[id]))
}

func (s *chatSession) send(ctx context.Context, text string) error {
	localID, err := s.c.Conversations.Send(ctx, text, s.c.Conversations.Active())
	s.lastSent = localID
	if err != nil {
		return err
	}
	return s.printReply(localID)
}

// printReply renders the assistant message that follows the user message localID.
func (s *chatSession) printReply(localID string) error {
	snap := s.c.Conversations.Snapshot()
	msgs := snap.Messages[snap.ActiveID]
	for i, m := range msgs {
		if m.LocalID == localID && i+1 < len(msgs) {
			reply := msgs[i+1]
			if reply.Approval == conversation.ApprovalPending {
				s.lastReply = reply.LocalID
			}
			return render(s.out, messageMarkdown(reply))
		}
	}
	return nil
}

func (s *chatSession) loop(ctx context.Context, ui *input.UI) error {
	fmt.Fprintln(s.out, chatHelp)
	for {
		line, err := ui.Ask(fmt.Sprintf("[%s] you", s.c.Modes.Current()), &input.Options{HideOrder: true})
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := s.handle(ctx, line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

func (s *chatSession) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return s.send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return io.EOF
	case "/approve", "/reject":
		if s.lastReply == "" {
			return conversation.ErrNoPendingApproval
		}
		if err := s.c.Conversations.ResolveAction(ctx, s.lastReply, fields[0] == "/approve"); err != nil {
			return err
		}
		s.lastReply = ""
		snap := s.c.Conversations.Snapshot()
		msgs := snap.Messages[snap.ActiveID]
		if len(msgs) > 0 {
			return render(s.out, messageMarkdown(msgs[len(msgs)-1]))
		}
		return nil
	case "/retry":
		if s.lastSent == "" {
			return conversation.ErrUnknownMessage
		}
		if err := s.c.Conversations.Retry(ctx, s.lastSent); err != nil {
			return err
		}
		return s.printReply(s.lastSent)
	case "/new":
		return s.c.Conversations.Select(conversation.DraftID)
	case "/mode":
		if len(fields) != 2 {
			return errors.New("usage: /mode personal|workspace")
		}
		m, err := mode.Parse(fields[1])
		if err != nil {
			return err
		}
		return s.c.SetMode(ctx, m)
	default:
		return errors.Errorf("unknown command %s; %s", fields[0], chatHelp)
	}
}
