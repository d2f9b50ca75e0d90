package cmds

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/client"
	"github.com/go-go-golems/velocity/pkg/dashboard"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/spf13/cobra"
)

func NewDashboardCommand() *cobra.Command {
	var modeName string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the overview of the current mode",
		Long: "Personal mode shows today's summary, tasks and calendar. Workspace mode shows\n" +
			"team metrics, projects, priorities and the updates feed.",
		Args: cobra.NoArgs,
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
				if err := c.Dashboard.Load(ctx); err != nil {
					return err
				}
				view := c.Dashboard.View()
				if view.Workspace != nil {
					return render(cmd.OutOrStdout(), workspaceMarkdown(view.Workspace))
				}
				if view.Personal != nil {
					return render(cmd.OutOrStdout(), personalMarkdown(view.Personal))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing to show in %s mode\n", view.Mode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "", "Switch to this mode first")

	cmd.AddCommand(&cobra.Command{
		Use:   "project <project-id>",
		Short: "Show one workspace project with its updates and priorities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				d, err := c.API.Project(ctx, args[0])
				if err != nil {
					return err
				}
				var b strings.Builder
				p := d.Project
				fmt.Fprintf(&b, "# %s\n\n%s\n\n", p.Name, p.Description)
				fmt.Fprintf(&b, "_%s, %d%% done, updated %s_\n\n", p.Status, p.Progress, p.LastUpdated)
				if len(p.TeamMembers) > 0 {
					fmt.Fprintf(&b, "Team: %s\n\n", strings.Join(p.TeamMembers, ", "))
				}
				b.WriteString(updatesTable(d.Activities))
				b.WriteString(prioritiesTable(d.Priorities))
				return render(cmd.OutOrStdout(), b.String())
			})
		},
	})
	return cmd
}

func personalMarkdown(p *dashboard.Personal) string {
	var b strings.Builder
	if s := p.Summary; s != nil {
		fmt.Fprintf(&b, "# %s\n\n%s\n\n", s.Date, s.Greeting)
		fmt.Fprintf(&b, "Study %s h, coding %s h\n\n", hours(s.StudyHours), hours(s.CodingHours))
		for _, i := range s.Insights {
			fmt.Fprintf(&b, "- %s\n", i)
		}
		b.WriteString("\n")
	}

	rows := make([][]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		done := ""
		if t.Completed {
			done = "x"
		}
		rows = append(rows, []string{done, t.Priority, t.Title, t.Category, t.DueDate, hours(t.EstimatedHours)})
	}
	b.WriteString("## Tasks\n\n")
	b.WriteString(markdownTable([]string{"done", "priority", "task", "category", "due", "hours"}, rows))

	if d := p.Today; d != nil {
		rows = make([][]string, 0, len(d.Blocks))
		for _, blk := range d.Blocks {
			rows = append(rows, []string{clock(blk.Start) + "-" + clock(blk.End), blk.Title, blk.Category, blk.GradeImpact})
		}
		fmt.Fprintf(&b, "\n## Calendar, %d blocks\n\n", d.TotalBlocks)
		b.WriteString(markdownTable([]string{"time", "block", "category", "grade impact"}, rows))
	}
	return b.String()
}

func workspaceMarkdown(w *dashboard.Workspace) string {
	var b strings.Builder
	if m := w.Metrics; m != nil {
		b.WriteString("# Team\n\n")
		b.WriteString(markdownTable(
			[]string{"hours saved", "market alerts", "active leads", "sprint velocity", "mood"},
			[][]string{{
				fmt.Sprintf("%s (%+.1f%%)", hours(m.HoursSaved), m.HoursSavedTrend),
				fmt.Sprintf("%d (%d new)", m.MarketAlerts, m.MarketAlertsNew),
				fmt.Sprintf("%d (%.1f%% conversion)", m.ActiveLeads, m.ActiveLeadsConversion),
				hours(m.SprintVelocity),
				m.TeamMood,
			}},
		))
		b.WriteString("\n")
	}

	rows := make([][]string, 0, len(w.Projects))
	for _, p := range w.Projects {
		rows = append(rows, []string{p.ID, p.Name, p.Status, strconv.Itoa(p.Progress) + "%", p.LastUpdated})
	}
	b.WriteString("## Projects\n\n")
	b.WriteString(markdownTable([]string{"id", "project", "status", "progress", "updated"}, rows))
	b.WriteString(prioritiesTable(w.Priorities))
	b.WriteString(updatesTable(w.Updates))
	return b.String()
}

func updatesTable(updates []api.UpdateFeedItem) string {
	if len(updates) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(updates))
	for _, u := range updates {
		verified := ""
		if u.Verified {
			verified = "yes"
		}
		rows = append(rows, []string{u.Timestamp, u.Source, u.Message, u.Project, verified})
	}
	return "\n## Updates\n\n" + markdownTable([]string{"when", "source", "update", "project", "verified"}, rows)
}

func prioritiesTable(priorities []api.Priority) string {
	if len(priorities) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(priorities))
	for _, p := range priorities {
		rows = append(rows, []string{p.Urgency, p.Title, p.Project, p.AssignedTo, p.AIReasoning})
	}
	return "\n## Priorities\n\n" + markdownTable([]string{"urgency", "priority", "project", "owner", "why"}, rows)
}

func hours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// clock cuts a wall-clock timestamp down to HH:MM.
func clock(ts string) string {
	if i := strings.IndexByte(ts, 'T'); i >= 0 && len(ts) >= i+6 {
		return ts[i+1 : i+6]
	}
	return ts
}

func NewHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the assistant's own transcript of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				h, err := c.API.ChatHistory(ctx, id)
				if err != nil {
					return err
				}
				if len(h.Messages) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "The assistant keeps no history for conversation %d\n", id)
					return nil
				}
				var b strings.Builder
				for _, m := range h.Messages {
					fmt.Fprintf(&b, "**%s**\n\n%s\n\n", m.Role, m.Content)
				}
				return render(cmd.OutOrStdout(), b.String())
			})
		},
	}
}
