package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-go-golems/velocity/pkg/gateway"
)

const (
	PathTasks         = "/api/tasks"
	PathTaskSummary   = "/api/tasks/summary"
	PathCalendar      = "/api/calendar"
	PathCalendarToday = "/api/calendar/today"
	PathProjects      = "/api/projects"
	PathUpdates       = "/api/updates"
	PathPriorities    = "/api/priorities"
	PathMetrics       = "/api/metrics"
	PathChatHistory   = "/api/chat/history"
)

// Task is an entry of the personal-mode task list, already prioritized by the service.
type Task struct {
	ID             string  `json:"id" jsonschema:"required"`
	Title          string  `json:"title" jsonschema:"required"`
	Description    string  `json:"description"`
	Priority       string  `json:"priority" jsonschema:"required"`
	Category       string  `json:"category"`
	DueDate        string  `json:"due_date,omitempty" jsonschema:"nullable"`
	EstimatedHours float64 `json:"estimated_hours"`
	Completed      bool    `json:"completed"`
	Source         string  `json:"source,omitempty" jsonschema:"nullable"`
}

type DailySummary struct {
	Date        string   `json:"date" jsonschema:"required"`
	Greeting    string   `json:"greeting"`
	Tasks       []Task   `json:"tasks" jsonschema:"required"`
	StudyHours  float64  `json:"study_hours"`
	CodingHours float64  `json:"coding_hours"`
	Insights    []string `json:"insights"`
}

// CalendarBlock times are local wall-clock strings as the service sends them.
type CalendarBlock struct {
	ID          string `json:"id" jsonschema:"required"`
	Title       string `json:"title" jsonschema:"required"`
	Start       string `json:"start" jsonschema:"required"`
	End         string `json:"end" jsonschema:"required"`
	Category    string `json:"category"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty" jsonschema:"nullable"`
	GradeImpact string `json:"grade_impact,omitempty" jsonschema:"nullable"`
}

type CalendarDay struct {
	Date            string          `json:"date" jsonschema:"required"`
	TotalBlocks     int             `json:"total_blocks"`
	StudyHours      float64         `json:"study_hours"`
	CodingHours     float64         `json:"coding_hours"`
	Blocks          []CalendarBlock `json:"blocks" jsonschema:"required"`
	HighImpactExams []CalendarBlock `json:"high_impact_exams"`
}

type Project struct {
	ID          string   `json:"id" jsonschema:"required"`
	Name        string   `json:"name" jsonschema:"required"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	Description string   `json:"description"`
	TeamMembers []string `json:"team_members"`
	LastUpdated string   `json:"last_updated"`
	TechStack   []string `json:"tech_stack,omitempty"`
}

type UpdateFeedItem struct {
	ID        string `json:"id" jsonschema:"required"`
	Message   string `json:"message" jsonschema:"required"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Project   string `json:"project,omitempty" jsonschema:"nullable"`
	Verified  bool   `json:"verified"`
}

type Priority struct {
	ID          string `json:"id" jsonschema:"required"`
	Title       string `json:"title" jsonschema:"required"`
	Urgency     string `json:"urgency" jsonschema:"required"`
	Project     string `json:"project"`
	AssignedTo  string `json:"assigned_to,omitempty" jsonschema:"nullable"`
	AIReasoning string `json:"ai_reasoning,omitempty" jsonschema:"nullable"`
}

// ProjectDetail is one project with the updates and priorities filed under it.
type ProjectDetail struct {
	Project    Project          `json:"project" jsonschema:"required"`
	Activities []UpdateFeedItem `json:"activities"`
	Priorities []Priority       `json:"priorities"`
}

type TeamMetrics struct {
	HoursSaved            float64 `json:"hours_saved"`
	HoursSavedTrend       float64 `json:"hours_saved_trend"`
	MarketAlerts          int     `json:"market_alerts"`
	MarketAlertsNew       int     `json:"market_alerts_new"`
	ActiveLeads           int     `json:"active_leads"`
	ActiveLeadsConversion float64 `json:"active_leads_conversion"`
	SprintVelocity        float64 `json:"sprint_velocity"`
	TeamMood              string  `json:"team_mood" jsonschema:"required"`
}

type HistoryMessage struct {
	Role    string `json:"role" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
}

// ChatHistory is the assistant's own transcript of a conversation. It is kept
// apart from the stored messages and may be empty after a service restart.
type ChatHistory struct {
	ConversationID string           `json:"conversation_id" jsonschema:"required"`
	Messages       []HistoryMessage `json:"messages" jsonschema:"required"`
}

func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	return gateway.Do[[]Task](ctx, c.gw, gateway.Request{Path: PathTasks}).Value()
}

func (c *Client) TaskSummary(ctx context.Context) (*DailySummary, error) {
	return value(gateway.Do[DailySummary](ctx, c.gw, gateway.Request{Path: PathTaskSummary}))
}

func (c *Client) Calendar(ctx context.Context) ([]CalendarBlock, error) {
	return gateway.Do[[]CalendarBlock](ctx, c.gw, gateway.Request{Path: PathCalendar}).Value()
}

func (c *Client) CalendarToday(ctx context.Context) (*CalendarDay, error) {
	return value(gateway.Do[CalendarDay](ctx, c.gw, gateway.Request{Path: PathCalendarToday}))
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	return gateway.Do[[]Project](ctx, c.gw, gateway.Request{Path: PathProjects}).Value()
}

func (c *Client) Project(ctx context.Context, id string) (*ProjectDetail, error) {
	return value(gateway.Do[ProjectDetail](ctx, c.gw, gateway.Request{
		Path: PathProjects + "/" + url.PathEscape(id),
	}))
}

func (c *Client) Updates(ctx context.Context) ([]UpdateFeedItem, error) {
	return gateway.Do[[]UpdateFeedItem](ctx, c.gw, gateway.Request{Path: PathUpdates}).Value()
}

func (c *Client) Priorities(ctx context.Context) ([]Priority, error) {
	return gateway.Do[[]Priority](ctx, c.gw, gateway.Request{Path: PathPriorities}).Value()
}

func (c *Client) Metrics(ctx context.Context) (*TeamMetrics, error) {
	return value(gateway.Do[TeamMetrics](ctx, c.gw, gateway.Request{Path: PathMetrics}))
}

func (c *Client) ChatHistory(ctx context.Context, conversationID int64) (*ChatHistory, error) {
	return value(gateway.Do[ChatHistory](ctx, c.gw, gateway.Request{
		Path: fmt.Sprintf("%s/%d", PathChatHistory, conversationID),
	}))
}

func value[T any](r gateway.Result[T]) (*T, error) {
	v, err := r.Value()
	if err != nil {
		return nil, err
	}
	return &v, nil
}
