package dashboard

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-go-golems/velocity/internal/fakeremote"
	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/go-go-golems/velocity/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDashboard(t *testing.T, options ...Option) (*Dashboard, *fakeremote.Server, *mode.Context) {
	t.Helper()
	srv := fakeremote.New()
	t.Cleanup(srv.Close)

	gw, err := gateway.NewClient(srv.URL, gateway.WithURLPolicy(security.LocalDevelopmentPolicy))
	require.NoError(t, err)

	modes := mode.New(context.Background(), nil)
	d := New(api.NewClient(gw), modes, options...)
	t.Cleanup(d.Close)
	return d, srv, modes
}

func TestLoadFollowsMode(t *testing.T) {
	ctx := context.Background()
	var seen []events.EventType
	d, srv, modes := newDashboard(t, WithSink(events.SinkFunc(func(e events.Event) error {
		seen = append(seen, e.Type())
		return nil
	})))

	require.NoError(t, d.Load(ctx))
	v := d.View()
	assert.Equal(t, mode.Personal, v.Mode)
	assert.Equal(t, conversation.LoadLoaded, v.State)
	require.NotNil(t, v.Personal)
	assert.Nil(t, v.Workspace)
	assert.Len(t, v.Personal.Tasks, 3)
	assert.Equal(t, "", v.Personal.Tasks[1].DueDate)
	assert.Equal(t, 1.5, v.Personal.Tasks[0].EstimatedHours)
	assert.Len(t, v.Personal.Summary.Tasks, 2)
	require.Len(t, v.Personal.Today.HighImpactExams, 1)
	assert.Equal(t, "c2", v.Personal.Today.HighImpactExams[0].ID)
	assert.Empty(t, srv.RequestsTo(fakeremote.RouteProjects))

	require.NoError(t, modes.Set(ctx, mode.Workspace))
	assert.Equal(t, conversation.LoadIdle, d.View().State)

	require.NoError(t, d.Load(ctx))
	v = d.View()
	assert.Equal(t, mode.Workspace, v.Mode)
	assert.Nil(t, v.Personal)
	require.NotNil(t, v.Workspace)
	assert.Len(t, v.Workspace.Projects, 2)
	assert.Len(t, v.Workspace.Updates, 3)
	assert.Equal(t, "", v.Workspace.Priorities[1].AssignedTo)
	assert.Equal(t, "good", v.Workspace.Metrics.TeamMood)
	assert.Len(t, srv.RequestsTo(fakeremote.RouteMetrics), 1)

	assert.Equal(t, []events.EventType{events.EventTypeDashboardLoaded, events.EventTypeDashboardLoaded}, seen)
}

func TestFailedViewKeepsPreviousDashboard(t *testing.T) {
	ctx := context.Background()
	d, srv, _ := newDashboard(t)
	require.NoError(t, d.Load(ctx))

	srv.Fail(fakeremote.RouteCalendarToday, http.StatusServiceUnavailable, "calendar sync down", "")
	require.Error(t, d.Load(ctx))

	v := d.View()
	assert.Equal(t, conversation.LoadFailed, v.State)
	assert.Equal(t, "calendar sync down", v.Error)
	require.NotNil(t, v.Personal)
	assert.Len(t, v.Personal.Tasks, 3)
}

func TestModeSwitchDiscardsDashboardInFlight(t *testing.T) {
	ctx := context.Background()
	d, srv, modes := newDashboard(t)

	gate := srv.Hold(fakeremote.RouteTasks)
	done := make(chan error, 1)
	go func() { done <- d.Load(ctx) }()
	<-gate.Arrived()

	require.NoError(t, modes.Set(ctx, mode.Workspace))
	gate.Release()
	require.NoError(t, <-done)

	v := d.View()
	assert.Equal(t, conversation.LoadIdle, v.State)
	assert.Nil(t, v.Personal)
}

func TestViewIsACopy(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newDashboard(t)
	require.NoError(t, d.Load(ctx))

	v := d.View()
	v.Personal.Tasks[0].Title = "changed"
	assert.Equal(t, "Review lecture notes", d.View().Personal.Tasks[0].Title)
}
