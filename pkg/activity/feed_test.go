package activity

import (
	"context"
	"net/http"
	"testing"
	"time"

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

func newFeed(t *testing.T, options ...Option) (*Feed, *fakeremote.Server, *mode.Context) {
	t.Helper()
	srv := fakeremote.New()
	t.Cleanup(srv.Close)

	gw, err := gateway.NewClient(srv.URL, gateway.WithURLPolicy(security.LocalDevelopmentPolicy))
	require.NoError(t, err)

	modes := mode.New(context.Background(), nil)
	f := New(api.NewClient(gw), modes, options...)
	t.Cleanup(f.Close)

	srv.AddActivity(fakeremote.ActivityEntry{Action: "Drafted weekly plan", Source: "notion", Mode: "personal"})
	srv.AddActivity(fakeremote.ActivityEntry{Action: "Synced sprint board", Source: "jira", Mode: "workspace", Project: "Apollo"})
	srv.AddActivity(fakeremote.ActivityEntry{Action: "Moved study block", Source: "calendar", Mode: "personal", Details: "to 3pm"})
	return f, srv, modes
}

func actions(entries []Entry) []string {
	ret := []string{}
	for _, e := range entries {
		ret = append(ret, e.Action)
	}
	return ret
}

func TestLoadFiltersByCurrentMode(t *testing.T) {
	ctx := context.Background()
	var loaded []events.Event
	f, srv, modes := newFeed(t, WithSink(events.SinkFunc(func(e events.Event) error {
		loaded = append(loaded, e)
		return nil
	})))

	require.NoError(t, f.Load(ctx))
	v := f.View()
	assert.Equal(t, mode.Personal, v.Mode)
	assert.Equal(t, conversation.LoadLoaded, v.State)
	assert.Equal(t, []string{"Moved study block", "Drafted weekly plan"}, actions(v.Entries))
	assert.Equal(t, "to 3pm", v.Entries[0].Details)
	assert.False(t, v.Entries[0].Timestamp.IsZero())

	require.NoError(t, modes.Set(ctx, mode.Workspace))
	assert.Equal(t, conversation.LoadIdle, f.View().State)

	require.NoError(t, f.Load(ctx))
	v = f.View()
	assert.Equal(t, mode.Workspace, v.Mode)
	assert.Equal(t, []string{"Synced sprint board"}, actions(v.Entries))
	assert.Equal(t, "Apollo", v.Entries[0].Project)

	reqs := srv.RequestsTo(fakeremote.RouteActivityLog)
	require.Len(t, reqs, 2)
	assert.Equal(t, "personal", reqs[0].Query.Get("mode"))
	assert.Equal(t, "workspace", reqs[1].Query.Get("mode"))

	require.Len(t, loaded, 2)
	assert.Equal(t, events.EventTypeActivityLoaded, loaded[1].Type())
}

func TestLoadFailureKeepsEntries(t *testing.T) {
	ctx := context.Background()
	f, srv, _ := newFeed(t)
	require.NoError(t, f.Load(ctx))

	srv.Fail(fakeremote.RouteActivityLog, http.StatusServiceUnavailable, "activity store offline", "")
	require.Error(t, f.Load(ctx))

	v := f.View()
	assert.Equal(t, conversation.LoadFailed, v.State)
	assert.Equal(t, "activity store offline", v.Error)
	assert.Len(t, v.Entries, 2)
}

func TestModeSwitchDiscardsLoadInFlight(t *testing.T) {
	ctx := context.Background()
	f, srv, modes := newFeed(t)

	gate := srv.Hold(fakeremote.RouteActivityLog)
	done := make(chan error, 1)
	go func() { done <- f.Load(ctx) }()
	<-gate.Arrived()

	require.NoError(t, modes.Set(ctx, mode.Workspace))
	gate.Release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("load did not return")
	}

	v := f.View()
	assert.Empty(t, v.Entries)
	assert.Equal(t, conversation.LoadIdle, v.State)
}
