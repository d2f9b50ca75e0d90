// Package dashboard is the mode-scoped overview of the service's read views.
// Personal mode shows the day's tasks and calendar; workspace mode shows
// projects, the updates feed, priorities and team metrics.
package dashboard

import (
	"context"
	"sync"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Source is the part of *api.Client the dashboard reads from.
type Source interface {
	Tasks(ctx context.Context) ([]api.Task, error)
	TaskSummary(ctx context.Context) (*api.DailySummary, error)
	CalendarToday(ctx context.Context) (*api.CalendarDay, error)
	Projects(ctx context.Context) ([]api.Project, error)
	Updates(ctx context.Context) ([]api.UpdateFeedItem, error)
	Priorities(ctx context.Context) ([]api.Priority, error)
	Metrics(ctx context.Context) (*api.TeamMetrics, error)
}

type Personal struct {
	Summary *api.DailySummary
	Tasks   []api.Task
	Today   *api.CalendarDay
}

type Workspace struct {
	Projects   []api.Project
	Updates    []api.UpdateFeedItem
	Priorities []api.Priority
	Metrics    *api.TeamMetrics
}

// View is a copy of the dashboard. Only the section of Mode is set.
type View struct {
	Mode      mode.Mode
	Personal  *Personal
	Workspace *Workspace
	State     conversation.LoadState
	Error     string
}

type Option func(*Dashboard)

func WithSink(sink events.EventSink) Option {
	return func(d *Dashboard) {
		d.sinks = append(d.sinks, sink)
	}
}

type Dashboard struct {
	source Source
	modes  conversation.ModeSource
	sinks  []events.EventSink

	unsubscribe func()

	mu        sync.Mutex
	gen       uint64
	loaded    mode.Mode
	personal  *Personal
	workspace *Workspace
	state     conversation.LoadState
	err       string
}

func New(source Source, modes conversation.ModeSource, options ...Option) *Dashboard {
	d := &Dashboard{
		source: source,
		modes:  modes,
		state:  conversation.LoadIdle,
	}
	for _, o := range options {
		o(d)
	}
	if modes != nil {
		d.unsubscribe = modes.Subscribe(func(previous, current mode.Mode) {
			d.Invalidate()
		})
	}
	return d
}

func (d *Dashboard) Close() {
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
}

func (d *Dashboard) current() mode.Mode {
	if d.modes == nil {
		return mode.Default
	}
	return d.modes.Current()
}

// Load fetches every view of the current mode concurrently. Either all of
// them replace the dashboard or, when one fails, none do. A response that
// arrives after a newer load or a mode switch is dropped.
func (d *Dashboard) Load(ctx context.Context) error {
	m := d.current()

	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.state = conversation.LoadLoading
	d.mu.Unlock()

	var personal *Personal
	var workspace *Workspace
	var err error
	if m == mode.Workspace {
		workspace, err = d.loadWorkspace(ctx)
	} else {
		personal, err = d.loadPersonal(ctx)
	}

	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		log.Debug().Str("mode", m.String()).Msg("Discarding stale dashboard load")
		return nil
	}
	meta := events.NewEventMetadata(m.String())
	if err != nil {
		d.state = conversation.LoadFailed
		d.err = gateway.MessageOf(err)
		ev := events.NewLoadEvent(events.EventTypeLoadFailed, meta, "dashboard", 0, 0, d.err)
		d.mu.Unlock()
		events.PublishToSinks(d.sinks, ev)
		return err
	}

	d.personal = personal
	d.workspace = workspace
	d.loaded = m
	d.state = conversation.LoadLoaded
	d.err = ""
	ev := events.NewLoadEvent(events.EventTypeDashboardLoaded, meta, "dashboard", 0, 0, "")
	d.mu.Unlock()

	events.PublishToSinks(d.sinks, ev)
	return nil
}

func (d *Dashboard) loadPersonal(ctx context.Context) (*Personal, error) {
	p := &Personal{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		p.Summary, err = d.source.TaskSummary(ctx)
		return err
	})
	g.Go(func() (err error) {
		p.Tasks, err = d.source.Tasks(ctx)
		return err
	})
	g.Go(func() (err error) {
		p.Today, err = d.source.CalendarToday(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Dashboard) loadWorkspace(ctx context.Context) (*Workspace, error) {
	w := &Workspace{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		w.Projects, err = d.source.Projects(ctx)
		return err
	})
	g.Go(func() (err error) {
		w.Updates, err = d.source.Updates(ctx)
		return err
	})
	g.Go(func() (err error) {
		w.Priorities, err = d.source.Priorities(ctx)
		return err
	})
	g.Go(func() (err error) {
		w.Metrics, err = d.source.Metrics(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return w, nil
}

// Invalidate drops loads in flight and returns the dashboard to Idle.
func (d *Dashboard) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.state = conversation.LoadIdle
	d.err = ""
}

func (d *Dashboard) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clone.Clone(View{
		Mode:      d.loaded,
		Personal:  d.personal,
		Workspace: d.workspace,
		State:     d.state,
		Error:     d.err,
	}).(View)
}
