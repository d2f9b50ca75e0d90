// Package activity is a mode-scoped view over the service's activity log.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/rs/zerolog/log"
)

// Source fetches activity entries; *api.Client implements it.
type Source interface {
	ActivityLog(ctx context.Context, mode string) ([]api.ActivityEntry, error)
}

type Entry struct {
	ID        string
	Timestamp time.Time
	Action    string
	Source    string
	Mode      mode.Mode
	Project   string
	Details   string
}

// View is a copy of the feed at one point in time.
type View struct {
	// Mode is the mode the entries were loaded for.
	Mode    mode.Mode
	Entries []Entry
	State   conversation.LoadState
	Error   string
}

type Option func(*Feed)

func WithSink(sink events.EventSink) Option {
	return func(f *Feed) {
		f.sinks = append(f.sinks, sink)
	}
}

type Feed struct {
	source Source
	modes  conversation.ModeSource
	sinks  []events.EventSink

	unsubscribe func()

	mu      sync.Mutex
	gen     uint64
	loaded  mode.Mode
	entries []Entry
	state   conversation.LoadState
	err     string
}

func New(source Source, modes conversation.ModeSource, options ...Option) *Feed {
	f := &Feed{
		source: source,
		modes:  modes,
		state:  conversation.LoadIdle,
	}
	for _, o := range options {
		o(f)
	}
	if modes != nil {
		f.unsubscribe = modes.Subscribe(func(previous, current mode.Mode) {
			f.Invalidate()
		})
	}
	return f
}

func (f *Feed) Close() {
	if f.unsubscribe != nil {
		f.unsubscribe()
		f.unsubscribe = nil
	}
}

func (f *Feed) current() mode.Mode {
	if f.modes == nil {
		return mode.Default
	}
	return f.modes.Current()
}

// Load fetches the entries of the current mode. A response that arrives after
// a newer load or a mode switch is dropped. On failure the previous entries
// stay in place.
func (f *Feed) Load(ctx context.Context) error {
	m := f.current()

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.state = conversation.LoadLoading
	f.mu.Unlock()

	remote, err := f.source.ActivityLog(ctx, m.String())

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		log.Debug().Str("mode", m.String()).Msg("Discarding stale activity load")
		return nil
	}
	meta := events.NewEventMetadata(m.String())
	if err != nil {
		f.state = conversation.LoadFailed
		f.err = gateway.MessageOf(err)
		ev := events.NewLoadEvent(events.EventTypeLoadFailed, meta, "activity", 0, 0, f.err)
		f.mu.Unlock()
		events.PublishToSinks(f.sinks, ev)
		return err
	}

	entries := make([]Entry, 0, len(remote))
	for _, e := range remote {
		entries = append(entries, Entry{
			ID:        e.ID,
			Timestamp: e.Timestamp.Time,
			Action:    e.Action,
			Source:    e.Source,
			Mode:      mode.Mode(e.Mode),
			Project:   e.Project,
			Details:   e.Details,
		})
	}
	f.entries = entries
	f.loaded = m
	f.state = conversation.LoadLoaded
	f.err = ""
	ev := events.NewLoadEvent(events.EventTypeActivityLoaded, meta, "activity", 0, len(entries), "")
	f.mu.Unlock()

	events.PublishToSinks(f.sinks, ev)
	return nil
}

// Invalidate drops loads in flight and returns the feed to Idle.
func (f *Feed) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.state = conversation.LoadIdle
	f.err = ""
}

func (f *Feed) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]Entry, len(f.entries))
	copy(entries, f.entries)
	return View{
		Mode:    f.loaded,
		Entries: entries,
		State:   f.state,
		Error:   f.err,
	}
}
