package mode

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/velocity/pkg/kv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Mode selects the operating context the assistant works in.
type Mode string

const (
	Personal  Mode = "personal"
	Workspace Mode = "workspace"

	Default = Personal
)

// Key is the entry the selected mode is persisted under.
const Key = "mode"

var ErrInvalidMode = errors.New("invalid mode")

func (m Mode) Valid() bool {
	return m == Personal || m == Workspace
}

func (m Mode) String() string {
	return string(m)
}

// Parse validates user input, ignoring case and surrounding whitespace.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", errors.Wrapf(ErrInvalidMode, "%q (expected %s or %s)", s, Personal, Workspace)
	}
	return m, nil
}

// Subscriber is called synchronously after every mode change.
type Subscriber func(previous, current Mode)

// Context holds the process-wide mode and persists it to a store tier.
type Context struct {
	store kv.Store

	mu      sync.RWMutex
	current Mode

	subMu  sync.Mutex
	subs   map[int]Subscriber
	nextID int
}

// New loads the persisted mode. Anything unreadable or unrecognized falls
// back to Personal.
func New(ctx context.Context, store kv.Store) *Context {
	if store == nil {
		store = kv.NewInMemoryStore()
	}
	c := &Context{
		store:   store,
		current: Default,
		subs:    map[int]Subscriber{},
	}

	b, ok, err := store.Get(ctx, Key)
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("Could not read persisted mode, using default")
	case !ok:
	default:
		if m := Mode(strings.TrimSpace(string(b))); m.Valid() {
			c.current = m
		} else {
			log.Debug().Str("value", string(b)).Msg("Ignoring unrecognized persisted mode")
		}
	}
	return c
}

func (c *Context) Current() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set switches the mode, persists it and notifies subscribers before
// returning. Setting the current mode again is a no-op.
func (c *Context) Set(ctx context.Context, next Mode) error {
	if !next.Valid() {
		return errors.Wrapf(ErrInvalidMode, "%q", string(next))
	}

	c.mu.Lock()
	previous := c.current
	if previous == next {
		c.mu.Unlock()
		return nil
	}
	c.current = next
	c.mu.Unlock()

	if err := c.store.Put(ctx, Key, []byte(next)); err != nil {
		// the in-memory switch stands; only durability is lost
		log.Warn().Err(err).Str("mode", string(next)).Msg("Could not persist mode")
	}

	log.Debug().Str("from", string(previous)).Str("to", string(next)).Msg("Mode switched")
	c.notify(previous, next)
	return nil
}

// Subscribe registers fn and returns a function removing it again.
func (c *Context) Subscribe(fn Subscriber) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Context) notify(previous, current Mode) {
	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(previous, current)
	}
}
