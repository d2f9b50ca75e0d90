// Package conversation keeps the local conversation list and message
// sequences consistent with the remote service.
//
// All state lives behind one mutex that is never held across a remote call.
// Every operation applies its optimistic step, releases the lock, talks to the
// service and re-acquires the lock to commit. Concurrent calls are resolved by
// load generations and the message merge rule, not by mutual exclusion.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/credentials"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Backend is the slice of the remote contract the synchronizer drives.
// *api.Client implements it.
type Backend interface {
	ListConversations(ctx context.Context, userID int64) (*api.ConversationList, error)
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (*api.Conversation, error)
	UpdateConversation(ctx context.Context, id int64, req api.UpdateConversationRequest) (*api.Conversation, error)
	DeleteConversation(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, conversationID int64) ([]api.Message, error)
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	ApproveAction(ctx context.Context, conversationID int64) (*api.ActionResult, error)
	RejectAction(ctx context.Context, conversationID int64) (*api.ActionResult, error)
}

// Identity yields the signed-in user.
type Identity interface {
	Resolve(ctx context.Context) (*credentials.Credential, bool)
}

// ModeSource is the process-wide mode selector.
type ModeSource interface {
	Current() mode.Mode
	Subscribe(fn mode.Subscriber) func()
}

type Option func(*Synchronizer)

// WithSink publishes every committed change to sink.
func WithSink(sink events.EventSink) Option {
	return func(s *Synchronizer) {
		s.sinks = append(s.sinks, sink)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

type notification struct {
	snapshot Snapshot
	events   []events.Event
}

type Synchronizer struct {
	backend  Backend
	identity Identity
	modes    ModeSource
	sinks    []events.EventSink
	now      func() time.Time

	unsubscribeMode func()
	draftCreate     singleflight.Group

	mu            sync.Mutex
	conversations []*Conversation
	messages      map[int64][]*Message
	active        int64
	listState     LoadState
	listError     string
	listGen       uint64
	messageStates map[int64]LoadState
	messageGens   map[int64]uint64
	// seq orders confirmations against load issue points
	seq       uint64
	confirmed map[string]uint64
	renames   map[int64]uint64
	renaming  map[int64]int
	// titles holds the last title the service confirmed, per conversation
	titles      map[int64]string
	titleTokens map[int64]uint64
	pending     []notification

	// notifyMu serializes delivery only; subscribers are guarded by subMu
	notifyMu    sync.Mutex
	subMu       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

func New(backend Backend, identity Identity, modes ModeSource, options ...Option) *Synchronizer {
	s := &Synchronizer{
		backend:       backend,
		identity:      identity,
		modes:         modes,
		now:           time.Now,
		messages:      map[int64][]*Message{},
		listState:     LoadIdle,
		messageStates: map[int64]LoadState{},
		messageGens:   map[int64]uint64{},
		confirmed:     map[string]uint64{},
		renames:       map[int64]uint64{},
		renaming:      map[int64]int{},
		titles:        map[int64]string{},
		titleTokens:   map[int64]uint64{},
		subscribers:   map[int]func(Snapshot){},
	}
	for _, o := range options {
		o(s)
	}

	if modes != nil {
		s.unsubscribeMode = modes.Subscribe(func(previous, current mode.Mode) {
			log.Debug().Str("from", previous.String()).Str("to", current.String()).Msg("Invalidating conversations after mode switch")
			s.invalidate(events.NewModeSwitchEvent(events.NewEventMetadata(current.String()), previous.String(), current.String()))
		})
	}
	return s
}

// Close detaches from the mode selector.
func (s *Synchronizer) Close() {
	if s.unsubscribeMode != nil {
		s.unsubscribeMode()
		s.unsubscribeMode = nil
	}
}

func (s *Synchronizer) currentMode() mode.Mode {
	if s.modes == nil {
		return mode.Default
	}
	return s.modes.Current()
}

func (s *Synchronizer) meta() events.EventMetadata {
	return events.NewEventMetadata(s.currentMode().String())
}

// Snapshot returns a deep copy of the current model.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:          s.currentMode().String(),
		Conversations: make([]Conversation, 0, len(s.conversations)),
		Messages:      make(map[int64][]Message, len(s.messages)),
		ActiveID:      s.active,
		ListState:     s.listState,
		ListError:     s.listError,
		MessageStates: make(map[int64]LoadState, len(s.messageStates)),
	}
	for _, c := range s.conversations {
		snap.Conversations = append(snap.Conversations, *c)
	}
	for id, msgs := range s.messages {
		if len(msgs) == 0 {
			continue
		}
		cp := make([]Message, 0, len(msgs))
		for _, m := range msgs {
			cp = append(cp, *m)
		}
		snap.Messages[id] = cp
	}
	for id, st := range s.messageStates {
		snap.MessageStates[id] = st
	}
	// slices and maps inside messages are shared until cloned
	return clone.Clone(snap).(Snapshot)
}

// Subscribe registers fn to receive a snapshot after every committed update
// and returns a function removing it. The returned function may be called
// from inside fn.
func (s *Synchronizer) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// subscribersInOrder copies the subscribers in registration order.
func (s *Synchronizer) subscribersInOrder() []func(Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ret := make([]func(Snapshot), 0, len(s.subscribers))
	for id := 0; id < s.nextSubID; id++ {
		if fn, ok := s.subscribers[id]; ok {
			ret = append(ret, fn)
		}
	}
	return ret
}

// commit queues a notification for the state as it is now and releases s.mu.
// Callers must hold s.mu.
func (s *Synchronizer) commit(evs ...events.Event) {
	s.pending = append(s.pending, notification{
		snapshot: s.snapshotLocked(),
		events:   evs,
	})
	s.mu.Unlock()
	s.drain()
}

// drain delivers queued notifications in commit order. Whoever holds notifyMu
// delivers everything queued; a subscriber that commits from inside its
// callback has its notification delivered by the outer loop.
func (s *Synchronizer) drain() {
	for {
		if !s.notifyMu.TryLock() {
			return
		}
		for {
			n, ok := s.popPending()
			if !ok {
				break
			}
			for _, fn := range s.subscribersInOrder() {
				fn(n.snapshot)
			}
			for _, ev := range n.events {
				events.PublishToSinks(s.sinks, ev)
			}
		}
		s.notifyMu.Unlock()

		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

func (s *Synchronizer) popPending() (notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return notification{}, false
	}
	n := s.pending[0]
	s.pending = s.pending[1:]
	return n, true
}

func (s *Synchronizer) userID(ctx context.Context) (int64, bool) {
	if s.identity == nil {
		return 0, false
	}
	c, ok := s.identity.Resolve(ctx)
	if !ok {
		return 0, false
	}
	return c.UserID, true
}

// Active returns the selected conversation id, DraftID when none is selected.
func (s *Synchronizer) Active() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Synchronizer) indexLocked(id int64) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) knownLocked(id int64) bool {
	return s.indexLocked(id) >= 0
}

// moveToFrontLocked moves conversation id to the head of the list.
func (s *Synchronizer) moveToFrontLocked(id int64) {
	i := s.indexLocked(id)
	if i <= 0 {
		return
	}
	c := s.conversations[i]
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = c
}

func (s *Synchronizer) insertFrontLocked(c *Conversation) {
	s.conversations = append([]*Conversation{c}, s.conversations...)
}

// findMessageLocked returns the message with its bucket and position.
func (s *Synchronizer) findMessageLocked(localID string) (*Message, int64, int) {
	for cid, msgs := range s.messages {
		for i, m := range msgs {
			if m.LocalID == localID {
				return m, cid, i
			}
		}
	}
	return nil, 0, -1
}

func (s *Synchronizer) confirmLocked(m *Message) {
	s.confirmed[m.LocalID] = s.nextSeqLocked()
}

func fromAPIConversation(c *api.Conversation) *Conversation {
	return &Conversation{
		ID:        c.ID,
		Title:     c.Title,
		OwnerID:   c.OwnerID,
		CreatedAt: c.CreatedAt.Time,
		UpdatedAt: c.UpdatedAt.Time,
	}
}
