package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/rs/zerolog/log"
)

// ListConversations loads the user's conversations in the order the service
// returns them. When a newer load or a mode switch happened while the call
// was in flight, the response is dropped and nil is returned.
func (s *Synchronizer) ListConversations(ctx context.Context, userID int64) error {
	s.mu.Lock()
	s.listGen++
	gen := s.listGen
	issuedAt := s.seq
	s.listState = LoadLoading
	s.commit()

	list, err := s.backend.ListConversations(ctx, userID)

	s.mu.Lock()
	if gen != s.listGen {
		s.mu.Unlock()
		log.Debug().Uint64("generation", gen).Msg("Discarding stale conversation list")
		return nil
	}
	if err != nil {
		s.listState = LoadFailed
		s.listError = gateway.MessageOf(err)
		s.commit(events.NewLoadEvent(events.EventTypeLoadFailed, s.meta(), "conversations", 0, 0, s.listError))
		return err
	}

	s.applyListLocked(list.Conversations, issuedAt)
	s.listState = LoadLoaded
	s.listError = ""
	n := len(s.conversations)
	s.commit(events.NewLoadEvent(events.EventTypeConversationsLoaded, s.meta(), "conversations", 0, n, ""))
	return nil
}

// applyListLocked replaces the list with the server's, keeping entries that
// were created locally after the load was issued and titles of renames
// still in flight.
func (s *Synchronizer) applyListLocked(remote []api.Conversation, issuedAt uint64) {
	old := map[int64]*Conversation{}
	for _, c := range s.conversations {
		old[c.ID] = c
	}

	next := make([]*Conversation, 0, len(remote))
	seen := map[int64]bool{}
	for i := range remote {
		if seen[remote[i].ID] {
			continue
		}
		seen[remote[i].ID] = true
		c := fromAPIConversation(&remote[i])
		if prev, ok := old[c.ID]; ok && s.renaming[c.ID] > 0 {
			s.titles[c.ID] = c.Title
			c.Title = prev.Title
		}
		next = append(next, c)
	}

	// newer local entries stay on top
	fresh := []*Conversation{}
	for _, c := range s.conversations {
		if seen[c.ID] {
			continue
		}
		if s.confirmed[conversationKey(c.ID)] > issuedAt {
			fresh = append(fresh, c)
			continue
		}
		delete(s.messages, c.ID)
		delete(s.messageStates, c.ID)
		delete(s.messageGens, c.ID)
	}
	s.conversations = append(fresh, next...)

	if s.active != DraftID && !s.knownLocked(s.active) {
		s.active = DraftID
	}
}

// Refresh reloads the conversation list of the signed-in user.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	userID, ok := s.userID(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	return s.ListConversations(ctx, userID)
}

// LoadMessages fetches the messages of a conversation and merges them with
// local state. Pending and failed messages are never dropped, nor are
// messages confirmed after the load was issued. Calling it repeatedly is safe.
func (s *Synchronizer) LoadMessages(ctx context.Context, conversationID int64) error {
	if conversationID == DraftID {
		return nil
	}

	s.mu.Lock()
	if !s.knownLocked(conversationID) {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	s.messageGens[conversationID]++
	gen := s.messageGens[conversationID]
	issuedAt := s.seq
	s.messageStates[conversationID] = LoadLoading
	s.commit()

	remote, err := s.backend.ListMessages(ctx, conversationID)

	s.mu.Lock()
	if gen != s.messageGens[conversationID] || !s.knownLocked(conversationID) {
		s.mu.Unlock()
		log.Debug().Int64("conversation_id", conversationID).Msg("Discarding stale message load")
		return nil
	}
	if err != nil {
		s.messageStates[conversationID] = LoadFailed
		msg := gateway.MessageOf(err)
		s.commit(events.NewLoadEvent(events.EventTypeLoadFailed, s.meta(), "messages", conversationID, 0, msg))
		return err
	}

	s.messages[conversationID] = s.mergeLocked(s.messages[conversationID], remote, issuedAt)
	s.messageStates[conversationID] = LoadLoaded
	n := len(s.messages[conversationID])
	s.commit(events.NewLoadEvent(events.EventTypeMessagesLoaded, s.meta(), "messages", conversationID, n, ""))
	return nil
}

// mergeLocked combines a server message list with the local one.
//
// Server messages are de-duplicated by id and ordered by created_at. Local
// messages that were confirmed by a chat call are matched to server messages
// by role and content so they keep their local id and approval state. Local
// messages the server does not know yet (pending, failed, or confirmed after
// the load was issued) follow in their local order.
func (s *Synchronizer) mergeLocked(local []*Message, remote []api.Message, issuedAt uint64) []*Message {
	byID := map[int64]*Message{}
	server := make([]*Message, 0, len(remote))
	for _, rm := range remote {
		if _, dup := byID[rm.ID]; dup {
			continue
		}
		m := &Message{
			LocalID:        fmt.Sprintf("srv-%d", rm.ID),
			ID:             rm.ID,
			ConversationID: rm.ConversationID,
			Role:           Role(rm.Role),
			Content:        rm.Content,
			CreatedAt:      rm.CreatedAt.Time,
			Status:         StatusSent,
		}
		byID[rm.ID] = m
		server = append(server, m)
	}
	sort.SliceStable(server, func(i, j int) bool {
		if server[i].CreatedAt.Equal(server[j].CreatedAt) {
			return server[i].ID < server[j].ID
		}
		return server[i].CreatedAt.Before(server[j].CreatedAt)
	})

	claimed := map[int64]bool{}
	match := func(m *Message) *Message {
		if m.ID != 0 {
			if sm, ok := byID[m.ID]; ok && !claimed[m.ID] {
				return sm
			}
			return nil
		}
		for _, sm := range server {
			if !claimed[sm.ID] && sm.Role == m.Role && sm.Content == m.Content {
				return sm
			}
		}
		return nil
	}

	kept := []*Message{}
	for _, m := range local {
		if m.Status == StatusPending || m.Status == StatusFailed {
			kept = append(kept, m)
			continue
		}
		if sm := match(m); sm != nil {
			claimed[sm.ID] = true
			sm.LocalID = m.LocalID
			sm.RequiresApproval = m.RequiresApproval
			sm.ProposedAction = m.ProposedAction
			sm.Sources = m.Sources
			sm.Approval = m.Approval
			continue
		}
		if s.confirmed[m.LocalID] > issuedAt {
			kept = append(kept, m)
		}
	}

	return append(server, kept...)
}

// Invalidate returns every load to Idle and discards responses of loads in
// flight. Loaded data stays in place until the next load replaces it.
func (s *Synchronizer) Invalidate() {
	s.invalidate(events.NewLoadEvent(events.EventTypeInvalidated, s.meta(), "all", 0, 0, ""))
}

func (s *Synchronizer) invalidate(ev events.Event) {
	s.mu.Lock()
	s.listGen++
	s.listState = LoadIdle
	s.listError = ""
	for id := range s.messageStates {
		s.messageGens[id]++
		s.messageStates[id] = LoadIdle
	}
	s.commit(ev)
}

func conversationKey(id int64) string {
	return fmt.Sprintf("conv-%d", id)
}

// Reset forgets every conversation and message, e.g. after sign-out. Loads in
// flight are discarded.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.listGen++
	for id := range s.messageGens {
		s.messageGens[id]++
	}
	s.conversations = nil
	s.messages = map[int64][]*Message{}
	s.messageStates = map[int64]LoadState{}
	s.confirmed = map[string]uint64{}
	s.titles = map[int64]string{}
	s.titleTokens = map[int64]uint64{}
	s.active = DraftID
	s.listState = LoadIdle
	s.listError = ""
	s.commit(events.NewLoadEvent(events.EventTypeInvalidated, s.meta(), "all", 0, 0, ""))
}
