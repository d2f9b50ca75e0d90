package conversation

import (
	"context"
	"strings"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// CreateConversation creates a conversation explicitly, puts it at the top of
// the list and selects it. An empty title lets the service pick one.
func (s *Synchronizer) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	userID, ok := s.userID(ctx)
	if !ok {
		return Conversation{}, ErrNotAuthenticated
	}

	conv, err := s.backend.CreateConversation(ctx, api.CreateConversationRequest{
		UserID: userID,
		Title:  strings.TrimSpace(title),
	})
	if err != nil {
		return Conversation{}, err
	}

	c := fromAPIConversation(conv)
	s.mu.Lock()
	if !s.knownLocked(c.ID) {
		s.insertFrontLocked(c)
	}
	s.confirmed[conversationKey(c.ID)] = s.nextSeqLocked()
	s.active = c.ID
	ret := *c
	meta := s.meta()
	s.commit(
		events.NewConversationEvent(events.EventTypeConversationCreated, meta, c.ID, c.Title),
		events.NewConversationEvent(events.EventTypeActiveConversation, meta, c.ID, c.Title),
	)
	return ret, nil
}

// Select makes id the active conversation. DraftID clears the selection.
func (s *Synchronizer) Select(id int64) error {
	s.mu.Lock()
	if id != DraftID && !s.knownLocked(id) {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownConversation, "%d", id)
	}
	if s.active == id {
		s.mu.Unlock()
		return nil
	}
	s.active = id
	s.commit(events.NewConversationEvent(events.EventTypeActiveConversation, s.meta(), id, ""))
	return nil
}

// RenameConversation shows the new title immediately. Once the last rename
// of a conversation settles, the list shows the newest title the service
// confirmed: the one it answered with, or on failure the title from before
// the failed renames.
func (s *Synchronizer) RenameConversation(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownConversation, "%d", id)
	}
	if s.renaming[id] == 0 {
		s.titles[id] = s.conversations[i].Title
	}
	s.renames[id]++
	token := s.renames[id]
	s.renaming[id]++
	s.conversations[i].Title = title
	s.commit(events.NewConversationEvent(events.EventTypeConversationRenamed, s.meta(), id, title))

	updated, err := s.backend.UpdateConversation(ctx, id, api.UpdateConversationRequest{Title: title})

	s.mu.Lock()
	s.renaming[id]--
	if s.renaming[id] <= 0 {
		delete(s.renaming, id)
	}
	i = s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return err
	}

	// an older success never overrides a newer one
	if err == nil && token > s.titleTokens[id] {
		s.titles[id] = updated.Title
		s.titleTokens[id] = token
		if !updated.UpdatedAt.IsZero() {
			s.conversations[i].UpdatedAt = updated.UpdatedAt.Time
		}
	}

	latest := s.renames[id] == token
	settled := s.renaming[id] == 0
	if !latest && !settled {
		s.mu.Unlock()
		return err
	}

	confirmed := s.titles[id]
	s.conversations[i].Title = confirmed
	if err != nil {
		log.Debug().Err(err).Int64("conversation_id", id).Str("title", confirmed).Msg("Rename failed, restoring title")
		s.commit(events.NewConversationEvent(events.EventTypeConversationRenameUndo, s.meta(), id, confirmed))
		return err
	}
	s.commit(events.NewConversationEvent(events.EventTypeConversationRenamed, s.meta(), id, confirmed))
	return nil
}

// DeleteConversation deletes remotely first. On success the entry, its
// messages and a selection pointing at it disappear in one update.
func (s *Synchronizer) DeleteConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	known := s.knownLocked(id)
	s.mu.Unlock()
	if !known {
		return errors.Wrapf(ErrUnknownConversation, "%d", id)
	}

	if err := s.backend.DeleteConversation(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	}
	for _, m := range s.messages[id] {
		delete(s.confirmed, m.LocalID)
	}
	delete(s.messages, id)
	delete(s.messageStates, id)
	delete(s.messageGens, id)
	delete(s.confirmed, conversationKey(id))
	delete(s.titles, id)
	delete(s.titleTokens, id)
	if s.active == id {
		s.active = DraftID
	}
	s.commit(events.NewConversationEvent(events.EventTypeConversationDeleted, s.meta(), id, ""))
	return nil
}

// ResolveAction approves or rejects the action an assistant message proposed.
// On success the decision is recorded and the service's confirmation is
// appended; on failure the approval stays pending.
func (s *Synchronizer) ResolveAction(ctx context.Context, localID string, approve bool) error {
	s.mu.Lock()
	m, cid, _ := s.findMessageLocked(localID)
	if m == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownMessage, "%s", localID)
	}
	if m.Role != RoleAssistant || !m.RequiresApproval || m.Approval != ApprovalPending {
		s.mu.Unlock()
		return errors.Wrapf(ErrNoPendingApproval, "%s", localID)
	}
	s.mu.Unlock()

	var res *api.ActionResult
	var err error
	if approve {
		res, err = s.backend.ApproveAction(ctx, cid)
	} else {
		res, err = s.backend.RejectAction(ctx, cid)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	m, cid, _ = s.findMessageLocked(localID)
	if m == nil {
		s.mu.Unlock()
		return nil
	}
	decision := ApprovalRejected
	if approve {
		decision = ApprovalApproved
	}
	m.Approval = decision

	meta := s.meta()
	evs := []events.Event{events.NewApprovalEvent(meta, cid, localID, string(decision))}
	if res.Message != "" {
		confirmation := &Message{
			LocalID:        uuid.NewString(),
			ConversationID: cid,
			Role:           RoleAssistant,
			Content:        res.Message,
			CreatedAt:      s.now(),
			Status:         StatusSent,
		}
		s.confirmLocked(confirmation)
		s.messages[cid] = append(s.messages[cid], confirmation)
		evs = append(evs, events.NewMessageEvent(events.EventTypeMessageAppended, meta, cid, confirmation.LocalID, string(RoleAssistant), string(StatusSent), ""))
	}
	s.commit(evs...)
	return nil
}
