package conversation

import (
	"context"
	"strings"

	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Send appends text as a pending user message and delivers it.
//
// With conversationID == DraftID a conversation is created first and the
// draft messages move into it. On success the message is marked sent and the
// assistant's reply is inserted right after it. On failure the message stays
// in place, marked failed, and the error is returned. The returned local id
// addresses the user message in either case.
func (s *Synchronizer) Send(ctx context.Context, text string, conversationID int64) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	s.mu.Lock()
	if conversationID != DraftID && !s.knownLocked(conversationID) {
		s.mu.Unlock()
		return "", errors.Wrapf(ErrUnknownConversation, "%d", conversationID)
	}
	m := &Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        text,
		CreatedAt:      s.now(),
		Status:         StatusPending,
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	localID := m.LocalID
	s.commit(events.NewMessageEvent(events.EventTypeMessageAppended, s.meta(), conversationID, localID, string(RoleUser), string(StatusPending), ""))

	return localID, s.deliver(ctx, localID)
}

// Retry re-sends a failed user message in place.
func (s *Synchronizer) Retry(ctx context.Context, localID string) error {
	s.mu.Lock()
	m, cid, _ := s.findMessageLocked(localID)
	if m == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownMessage, "%s", localID)
	}
	if m.Role != RoleUser || m.Status != StatusFailed {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotRetryable, "%s", localID)
	}
	m.Status = StatusPending
	m.Error = ""
	s.commit(events.NewMessageEvent(events.EventTypeMessageStatus, s.meta(), cid, localID, string(RoleUser), string(StatusPending), ""))

	return s.deliver(ctx, localID)
}

func (s *Synchronizer) deliver(ctx context.Context, localID string) error {
	s.mu.Lock()
	m, cid, _ := s.findMessageLocked(localID)
	if m == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownMessage, "%s", localID)
	}
	text := m.Content
	s.mu.Unlock()

	if cid == DraftID {
		var err error
		cid, err = s.createFromDraft(ctx)
		if err != nil {
			s.fail(localID, err)
			return err
		}
	}

	req := api.ChatRequest{Message: text, Mode: s.currentMode().String(), ConversationID: &cid}
	resp, err := s.backend.Chat(ctx, req)
	if err != nil {
		s.fail(localID, err)
		return err
	}

	s.mu.Lock()
	m, bucket, idx := s.findMessageLocked(localID)
	if m == nil {
		// conversation was deleted while the call was in flight
		s.mu.Unlock()
		return nil
	}

	evs := []events.Event{}
	target := bucket
	if resp.ConversationID != 0 && resp.ConversationID != bucket {
		evs = append(evs, s.reconcileLocked(bucket, resp.ConversationID))
		target = resp.ConversationID
		m, _, idx = s.findMessageLocked(localID)
	}

	m.Status = StatusSent
	m.Error = ""
	s.confirmLocked(m)

	reply := &Message{
		LocalID:          uuid.NewString(),
		ConversationID:   target,
		Role:             RoleAssistant,
		Content:          resp.Response,
		CreatedAt:        s.now(),
		Status:           StatusSent,
		RequiresApproval: resp.RequiresApproval,
		ProposedAction:   resp.ProposedAction,
		Sources:          resp.Sources,
	}
	if reply.RequiresApproval {
		reply.Approval = ApprovalPending
	}
	s.confirmLocked(reply)

	msgs := s.messages[target]
	msgs = append(msgs, nil)
	copy(msgs[idx+2:], msgs[idx+1:])
	msgs[idx+1] = reply
	s.messages[target] = msgs

	if i := s.indexLocked(target); i >= 0 {
		s.conversations[i].UpdatedAt = s.now()
		s.moveToFrontLocked(target)
	}

	meta := s.meta()
	evs = append(evs,
		events.NewMessageEvent(events.EventTypeMessageStatus, meta, target, localID, string(RoleUser), string(StatusSent), ""),
		events.NewMessageEvent(events.EventTypeMessageAppended, meta, target, reply.LocalID, string(RoleAssistant), string(StatusSent), ""),
	)
	s.commit(evs...)

	log.Debug().
		Int64("conversation_id", target).
		Str("local_id", localID).
		Bool("requires_approval", resp.RequiresApproval).
		Msg("Message delivered")
	return nil
}

// createFromDraft creates a conversation for the draft bucket and moves the
// draft messages into it. Concurrent deliveries from the draft share one call;
// the shared call ignores the cancellation of the caller that started it.
func (s *Synchronizer) createFromDraft(ctx context.Context) (int64, error) {
	userID, ok := s.userID(ctx)
	if !ok {
		return 0, ErrNotAuthenticated
	}
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.draftCreate.Do("draft", func() (interface{}, error) {
		conv, err := s.backend.CreateConversation(shared, api.CreateConversationRequest{UserID: userID})
		if err != nil {
			return int64(0), err
		}

		c := fromAPIConversation(conv)
		s.mu.Lock()
		if !s.knownLocked(c.ID) {
			s.insertFrontLocked(c)
		}
		s.confirmed[conversationKey(c.ID)] = s.nextSeqLocked()
		for _, dm := range s.messages[DraftID] {
			dm.ConversationID = c.ID
		}
		s.messages[c.ID] = append(s.messages[c.ID], s.messages[DraftID]...)
		delete(s.messages, DraftID)
		s.active = c.ID
		meta := s.meta()
		s.commit(
			events.NewConversationEvent(events.EventTypeConversationCreated, meta, c.ID, c.Title),
			events.NewConversationEvent(events.EventTypeActiveConversation, meta, c.ID, c.Title),
		)
		return c.ID, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// reconcileLocked moves everything known under id from to the id the server
// answered with.
func (s *Synchronizer) reconcileLocked(from, to int64) events.Event {
	log.Debug().Int64("from", from).Int64("to", to).Msg("Reconciling conversation id")

	for _, m := range s.messages[from] {
		m.ConversationID = to
	}
	s.messages[to] = append(s.messages[to], s.messages[from]...)
	delete(s.messages, from)

	if st, ok := s.messageStates[from]; ok {
		if _, exists := s.messageStates[to]; !exists {
			s.messageStates[to] = st
		}
		delete(s.messageStates, from)
	}
	s.messageGens[to]++
	delete(s.messageGens, from)

	title := ""
	fi, ti := s.indexLocked(from), s.indexLocked(to)
	switch {
	case fi >= 0 && ti >= 0:
		title = s.conversations[ti].Title
		s.conversations = append(s.conversations[:fi], s.conversations[fi+1:]...)
	case fi >= 0:
		s.conversations[fi].ID = to
		title = s.conversations[fi].Title
	case ti >= 0:
		title = s.conversations[ti].Title
	default:
		s.insertFrontLocked(&Conversation{ID: to, Title: "New Chat", CreatedAt: s.now()})
		title = "New Chat"
	}
	s.confirmed[conversationKey(to)] = s.nextSeqLocked()

	if s.active == from {
		s.active = to
	}

	ev := events.NewConversationEvent(events.EventTypeConversationReconciled, s.meta(), to, title)
	ev.PreviousID = from
	return ev
}

func (s *Synchronizer) fail(localID string, err error) {
	s.mu.Lock()
	m, cid, _ := s.findMessageLocked(localID)
	if m == nil {
		s.mu.Unlock()
		return
	}
	m.Status = StatusFailed
	m.Error = gateway.MessageOf(err)
	log.Debug().Err(err).Int64("conversation_id", cid).Str("local_id", localID).Msg("Message delivery failed")
	s.commit(events.NewMessageEvent(events.EventTypeMessageStatus, s.meta(), cid, localID, string(m.Role), string(StatusFailed), m.Error))
}

func (s *Synchronizer) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}
