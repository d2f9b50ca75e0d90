package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// conversation list
	EventTypeConversationsLoaded    EventType = "conversations-loaded"
	EventTypeConversationCreated    EventType = "conversation-created"
	EventTypeConversationRenamed    EventType = "conversation-renamed"
	EventTypeConversationRenameUndo EventType = "conversation-rename-reverted"
	EventTypeConversationDeleted    EventType = "conversation-deleted"
	EventTypeConversationReconciled EventType = "conversation-reconciled"
	EventTypeActiveConversation     EventType = "active-conversation"

	// messages
	EventTypeMessagesLoaded  EventType = "messages-loaded"
	EventTypeMessageAppended EventType = "message-appended"
	EventTypeMessageStatus   EventType = "message-status"

	// human-in-the-loop approvals
	EventTypeApprovalResolved EventType = "approval-resolved"

	EventTypeLoadFailed      EventType = "load-failed"
	EventTypeInvalidated     EventType = "invalidated"
	EventTypeModeSwitched    EventType = "mode-switched"
	EventTypeActivityLoaded  EventType = "activity-loaded"
	EventTypeDashboardLoaded EventType = "dashboard-loaded"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies one committed model change.
type EventMetadata struct {
	ID   uuid.UUID `json:"id"`
	Time time.Time `json:"time"`
	Mode string    `json:"mode,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", em.ID.String())
	e.Time("time", em.Time)
	if em.Mode != "" {
		e.Str("mode", em.Mode)
	}
}

func NewEventMetadata(mode string) EventMetadata {
	return EventMetadata{
		ID:   uuid.New(),
		Time: time.Now(),
		Mode: mode,
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when decoded with NewEventFromJson
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

// EventConversation reports a change to one entry of the conversation list.
type EventConversation struct {
	EventImpl
	ConversationID int64  `json:"conversation_id"`
	Title          string `json:"title,omitempty"`
	// PreviousID is set when a local id was reconciled to the server's.
	PreviousID int64 `json:"previous_id,omitempty"`
}

func NewConversationEvent(t EventType, meta EventMetadata, id int64, title string) *EventConversation {
	return &EventConversation{
		EventImpl:      EventImpl{Type_: t, Metadata_: meta},
		ConversationID: id,
		Title:          title,
	}
}

// EventMessage reports an appended message or a delivery status change.
type EventMessage struct {
	EventImpl
	ConversationID int64  `json:"conversation_id"`
	LocalID        string `json:"local_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

func NewMessageEvent(t EventType, meta EventMetadata, conversationID int64, localID, role, status, errMsg string) *EventMessage {
	return &EventMessage{
		EventImpl:      EventImpl{Type_: t, Metadata_: meta},
		ConversationID: conversationID,
		LocalID:        localID,
		Role:           role,
		Status:         status,
		Error:          errMsg,
	}
}

// EventLoad reports the outcome of a list load.
type EventLoad struct {
	EventImpl
	// Scope is "conversations", "messages" or "activity".
	Scope          string `json:"scope"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Count          int    `json:"count"`
	Error          string `json:"error,omitempty"`
}

func NewLoadEvent(t EventType, meta EventMetadata, scope string, conversationID int64, count int, errMsg string) *EventLoad {
	return &EventLoad{
		EventImpl:      EventImpl{Type_: t, Metadata_: meta},
		Scope:          scope,
		ConversationID: conversationID,
		Count:          count,
		Error:          errMsg,
	}
}

type EventModeSwitch struct {
	EventImpl
	From string `json:"from"`
	To   string `json:"to"`
}

func NewModeSwitchEvent(meta EventMetadata, from, to string) *EventModeSwitch {
	return &EventModeSwitch{
		EventImpl: EventImpl{Type_: EventTypeModeSwitched, Metadata_: meta},
		From:      from,
		To:        to,
	}
}

type EventApproval struct {
	EventImpl
	ConversationID int64  `json:"conversation_id"`
	LocalID        string `json:"local_id"`
	Approval       string `json:"approval"`
}

func NewApprovalEvent(meta EventMetadata, conversationID int64, localID, approval string) *EventApproval {
	return &EventApproval{
		EventImpl:      EventImpl{Type_: EventTypeApprovalResolved, Metadata_: meta},
		ConversationID: conversationID,
		LocalID:        localID,
		Approval:       approval,
	}
}

// NewEventFromJson decodes a published payload back into its typed event.
func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, err
	}

	var ret Event
	switch hdr.Type {
	case EventTypeConversationCreated, EventTypeConversationRenamed, EventTypeConversationRenameUndo,
		EventTypeConversationDeleted, EventTypeConversationReconciled, EventTypeActiveConversation:
		ret = &EventConversation{}
	case EventTypeMessageAppended, EventTypeMessageStatus:
		ret = &EventMessage{}
	case EventTypeConversationsLoaded, EventTypeMessagesLoaded, EventTypeActivityLoaded,
		EventTypeDashboardLoaded, EventTypeLoadFailed, EventTypeInvalidated:
		ret = &EventLoad{}
	case EventTypeModeSwitched:
		ret = &EventModeSwitch{}
	case EventTypeApprovalResolved:
		ret = &EventApproval{}
	default:
		return nil, fmt.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, err
	}
	ret.(interface{ setPayload([]byte) }).setPayload(b)
	return ret, nil
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
