package conversation

import (
	"time"
)

// DraftID is the bucket holding messages typed before a conversation exists.
const DraftID int64 = 0

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the local delivery status of a message. It never leaves the client.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Approval tracks a proposed action that waits for the user's decision.
type Approval string

const (
	ApprovalNone     Approval = ""
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

type LoadState string

const (
	LoadIdle    LoadState = "idle"
	LoadLoading LoadState = "loading"
	LoadLoaded  LoadState = "loaded"
	LoadFailed  LoadState = "failed"
)

type Conversation struct {
	ID        int64
	Title     string
	OwnerID   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	// LocalID addresses the message before and after the server knows it.
	// Messages first seen in a server load use "srv-<id>".
	LocalID        string
	ID             int64
	ConversationID int64
	Role           Role
	Content        string
	CreatedAt      time.Time
	Status         Status
	Error          string

	RequiresApproval bool
	ProposedAction   map[string]interface{}
	Sources          []string
	Approval         Approval
}

// Snapshot is a deep copy of the model at one commit.
type Snapshot struct {
	Mode          string
	Conversations []Conversation
	// Messages is keyed by conversation id; DraftID holds unsent drafts.
	Messages      map[int64][]Message
	ActiveID      int64
	ListState     LoadState
	ListError     string
	MessageStates map[int64]LoadState
}

// Conversation looks up a list entry by id.
func (s Snapshot) Conversation(id int64) (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

// Message looks up a message by local id across all conversations.
func (s Snapshot) Message(localID string) (Message, bool) {
	for _, msgs := range s.Messages {
		for _, m := range msgs {
			if m.LocalID == localID {
				return m, true
			}
		}
	}
	return Message{}, false
}
