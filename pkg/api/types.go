package api

import (
	"github.com/go-go-golems/velocity/pkg/credentials"
)

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// UserUpdate only sends the fields that are set.
type UserUpdate struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
}

// User is returned by login, signup and profile updates.
type User struct {
	ID        int64     `json:"id" jsonschema:"required"`
	Email     string    `json:"email" jsonschema:"required"`
	Name      string    `json:"name,omitempty" jsonschema:"nullable"`
	Token     string    `json:"token,omitempty" jsonschema:"nullable"`
	CreatedAt Timestamp `json:"created_at" jsonschema:"nullable"`
}

// Credential converts the user into the credential that gets persisted. When
// the response carries no token, fallbackToken (the current one) is kept.
func (u *User) Credential(fallbackToken string) *credentials.Credential {
	token := u.Token
	if token == "" {
		token = fallbackToken
	}
	return &credentials.Credential{
		Token:     token,
		UserID:    u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.Time,
	}
}

type Conversation struct {
	ID        int64     `json:"id" jsonschema:"required"`
	Title     string    `json:"title" jsonschema:"required"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt Timestamp `json:"created_at" jsonschema:"nullable"`
	UpdatedAt Timestamp `json:"updated_at" jsonschema:"nullable"`
}

type ConversationList struct {
	Conversations []Conversation `json:"conversations" jsonschema:"required"`
	Total         int            `json:"total"`
}

type CreateConversationRequest struct {
	UserID int64  `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type Message struct {
	ID             int64     `json:"id" jsonschema:"required"`
	ConversationID int64     `json:"conversation_id"`
	Role           string    `json:"role" jsonschema:"required"`
	Content        string    `json:"content" jsonschema:"required"`
	CreatedAt      Timestamp `json:"created_at" jsonschema:"nullable"`
}

type ChatRequest struct {
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

type ChatResponse struct {
	Response         string                 `json:"response" jsonschema:"required"`
	ConversationID   int64                  `json:"conversation_id" jsonschema:"required"`
	RequiresApproval bool                   `json:"requires_approval"`
	ProposedAction   map[string]interface{} `json:"proposed_action,omitempty" jsonschema:"nullable"`
	Sources          []string               `json:"sources,omitempty" jsonschema:"nullable"`
}

// ActionResult answers an approve or reject of a proposed action.
type ActionResult struct {
	Status         string `json:"status" jsonschema:"required"`
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

type ActivityEntry struct {
	ID        string    `json:"id" jsonschema:"required"`
	Timestamp Timestamp `json:"timestamp"`
	Action    string    `json:"action" jsonschema:"required"`
	Source    string    `json:"source"`
	Mode      string    `json:"mode"`
	Project   string    `json:"project,omitempty" jsonschema:"nullable"`
	Details   string    `json:"details,omitempty" jsonschema:"nullable"`
}

type IntegrationStatus struct {
	Service    string    `json:"service" jsonschema:"required"`
	Connected  bool      `json:"connected" jsonschema:"required"`
	LastSynced Timestamp `json:"last_synced" jsonschema:"nullable"`
	Scopes     []string  `json:"scopes,omitempty" jsonschema:"nullable"`
}

type Health struct {
	Status  string `json:"status" jsonschema:"required"`
	Service string `json:"service"`
	AIModel string `json:"ai_model,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
