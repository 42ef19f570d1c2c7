// Package database provides the durable Postgres repository, its in-memory
// fallback, and the decorator that switches between them.
package database

import "time"

// User is a registered account. Owned exclusively by this package; created
// on registration, read on login and verification, never deleted.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	DisplayName  string    `db:"display_name" json:"name"`
	Age          *int      `db:"age" json:"age,omitempty"`
	Gender       *string   `db:"gender" json:"gender,omitempty"`
	Location     *string   `db:"location" json:"location,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Conversation is a two-member chat thread.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	AIEnabled bool      `db:"ai_enabled" json:"aiEnabled"`
	StartedAt time.Time `db:"started_at" json:"startedAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// MemberIDs is populated on reads; not a column.
	MemberIDs []string `db:"-" json:"members"`
}

// MessageFlags carry per-message client hints.
type MessageFlags struct {
	HideFromAI   bool `json:"hideFromAI"`
	WarningShown bool `json:"warningShown"`
}

// Message is a single message within a conversation.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	Text           string    `db:"text" json:"text"`
	Kind           string    `db:"kind" json:"type"`
	HideFromAI     bool      `db:"hide_from_ai" json:"-"`
	WarningShown   bool      `db:"warning_shown" json:"-"`
	SentAt         time.Time `db:"sent_at" json:"sentAt"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Flags returns the message flags in their wire shape.
func (m *Message) Flags() MessageFlags {
	return MessageFlags{HideFromAI: m.HideFromAI, WarningShown: m.WarningShown}
}

// Invite is a short-code invitation binding two users into a conversation.
// Mutated once on acceptance; immutable afterward except by expiry.
type Invite struct {
	ID             string    `db:"id" json:"id"`
	Code           string    `db:"code" json:"code"`
	CreatedBy      string    `db:"created_by" json:"createdBy"`
	AcceptedBy     *string   `db:"accepted_by" json:"acceptedBy,omitempty"`
	ConversationID *string   `db:"conversation_id" json:"conversationId,omitempty"`
	ExpiresAt      time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Status describes store connectivity for the health surface. It never
// carries credentials.
type Status struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}
