package database

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced by repository implementations.
var (
	// ErrNotFound is returned when a queried entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmailTaken is returned when a user insert hits the email
	// uniqueness constraint.
	ErrEmailTaken = errors.New("email already registered")

	// ErrCodeTaken is returned when an invite insert hits the code
	// uniqueness constraint. Callers retry with a fresh code.
	ErrCodeTaken = errors.New("invite code already exists")
)

// Repository is the persistence contract shared by the durable Postgres
// store and the in-memory fallback.
type Repository interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// Conversations. Find-or-create between two members is a membership
	// query followed by an insert, not a transaction; concurrent
	// first-contact requests can in principle create duplicates.
	CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error
	FindConversationByMembers(ctx context.Context, memberA, memberB string) (*Conversation, error)
	ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]*Message, error)

	// Invites
	CreateInvite(ctx context.Context, invite *Invite) error
	GetInviteByCode(ctx context.Context, code string) (*Invite, error)
	UpdateInvite(ctx context.Context, invite *Invite) error
	DeleteExpiredInvites(ctx context.Context, before time.Time) (int64, error)

	// Liveness
	Ping(ctx context.Context) error
	Connected() bool
	Status() Status
}
