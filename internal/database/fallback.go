package database

import (
	"context"
	"errors"
	"time"

	"github.com/quietline/quietline/internal/logging"
)

// FallbackRepository routes calls to the durable store while it is
// reachable and falls back to the in-memory store otherwise. Domain errors
// (ErrNotFound, ErrEmailTaken, ErrCodeTaken) pass through untouched; only
// infrastructure failures trigger the fallback, and those are logged as
// warnings, never surfaced to the caller.
//
// Records written to memory during an outage are not reconciled into the
// durable store when it recovers. They live until process restart.
type FallbackRepository struct {
	durable Repository // nil when the service started without a database
	memory  *MemoryRepository
	logger  *logging.Logger
}

// NewFallbackRepository wraps durable (which may be nil) with an in-memory
// fallback.
func NewFallbackRepository(durable Repository, memory *MemoryRepository, logger *logging.Logger) *FallbackRepository {
	return &FallbackRepository{durable: durable, memory: memory, logger: logger}
}

var _ Repository = (*FallbackRepository)(nil)

// useDurable reports whether calls should go to the durable store.
func (f *FallbackRepository) useDurable() bool {
	return f.durable != nil && f.durable.Connected()
}

// infrastructure reports whether err is a store failure rather than a
// domain outcome.
func infrastructure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrEmailTaken) && !errors.Is(err, ErrCodeTaken)
}

func (f *FallbackRepository) warnFallback(ctx context.Context, op string, err error) {
	f.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"op": op,
	}).Warn("durable store unavailable, falling back to in-memory storage")
}

// =============================================================================
// Users
// =============================================================================

// CreateUser writes to the durable store when reachable, memory otherwise.
func (f *FallbackRepository) CreateUser(ctx context.Context, user *User) error {
	if f.useDurable() {
		err := f.durable.CreateUser(ctx, user)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "create_user", err)
	}
	return f.memory.CreateUser(ctx, user)
}

// GetUserByEmail checks the durable store first, then memory. A durable
// miss still consults memory so accounts registered during an outage keep
// working and duplicate registrations are rejected from either store.
func (f *FallbackRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if f.useDurable() {
		user, err := f.durable.GetUserByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if infrastructure(err) {
			f.warnFallback(ctx, "get_user_by_email", err)
		}
	}
	return f.memory.GetUserByEmail(ctx, email)
}

// GetUserByID checks the durable store first, then memory.
func (f *FallbackRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	if f.useDurable() {
		user, err := f.durable.GetUserByID(ctx, id)
		if err == nil {
			return user, nil
		}
		if infrastructure(err) {
			f.warnFallback(ctx, "get_user_by_id", err)
		}
	}
	return f.memory.GetUserByID(ctx, id)
}

// =============================================================================
// Conversations
// =============================================================================

func (f *FallbackRepository) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error {
	if f.useDurable() {
		err := f.durable.CreateConversation(ctx, conv, memberIDs)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "create_conversation", err)
	}
	return f.memory.CreateConversation(ctx, conv, memberIDs)
}

func (f *FallbackRepository) FindConversationByMembers(ctx context.Context, memberA, memberB string) (*Conversation, error) {
	if f.useDurable() {
		conv, err := f.durable.FindConversationByMembers(ctx, memberA, memberB)
		if err == nil {
			return conv, nil
		}
		if infrastructure(err) {
			f.warnFallback(ctx, "find_conversation", err)
		}
	}
	return f.memory.FindConversationByMembers(ctx, memberA, memberB)
}

func (f *FallbackRepository) ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error) {
	if f.useDurable() {
		convs, err := f.durable.ListConversationsByMember(ctx, userID)
		if err == nil {
			return convs, nil
		}
		f.warnFallback(ctx, "list_conversations", err)
	}
	return f.memory.ListConversationsByMember(ctx, userID)
}

func (f *FallbackRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if f.useDurable() {
		conv, err := f.durable.GetConversation(ctx, id)
		if err == nil {
			return conv, nil
		}
		if infrastructure(err) {
			f.warnFallback(ctx, "get_conversation", err)
		}
	}
	return f.memory.GetConversation(ctx, id)
}

func (f *FallbackRepository) TouchConversation(ctx context.Context, id string) error {
	if f.useDurable() {
		err := f.durable.TouchConversation(ctx, id)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "touch_conversation", err)
	}
	return f.memory.TouchConversation(ctx, id)
}

// =============================================================================
// Messages
// =============================================================================

func (f *FallbackRepository) CreateMessage(ctx context.Context, msg *Message) error {
	if f.useDurable() {
		err := f.durable.CreateMessage(ctx, msg)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "create_message", err)
	}
	return f.memory.CreateMessage(ctx, msg)
}

func (f *FallbackRepository) ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]*Message, error) {
	if f.useDurable() {
		msgs, err := f.durable.ListMessages(ctx, conversationID, since)
		if err == nil {
			return msgs, nil
		}
		f.warnFallback(ctx, "list_messages", err)
	}
	return f.memory.ListMessages(ctx, conversationID, since)
}

// =============================================================================
// Invites
// =============================================================================

func (f *FallbackRepository) CreateInvite(ctx context.Context, invite *Invite) error {
	if f.useDurable() {
		err := f.durable.CreateInvite(ctx, invite)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "create_invite", err)
	}
	return f.memory.CreateInvite(ctx, invite)
}

func (f *FallbackRepository) GetInviteByCode(ctx context.Context, code string) (*Invite, error) {
	if f.useDurable() {
		invite, err := f.durable.GetInviteByCode(ctx, code)
		if err == nil {
			return invite, nil
		}
		if infrastructure(err) {
			f.warnFallback(ctx, "get_invite", err)
		}
	}
	return f.memory.GetInviteByCode(ctx, code)
}

func (f *FallbackRepository) UpdateInvite(ctx context.Context, invite *Invite) error {
	if f.useDurable() {
		err := f.durable.UpdateInvite(ctx, invite)
		if !infrastructure(err) {
			return err
		}
		f.warnFallback(ctx, "update_invite", err)
	}
	return f.memory.UpdateInvite(ctx, invite)
}

func (f *FallbackRepository) DeleteExpiredInvites(ctx context.Context, before time.Time) (int64, error) {
	if f.useDurable() {
		n, err := f.durable.DeleteExpiredInvites(ctx, before)
		if err == nil {
			return n, nil
		}
		f.warnFallback(ctx, "delete_expired_invites", err)
	}
	return f.memory.DeleteExpiredInvites(ctx, before)
}

// =============================================================================
// Liveness
// =============================================================================

// Ping probes the durable store when configured.
func (f *FallbackRepository) Ping(ctx context.Context) error {
	if f.durable != nil {
		return f.durable.Ping(ctx)
	}
	return f.memory.Ping(ctx)
}

// Connected always reports true: the memory store keeps the service up.
func (f *FallbackRepository) Connected() bool {
	return true
}

// Status reports the durable store's connectivity, which is what the
// health surface cares about.
func (f *FallbackRepository) Status() Status {
	if f.durable != nil {
		return f.durable.Status()
	}
	return Status{Connected: false, State: "memory-only"}
}
