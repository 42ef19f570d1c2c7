package database

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is the in-memory Repository. It serves two roles: the
// fallback store while Postgres is unreachable, and a test double.
//
// Anything written here is lost on process restart. A registration that
// landed in memory during an outage is never reconciled into Postgres.
type MemoryRepository struct {
	// mu is exclusive even on reads: checkError clears the injected
	// error, so every call path writes.
	mu sync.Mutex

	users         map[string]*User // keyed by ID
	usersByEmail  map[string]string
	conversations map[string]*Conversation
	messages      map[string][]*Message // keyed by conversation ID
	invites       map[string]*Invite    // keyed by ID
	invitesByCode map[string]string

	// ErrorOnNextCall, when set, is returned by the next repository call
	// and then cleared. Used in tests to exercise fallback paths.
	ErrorOnNextCall error
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[string]*User),
		usersByEmail:  make(map[string]string),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		invites:       make(map[string]*Invite),
		invitesByCode: make(map[string]string),
	}
}

// Ensure MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// Reset clears all data.
func (m *MemoryRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[string]*User)
	m.usersByEmail = make(map[string]string)
	m.conversations = make(map[string]*Conversation)
	m.messages = make(map[string][]*Message)
	m.invites = make(map[string]*Invite)
	m.invitesByCode = make(map[string]string)
	m.ErrorOnNextCall = nil
}

// Ping always succeeds.
func (m *MemoryRepository) Ping(context.Context) error { return nil }

// Connected always reports true.
func (m *MemoryRepository) Connected() bool { return true }

// Status implements Repository.
func (m *MemoryRepository) Status() Status {
	return Status{Connected: true, State: "memory"}
}

// =============================================================================
// Users
// =============================================================================

func (m *MemoryRepository) CreateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, exists := m.usersByEmail[user.Email]; exists {
		return ErrEmailTaken
	}
	clone := *user
	m.users[user.ID] = &clone
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m.users[id]
	return &clone, nil
}

func (m *MemoryRepository) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

// =============================================================================
// Conversations
// =============================================================================

func (m *MemoryRepository) CreateConversation(_ context.Context, conv *Conversation, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	clone := *conv
	clone.MemberIDs = append([]string(nil), memberIDs...)
	sort.Strings(clone.MemberIDs)
	m.conversations[conv.ID] = &clone
	conv.MemberIDs = append([]string(nil), clone.MemberIDs...)
	return nil
}

func (m *MemoryRepository) FindConversationByMembers(_ context.Context, memberA, memberB string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, conv := range m.conversations {
		if containsAll(conv.MemberIDs, memberA, memberB) {
			clone := *conv
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) ListConversationsByMember(_ context.Context, userID string) ([]*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []*Conversation
	for _, conv := range m.conversations {
		if containsAll(conv.MemberIDs, userID) {
			clone := *conv
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (m *MemoryRepository) TouchConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// Messages
// =============================================================================

func (m *MemoryRepository) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	clone := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &clone)
	return nil
}

func (m *MemoryRepository) ListMessages(_ context.Context, conversationID string, since *time.Time) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	var out []*Message
	for _, msg := range m.messages[conversationID] {
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		clone := *msg
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// Invites
// =============================================================================

func (m *MemoryRepository) CreateInvite(_ context.Context, invite *Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if _, exists := m.invitesByCode[invite.Code]; exists {
		return ErrCodeTaken
	}
	clone := *invite
	m.invites[invite.ID] = &clone
	m.invitesByCode[invite.Code] = invite.ID
	return nil
}

func (m *MemoryRepository) GetInviteByCode(_ context.Context, code string) (*Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	id, ok := m.invitesByCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m.invites[id]
	return &clone, nil
}

func (m *MemoryRepository) UpdateInvite(_ context.Context, invite *Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	stored, ok := m.invites[invite.ID]
	if !ok {
		return ErrNotFound
	}
	stored.AcceptedBy = invite.AcceptedBy
	stored.ConversationID = invite.ConversationID
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) DeleteExpiredInvites(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	var n int64
	for id, invite := range m.invites {
		if invite.ExpiresAt.Before(before) && invite.AcceptedBy == nil {
			delete(m.invitesByCode, invite.Code)
			delete(m.invites, id)
			n++
		}
	}
	return n, nil
}

func containsAll(haystack []string, needles ...string) bool {
	for _, needle := range needles {
		found := false
		for _, h := range haystack {
			if h == needle {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
