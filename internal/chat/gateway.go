// Package chat is the thin conversation/message gateway. It authorizes
// writes against verified identity; the interesting state machines live in
// admission, auth, invite, and provider.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
)

// Partner is the other member of a conversation, shaped for list views.
type Partner struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ConversationView is a conversation with its partner expanded.
type ConversationView struct {
	*database.Conversation
	Partner *Partner `json:"partner"`
}

// Gateway exposes conversation and message CRUD over the repository.
type Gateway struct {
	repo   database.Repository
	logger *logging.Logger
}

// NewGateway creates a conversation gateway.
func NewGateway(repo database.Repository, logger *logging.Logger) *Gateway {
	return &Gateway{repo: repo, logger: logger}
}

// ListConversations returns the user's conversations, most recently
// updated first, with the partner expanded where resolvable.
func (g *Gateway) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	convs, err := g.repo.ListConversationsByMember(ctx, userID)
	if err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		view := ConversationView{Conversation: conv}
		for _, memberID := range conv.MemberIDs {
			if memberID == userID {
				continue
			}
			if user, err := g.repo.GetUserByID(ctx, memberID); err == nil {
				view.Partner = &Partner{ID: user.ID, Name: user.DisplayName, Email: user.Email}
			}
			break
		}
		views = append(views, view)
	}
	return views, nil
}

// EnsureConversation finds or creates the conversation between the user
// and partner. The find and the create are not transactional.
func (g *Gateway) EnsureConversation(ctx context.Context, userID, partnerID string, aiEnabled *bool) (*database.Conversation, error) {
	conv, err := g.repo.FindConversationByMembers(ctx, userID, partnerID)
	if err == nil {
		return conv, nil
	}
	if err != database.ErrNotFound {
		return nil, errors.Internal("Failed to create conversation", err)
	}

	now := time.Now()
	conv = &database.Conversation{
		ID:        uuid.New().String(),
		AIEnabled: aiEnabled == nil || *aiEnabled,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := g.repo.CreateConversation(ctx, conv, []string{userID, partnerID}); err != nil {
		return nil, errors.Internal("Failed to create conversation", err)
	}
	return conv, nil
}

// ListMessages returns a conversation's messages in ascending creation
// order, optionally only those after since.
func (g *Gateway) ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]*database.Message, error) {
	msgs, err := g.repo.ListMessages(ctx, conversationID, since)
	if err != nil {
		return nil, errors.Internal("Failed to list messages", err)
	}
	return msgs, nil
}

// SendMessage appends a message. The sender must be a member of the
// conversation; the conversation's updated_at is bumped on success.
func (g *Gateway) SendMessage(ctx context.Context, senderID, conversationID, text string, flags database.MessageFlags) (*database.Message, error) {
	conv, err := g.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if err == database.ErrNotFound {
			return nil, errors.NotFound("Conversation")
		}
		return nil, errors.Internal("Failed to send message", err)
	}

	member := false
	for _, id := range conv.MemberIDs {
		if id == senderID {
			member = true
			break
		}
	}
	if !member {
		return nil, errors.Forbidden("Not a member")
	}

	now := time.Now()
	msg := &database.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Kind:           "text",
		HideFromAI:     flags.HideFromAI,
		WarningShown:   flags.WarningShown,
		SentAt:         now,
		CreatedAt:      now,
	}
	if err := g.repo.CreateMessage(ctx, msg); err != nil {
		return nil, errors.Internal("Failed to send message", err)
	}

	if err := g.repo.TouchConversation(ctx, conversationID); err != nil {
		g.logger.WithContext(ctx).WithError(err).Warn("failed to touch conversation")
	}
	return msg, nil
}
