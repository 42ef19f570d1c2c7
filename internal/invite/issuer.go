// Package invite issues and accepts short invitation codes binding two
// users into a conversation.
package invite

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
)

// codeAlphabet excludes visually ambiguous glyphs (I, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// CodeLength is the invite code length.
	CodeLength = 8

	// maxAttempts bounds collision retries. Exhaustion fails the request.
	maxAttempts = 6

	// TTL is the invite lifetime.
	TTL = 7 * 24 * time.Hour
)

// Created is the result of issuing an invite.
type Created struct {
	Code      string    `json:"code"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer creates and accepts invites against the repository's code
// uniqueness constraint.
type Issuer struct {
	repo   database.Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewIssuer creates an invite issuer.
func NewIssuer(repo database.Repository, logger *logging.Logger) *Issuer {
	return &Issuer{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Create issues a fresh invite for issuerID. baseURL is the externally
// visible origin used to build the shareable link. Code collisions are
// retried with a regenerated code up to the attempt bound; exhaustion
// surfaces INVITE_CREATION_FAILED.
func (i *Issuer) Create(ctx context.Context, issuerID, baseURL string) (*Created, error) {
	now := i.now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, errors.Internal("Failed to create invite", err)
		}

		rec := &database.Invite{
			ID:        uuid.New().String(),
			Code:      code,
			CreatedBy: issuerID,
			ExpiresAt: now.Add(TTL),
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = i.repo.CreateInvite(ctx, rec)
		if err == database.ErrCodeTaken {
			i.logger.WithFields(map[string]interface{}{
				"attempt": attempt + 1,
			}).Debug("invite code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, errors.Internal("Failed to create invite", err)
		}

		return &Created{
			Code:      code,
			Link:      fmt.Sprintf("%s/invite/%s", baseURL, code),
			ExpiresAt: rec.ExpiresAt,
		}, nil
	}

	return nil, errors.InviteCreationFailed()
}

// Accept redeems a code for acceptorID and returns the bound conversation
// ID. Re-accepting an already bound invite is idempotent and returns the
// same conversation.
func (i *Issuer) Accept(ctx context.Context, code, acceptorID string) (string, error) {
	rec, err := i.repo.GetInviteByCode(ctx, code)
	if err != nil {
		if err == database.ErrNotFound {
			return "", errors.InvalidCode()
		}
		return "", errors.Internal("Failed to accept invite", err)
	}

	if rec.ExpiresAt.Before(i.now()) {
		return "", errors.InviteExpired()
	}
	if rec.CreatedBy == acceptorID {
		return "", errors.SelfAccept()
	}

	conversationID := ""
	if rec.ConversationID != nil {
		conversationID = *rec.ConversationID
	} else {
		conv, err := i.ensureConversation(ctx, rec.CreatedBy, acceptorID)
		if err != nil {
			return "", err
		}
		conversationID = conv.ID
		rec.ConversationID = &conversationID
	}

	rec.AcceptedBy = &acceptorID
	if err := i.repo.UpdateInvite(ctx, rec); err != nil {
		return "", errors.Internal("Failed to accept invite", err)
	}

	return conversationID, nil
}

// ensureConversation finds or creates the conversation between the two
// users. The membership query and the insert are not transactional;
// concurrent first-contact requests can race.
func (i *Issuer) ensureConversation(ctx context.Context, issuerID, acceptorID string) (*database.Conversation, error) {
	conv, err := i.repo.FindConversationByMembers(ctx, issuerID, acceptorID)
	if err == nil {
		return conv, nil
	}
	if err != database.ErrNotFound {
		return nil, errors.Internal("Failed to accept invite", err)
	}

	now := i.now()
	conv = &database.Conversation{
		ID:        uuid.New().String(),
		AIEnabled: true,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := i.repo.CreateConversation(ctx, conv, []string{issuerID, acceptorID}); err != nil {
		return nil, errors.Internal("Failed to accept invite", err)
	}
	return conv, nil
}

// SweepExpired deletes expired unaccepted invites. cmd/server wires this
// into the cron schedule.
func (i *Issuer) SweepExpired(ctx context.Context) {
	n, err := i.repo.DeleteExpiredInvites(ctx, i.now())
	if err != nil {
		i.logger.WithError(err).Warn("expired invite sweep failed")
		return
	}
	if n > 0 {
		i.logger.WithFields(map[string]interface{}{"deleted": n}).Info("swept expired invites")
	}
}

func generateCode() (string, error) {
	out := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}
