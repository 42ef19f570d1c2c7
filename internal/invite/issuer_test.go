package invite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/logging"
)

func newTestIssuer(repo database.Repository) *Issuer {
	return NewIssuer(repo, logging.New("test", "error", "text"))
}

func TestCreateProducesWellFormedCode(t *testing.T) {
	issuer := newTestIssuer(database.NewMemoryRepository())

	created, err := issuer.Create(context.Background(), "user-1", "https://quietline.app")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if len(created.Code) != CodeLength {
		t.Errorf("code length = %d, want %d", len(created.Code), CodeLength)
	}
	for _, c := range created.Code {
		if !strings.ContainsRune(codeAlphabet, c) {
			t.Errorf("code %q contains %q outside the alphabet", created.Code, c)
		}
	}
	if created.Link != "https://quietline.app/invite/"+created.Code {
		t.Errorf("link = %q, want origin + /invite/ + code", created.Link)
	}

	ttl := time.Until(created.ExpiresAt)
	if ttl < TTL-time.Minute || ttl > TTL {
		t.Errorf("expiry %v from now, want about %v", ttl, TTL)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	repo := database.NewMemoryRepository()
	issuer := newTestIssuer(repo)
	ctx := context.Background()

	repo.ErrorOnNextCall = database.ErrCodeTaken
	created, err := issuer.Create(ctx, "user-1", "https://quietline.app")
	if err != nil {
		t.Fatalf("create after one collision: %v", err)
	}
	if created.Code == "" {
		t.Fatal("create returned empty code")
	}
}

func TestAcceptBindsConversation(t *testing.T) {
	repo := database.NewMemoryRepository()
	issuer := newTestIssuer(repo)
	ctx := context.Background()

	created, err := issuer.Create(ctx, "issuer", "https://quietline.app")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	convID, err := issuer.Accept(ctx, created.Code, "acceptor")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if convID == "" {
		t.Fatal("accept returned empty conversation ID")
	}

	conv, err := repo.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("conversation lookup: %v", err)
	}
	for _, member := range []string{"issuer", "acceptor"} {
		found := false
		for _, id := range conv.MemberIDs {
			if id == member {
				found = true
			}
		}
		if !found {
			t.Errorf("conversation missing member %q", member)
		}
	}

	rec, err := repo.GetInviteByCode(ctx, created.Code)
	if err != nil {
		t.Fatalf("invite lookup: %v", err)
	}
	if rec.AcceptedBy == nil || *rec.AcceptedBy != "acceptor" {
		t.Error("invite not marked accepted")
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	issuer := newTestIssuer(database.NewMemoryRepository())
	ctx := context.Background()

	created, _ := issuer.Create(ctx, "issuer", "https://quietline.app")

	first, err := issuer.Accept(ctx, created.Code, "acceptor")
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := issuer.Accept(ctx, created.Code, "acceptor")
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if first != second {
		t.Errorf("re-accept returned %q, want same conversation %q", second, first)
	}
}

func TestAcceptRejectsSelf(t *testing.T) {
	issuer := newTestIssuer(database.NewMemoryRepository())
	ctx := context.Background()

	created, _ := issuer.Create(ctx, "issuer", "https://quietline.app")

	_, err := issuer.Accept(ctx, created.Code, "issuer")
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeSelfAccept {
		t.Fatalf("self accept error = %v, want SELF_ACCEPT", err)
	}
}

func TestAcceptUnknownCode(t *testing.T) {
	issuer := newTestIssuer(database.NewMemoryRepository())

	_, err := issuer.Accept(context.Background(), "NOPE2345", "acceptor")
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeInvalidCode {
		t.Fatalf("unknown code error = %v, want INVALID_CODE", err)
	}
}

func TestAcceptExpiredCode(t *testing.T) {
	repo := database.NewMemoryRepository()
	issuer := newTestIssuer(repo)
	ctx := context.Background()

	created, _ := issuer.Create(ctx, "issuer", "https://quietline.app")

	// Advance the issuer clock past expiry.
	issuer.now = func() time.Time { return time.Now().Add(TTL + time.Hour) }

	_, err := issuer.Accept(ctx, created.Code, "acceptor")
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeInviteExpired {
		t.Fatalf("expired code error = %v, want INVITE_EXPIRED", err)
	}
}

func TestSweepExpiredRemovesOnlyExpired(t *testing.T) {
	repo := database.NewMemoryRepository()
	issuer := newTestIssuer(repo)
	ctx := context.Background()

	stale, _ := issuer.Create(ctx, "issuer", "https://quietline.app")

	issuer.now = func() time.Time { return time.Now().Add(TTL + time.Hour) }
	fresh, _ := issuer.Create(ctx, "issuer", "https://quietline.app")

	issuer.SweepExpired(ctx)

	if _, err := repo.GetInviteByCode(ctx, stale.Code); err != database.ErrNotFound {
		t.Errorf("expired invite lookup = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetInviteByCode(ctx, fresh.Code); err != nil {
		t.Errorf("live invite lookup failed: %v", err)
	}
}
