package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quietline/quietline/internal/logging"
)

// flakyRepo wraps a MemoryRepository as a stand-in durable store whose
// connectivity can be toggled.
type flakyRepo struct {
	*MemoryRepository
	down bool
}

func (f *flakyRepo) Connected() bool { return !f.down }

func (f *flakyRepo) Status() Status {
	if f.down {
		return Status{Connected: false, State: "disconnected", Error: "simulated outage"}
	}
	return Status{Connected: true, State: "connected"}
}

func newFallbackFixture() (*FallbackRepository, *flakyRepo, *MemoryRepository) {
	durable := &flakyRepo{MemoryRepository: NewMemoryRepository()}
	memory := NewMemoryRepository()
	return NewFallbackRepository(durable, memory, logging.New("test", "error", "text")), durable, memory
}

func testUser(id, email string) *User {
	now := time.Now()
	return &User{ID: id, Email: email, PasswordHash: "x", DisplayName: id, CreatedAt: now, UpdatedAt: now}
}

func TestFallbackWritesDurableWhileConnected(t *testing.T) {
	fb, durable, memory := newFallbackFixture()
	ctx := context.Background()

	if err := fb.CreateUser(ctx, testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := durable.MemoryRepository.GetUserByEmail(ctx, "a@example.com"); err != nil {
		t.Error("user missing from durable store")
	}
	if _, err := memory.GetUserByEmail(ctx, "a@example.com"); err != ErrNotFound {
		t.Error("user leaked into memory store while durable was healthy")
	}
}

func TestFallbackWritesMemoryWhileDown(t *testing.T) {
	fb, durable, memory := newFallbackFixture()
	ctx := context.Background()

	durable.down = true
	if err := fb.CreateUser(ctx, testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create during outage: %v", err)
	}

	if _, err := memory.GetUserByEmail(ctx, "a@example.com"); err != nil {
		t.Error("user missing from memory store during outage")
	}
	if _, err := durable.MemoryRepository.GetUserByEmail(ctx, "a@example.com"); err != ErrNotFound {
		t.Error("write reached durable store during outage")
	}
}

func TestFallbackInfrastructureErrorFallsThrough(t *testing.T) {
	fb, durable, memory := newFallbackFixture()
	ctx := context.Background()

	durable.ErrorOnNextCall = errors.New("connection reset")
	if err := fb.CreateUser(ctx, testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create with failing durable: %v", err)
	}
	if _, err := memory.GetUserByEmail(ctx, "a@example.com"); err != nil {
		t.Error("write not redirected to memory on infrastructure error")
	}
}

func TestFallbackDomainErrorsPassThrough(t *testing.T) {
	fb, durable, _ := newFallbackFixture()
	ctx := context.Background()

	if err := durable.MemoryRepository.CreateUser(ctx, testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := fb.CreateUser(ctx, testUser("u2", "a@example.com"))
	if err != ErrEmailTaken {
		t.Fatalf("duplicate create error = %v, want ErrEmailTaken (no fallback)", err)
	}
}

func TestFallbackReadsConsultMemoryOnDurableMiss(t *testing.T) {
	fb, durable, memory := newFallbackFixture()
	ctx := context.Background()

	// Account registered during an outage lives only in memory.
	if err := memory.CreateUser(ctx, testUser("u1", "outage@example.com")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	durable.down = false

	user, err := fb.GetUserByEmail(ctx, "outage@example.com")
	if err != nil {
		t.Fatalf("lookup after recovery: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user ID = %q", user.ID)
	}
}

func TestFallbackNotFoundWhenBothMiss(t *testing.T) {
	fb, _, _ := newFallbackFixture()

	if _, err := fb.GetUserByEmail(context.Background(), "nobody@example.com"); err != ErrNotFound {
		t.Fatalf("lookup = %v, want ErrNotFound", err)
	}
}

func TestFallbackStatus(t *testing.T) {
	fb, durable, _ := newFallbackFixture()

	if !fb.Connected() {
		t.Error("fallback reports disconnected; memory keeps the service up")
	}

	if st := fb.Status(); !st.Connected {
		t.Errorf("status = %+v, want connected durable", st)
	}

	durable.down = true
	if st := fb.Status(); st.Connected {
		t.Errorf("status = %+v, want disconnected durable reported", st)
	}
	if !fb.Connected() {
		t.Error("fallback reports disconnected during outage")
	}
}

func TestFallbackMemoryOnly(t *testing.T) {
	memory := NewMemoryRepository()
	fb := NewFallbackRepository(nil, memory, logging.New("test", "error", "text"))
	ctx := context.Background()

	if err := fb.CreateUser(ctx, testUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := fb.GetUserByEmail(ctx, "a@example.com"); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	st := fb.Status()
	if st.Connected || st.State != "memory-only" {
		t.Errorf("status = %+v, want memory-only", st)
	}
}
