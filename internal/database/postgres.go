package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pqUniqueViolation is the Postgres error code for unique constraint hits.
const pqUniqueViolation = "23505"

// PostgresRepository is the durable Repository backed by Postgres.
type PostgresRepository struct {
	db        *sqlx.DB
	connected atomic.Bool
	lastError atomic.Value // string
}

// ConnectPostgres opens and migrates the database. The attempt is bounded by
// the context deadline so a dead database delays startup, never blocks it.
func ConnectPostgres(ctx context.Context, url string) (*PostgresRepository, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := &PostgresRepository{db: db}
	if err := repo.migrateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	repo.connected.Store(true)
	return repo, nil
}

func (r *PostgresRepository) migrateSchema() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(r.db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (r *PostgresRepository) Close() error {
	r.connected.Store(false)
	return r.db.Close()
}

// Ping verifies connectivity and updates the reported state.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	err := r.db.PingContext(ctx)
	if err != nil {
		r.connected.Store(false)
		r.lastError.Store(err.Error())
		return err
	}
	r.connected.Store(true)
	r.lastError.Store("")
	return nil
}

// Connected reports the last observed connectivity state.
func (r *PostgresRepository) Connected() bool {
	return r.connected.Load()
}

// Status implements Repository.
func (r *PostgresRepository) Status() Status {
	st := Status{Connected: r.Connected()}
	if st.Connected {
		st.State = "connected"
	} else {
		st.State = "disconnected"
	}
	if v, ok := r.lastError.Load().(string); ok && v != "" {
		st.Error = v
	}
	return st
}

func (r *PostgresRepository) observe(err error) error {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) {
			// Network-level failure; flip the connectivity flag so the
			// fallback layer stops routing here.
			r.connected.Store(false)
			r.lastError.Store(err.Error())
		}
	}
	return err
}

// =============================================================================
// Users
// =============================================================================

// CreateUser inserts a user, mapping the email unique index to ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *User) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, age, gender, location, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :display_name, :age, :gender, :location, :created_at, :updated_at)`,
		user)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrEmailTaken
		}
		return r.observe(fmt.Errorf("create user: %w", err))
	}
	return nil
}

// GetUserByEmail looks a user up by normalized email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("get user by email: %w", err))
	}
	return &user, nil
}

// GetUserByID looks a user up by ID.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("get user by id: %w", err))
	}
	return &user, nil
}

// =============================================================================
// Conversations
// =============================================================================

// CreateConversation inserts a conversation and its membership rows.
func (r *PostgresRepository) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return r.observe(fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, ai_enabled, started_at, updated_at)
		VALUES ($1, $2, $3, $4)`,
		conv.ID, conv.AIEnabled, conv.StartedAt, conv.UpdatedAt)
	if err != nil {
		return r.observe(fmt.Errorf("create conversation: %w", err))
	}

	for _, memberID := range memberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_members (conversation_id, user_id)
			VALUES ($1, $2)`,
			conv.ID, memberID)
		if err != nil {
			return r.observe(fmt.Errorf("add conversation member: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return r.observe(fmt.Errorf("commit conversation: %w", err))
	}
	conv.MemberIDs = append([]string(nil), memberIDs...)
	return nil
}

// FindConversationByMembers finds the conversation containing both members.
func (r *PostgresRepository) FindConversationByMembers(ctx context.Context, memberA, memberB string) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT c.id, c.ai_enabled, c.started_at, c.updated_at
		FROM conversations c
		JOIN conversation_members a ON a.conversation_id = c.id AND a.user_id = $1
		JOIN conversation_members b ON b.conversation_id = c.id AND b.user_id = $2
		LIMIT 1`,
		memberA, memberB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("find conversation by members: %w", err))
	}
	if err := r.loadMembers(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversationsByMember lists the user's conversations, most recently
// updated first.
func (r *PostgresRepository) ListConversationsByMember(ctx context.Context, userID string) ([]*Conversation, error) {
	var convs []*Conversation
	err := r.db.SelectContext(ctx, &convs, `
		SELECT c.id, c.ai_enabled, c.started_at, c.updated_at
		FROM conversations c
		JOIN conversation_members m ON m.conversation_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.updated_at DESC`,
		userID)
	if err != nil {
		return nil, r.observe(fmt.Errorf("list conversations: %w", err))
	}
	for _, conv := range convs {
		if err := r.loadMembers(ctx, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// GetConversation looks a conversation up by ID.
func (r *PostgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := r.db.GetContext(ctx, &conv, `
		SELECT id, ai_enabled, started_at, updated_at FROM conversations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("get conversation: %w", err))
	}
	if err := r.loadMembers(ctx, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// TouchConversation bumps the conversation's updated_at.
func (r *PostgresRepository) TouchConversation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return r.observe(fmt.Errorf("touch conversation: %w", err))
	}
	return nil
}

func (r *PostgresRepository) loadMembers(ctx context.Context, conv *Conversation) error {
	err := r.db.SelectContext(ctx, &conv.MemberIDs, `
		SELECT user_id FROM conversation_members WHERE conversation_id = $1 ORDER BY user_id`,
		conv.ID)
	if err != nil {
		return r.observe(fmt.Errorf("load conversation members: %w", err))
	}
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// CreateMessage inserts a message.
func (r *PostgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, text, kind, hide_from_ai, warning_shown, sent_at, created_at)
		VALUES (:id, :conversation_id, :sender_id, :text, :kind, :hide_from_ai, :warning_shown, :sent_at, :created_at)`,
		msg)
	if err != nil {
		return r.observe(fmt.Errorf("create message: %w", err))
	}
	return nil
}

// ListMessages returns a conversation's messages in ascending creation
// order, optionally only those created after since.
func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID string, since *time.Time) ([]*Message, error) {
	var msgs []*Message
	var err error
	if since != nil {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE conversation_id = $1 AND created_at > $2
			ORDER BY created_at ASC`,
			conversationID, *since)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at ASC`,
			conversationID)
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("list messages: %w", err))
	}
	return msgs, nil
}

// =============================================================================
// Invites
// =============================================================================

// CreateInvite inserts an invite, mapping the code unique index to
// ErrCodeTaken so the issuer can retry with a fresh code.
func (r *PostgresRepository) CreateInvite(ctx context.Context, invite *Invite) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO invites (id, code, created_by, accepted_by, conversation_id, expires_at, created_at, updated_at)
		VALUES (:id, :code, :created_by, :accepted_by, :conversation_id, :expires_at, :created_at, :updated_at)`,
		invite)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrCodeTaken
		}
		return r.observe(fmt.Errorf("create invite: %w", err))
	}
	return nil
}

// GetInviteByCode looks an invite up by code.
func (r *PostgresRepository) GetInviteByCode(ctx context.Context, code string) (*Invite, error) {
	var invite Invite
	err := r.db.GetContext(ctx, &invite, `SELECT * FROM invites WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("get invite: %w", err))
	}
	return &invite, nil
}

// UpdateInvite persists acceptance fields.
func (r *PostgresRepository) UpdateInvite(ctx context.Context, invite *Invite) error {
	invite.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE invites
		SET accepted_by = :accepted_by, conversation_id = :conversation_id, updated_at = :updated_at
		WHERE id = :id`,
		invite)
	if err != nil {
		return r.observe(fmt.Errorf("update invite: %w", err))
	}
	return nil
}

// DeleteExpiredInvites removes invites past their expiry.
func (r *PostgresRepository) DeleteExpiredInvites(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM invites WHERE expires_at < $1 AND accepted_by IS NULL`, before)
	if err != nil {
		return 0, r.observe(fmt.Errorf("delete expired invites: %w", err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}
