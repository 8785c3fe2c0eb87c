package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/streamline-ai/chatrelay/internal/chatstore"
)

// Store implements chatstore.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed chat store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL DEFAULT '',
	reasoning TEXT,
	job_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_job ON messages(job_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, title string) (chatstore.Conversation, error) {
	var conv chatstore.Conversation
	row := s.db.QueryRowContext(ctx, `
INSERT INTO conversations(title) VALUES($1)
RETURNING id, title, created_at, updated_at`, title)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return chatstore.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns the conversation with its messages in order.
func (s *Store) GetConversation(ctx context.Context, id int64) (chatstore.Conversation, error) {
	var conv chatstore.Conversation
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, created_at, updated_at FROM conversations WHERE id = $1`, id)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chatstore.Conversation{}, chatstore.ErrConversationNotFound
		}
		return chatstore.Conversation{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, reasoning, job_id, created_at
FROM messages WHERE conversation_id = $1 ORDER BY id`, id)
	if err != nil {
		return chatstore.Conversation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m chatstore.Message
		var reasoning, jobID sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &reasoning, &jobID, &m.CreatedAt); err != nil {
			return chatstore.Conversation{}, err
		}
		m.Reasoning = reasoning.String
		m.JobID = jobID.String
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

// AddMessage appends a message to the conversation and bumps its
// updated_at.
func (s *Store) AddMessage(ctx context.Context, conversationID int64, role, content string) (chatstore.Message, error) {
	var m chatstore.Message
	row := s.db.QueryRowContext(ctx, `
INSERT INTO messages(conversation_id, role, content)
SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $1)
RETURNING id, conversation_id, role, content, created_at`,
		conversationID, role, content)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chatstore.Message{}, chatstore.ErrConversationNotFound
		}
		return chatstore.Message{}, fmt.Errorf("insert message: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
	return m, nil
}

// SetMessageJob links a placeholder assistant message to its generation
// job.
func (s *Store) SetMessageJob(ctx context.Context, messageID int64, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET job_id = $1 WHERE id = $2`, jobID, messageID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FinalizeAssistantMessage fills in the completed text once the generation
// job reaches its terminal event.
func (s *Store) FinalizeAssistantMessage(ctx context.Context, messageID int64, content, reasoning string) error {
	var reason sql.NullString
	if reasoning != "" {
		reason = sql.NullString{String: reasoning, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = $1, reasoning = $2 WHERE id = $3`,
		content, reason, messageID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chatstore.ErrMessageNotFound
	}
	return nil
}
