package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/streamline-ai/chatrelay/internal/chatstore"
)

// Store implements chatstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create chatstore directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK(role IN ('user','assistant')),
	content TEXT NOT NULL DEFAULT '',
	reasoning TEXT,
	job_id TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(title, created_at, updated_at) VALUES(?, ?, ?)`, title, now, now)
	if err != nil {
		return chatstore.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chatstore.Conversation{}, err
	}
	return chatstore.Conversation{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetConversation returns the conversation with its messages in order.
func (s *Store) GetConversation(ctx context.Context, id int64) (chatstore.Conversation, error) {
	var conv chatstore.Conversation
	row := s.db.QueryRowContext(ctx, `
SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chatstore.Conversation{}, chatstore.ErrConversationNotFound
		}
		return chatstore.Conversation{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, reasoning, job_id, created_at
FROM messages WHERE conversation_id = ? ORDER BY id`, id)
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
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chatstore.Message{}, chatstore.ErrConversationNotFound
		}
		return chatstore.Message{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO messages(conversation_id, role, content, created_at) VALUES(?, ?, ?, ?)`,
		conversationID, role, content, now)
	if err != nil {
		return chatstore.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chatstore.Message{}, err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	return chatstore.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}, nil
}

// SetMessageJob links a placeholder assistant message to its generation
// job for reconnection support.
func (s *Store) SetMessageJob(ctx context.Context, messageID int64, jobID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET job_id = ? WHERE id = ?`, jobID, messageID)
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
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ?, reasoning = ? WHERE id = ?`,
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
