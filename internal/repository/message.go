package repository

import (
	"context"
	"errors"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db dbtx
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: pool}
}

func NewMessageRepositoryWithTx(tx pgx.Tx) *MessageRepository {
	return &MessageRepository{db: tx}
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, parent_id, role, content, status, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ConversationID, nullableString(m.ParentID), m.Role, m.Content, m.Status, m.Metadata, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	var parentID *string
	err := r.db.QueryRow(ctx,
		`SELECT id, conversation_id, parent_id, role, content, status, metadata, created_at, updated_at
		 FROM messages WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.ConversationID, &parentID, &m.Role, &m.Content, &m.Status, &m.Metadata, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	if parentID != nil {
		m.ParentID = *parentID
	}
	return &m, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, parent_id, role, content, status, metadata, created_at, updated_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// ListRecent returns the newest limit messages of a conversation in
// chronological order, which is what the model expects as history.
func (r *MessageRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, conversation_id, parent_id, role, content, status, metadata, created_at, updated_at
		 FROM (
		     SELECT id, conversation_id, parent_id, role, content, status, metadata, created_at, updated_at
		     FROM messages WHERE conversation_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func scanMessageRows(rows pgx.Rows) ([]*domain.Message, error) {
	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		var parentID *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &parentID, &m.Role, &m.Content, &m.Status, &m.Metadata, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID != nil {
			m.ParentID = *parentID
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
