package repository

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/corvid-labs/corvid/internal/pagination"
	"github.com/corvid-labs/corvid/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository struct {
	db dbtx
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: pool}
}

func NewConversationRepositoryWithTx(tx pgx.Tx) *ConversationRepository {
	return &ConversationRepository{db: tx}
}

func (r *ConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.UserID, c.Title, c.MessageCount, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, title, message_count, created_at, updated_at, deleted_at
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) ListByUserWithCursor(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) (*service.ConversationPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, title, message_count, created_at, updated_at, deleted_at
			 FROM conversations
			 WHERE user_id = $1 AND deleted_at IS NULL AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			userID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, user_id, title, message_count, created_at, updated_at, deleted_at
			 FROM conversations
			 WHERE user_id = $1 AND deleted_at IS NULL
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			userID, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(conversations) > limit
	if hasMore {
		conversations = conversations[:limit]
	}

	var nextCursor string
	if hasMore && len(conversations) > 0 {
		last := conversations[len(conversations)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &service.ConversationPageResult{
		Items:      conversations,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *ConversationRepository) Update(ctx context.Context, c *domain.Conversation) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		c.Title, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// IncrementMessageCount bumps the counter in a single statement so concurrent
// turns never lose an update.
func (r *ConversationRepository) IncrementMessageCount(ctx context.Context, id string, delta int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE conversations SET message_count = message_count + $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		delta, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE conversations SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		deletedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
