package repository

import (
	"context"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FeedbackRepository struct {
	db dbtx
}

func NewFeedbackRepository(pool *pgxpool.Pool) *FeedbackRepository {
	return &FeedbackRepository{db: pool}
}

func NewFeedbackRepositoryWithTx(tx pgx.Tx) *FeedbackRepository {
	return &FeedbackRepository{db: tx}
}

func (r *FeedbackRepository) Create(ctx context.Context, f *domain.Feedback) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO feedback (id, message_id, user_id, rating, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.MessageID, f.UserID, f.Rating, nullableString(f.Comment), f.CreatedAt,
	)
	return err
}

func (r *FeedbackRepository) ListByMessage(ctx context.Context, messageID string) ([]*domain.Feedback, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, message_id, user_id, rating, comment, created_at
		 FROM feedback WHERE message_id = $1
		 ORDER BY created_at ASC, id ASC`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFeedbackRows(rows)
}

func scanFeedbackRows(rows pgx.Rows) ([]*domain.Feedback, error) {
	var results []*domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var comment *string
		if err := rows.Scan(&f.ID, &f.MessageID, &f.UserID, &f.Rating, &comment, &f.CreatedAt); err != nil {
			return nil, err
		}
		if comment != nil {
			f.Comment = *comment
		}
		results = append(results, &f)
	}
	return results, rows.Err()
}
