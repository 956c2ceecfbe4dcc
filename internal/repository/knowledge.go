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
	"github.com/pgvector/pgvector-go"
)

type KnowledgeRepository struct {
	db dbtx
}

func NewKnowledgeRepository(pool *pgxpool.Pool) *KnowledgeRepository {
	return &KnowledgeRepository{db: pool}
}

func NewKnowledgeRepositoryWithTx(tx pgx.Tx) *KnowledgeRepository {
	return &KnowledgeRepository{db: tx}
}

func (r *KnowledgeRepository) Create(ctx context.Context, k *domain.KnowledgeItem) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_items (id, parent_id, title, description, kind, content, file_ref, metadata, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		k.ID, nullableString(k.ParentID), k.Title, k.Description, k.Kind, k.Content, nullableString(k.FileRef), k.Metadata, k.CreatedBy, k.CreatedAt, k.UpdatedAt,
	)
	return err
}

func (r *KnowledgeRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	var k domain.KnowledgeItem
	var parentID, fileRef *string
	var embedding *pgvector.Vector
	err := r.db.QueryRow(ctx,
		`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, embedding, processed_at, created_by, created_at, updated_at
		 FROM knowledge_items WHERE id = $1`,
		id,
	).Scan(&k.ID, &parentID, &k.Title, &k.Description, &k.Kind, &k.Content, &fileRef, &k.Metadata, &embedding, &k.ProcessedAt, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrKnowledgeNotFound
		}
		return nil, err
	}
	if parentID != nil {
		k.ParentID = *parentID
	}
	if fileRef != nil {
		k.FileRef = *fileRef
	}
	if embedding != nil {
		k.Embedding = embedding.Slice()
	}
	return &k, nil
}

func (r *KnowledgeRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.KnowledgePageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, processed_at, created_by, created_at, updated_at
			 FROM knowledge_items
			 WHERE parent_id IS NULL AND (updated_at, id) < ($1, $2)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, processed_at, created_by, created_at, updated_at
			 FROM knowledge_items
			 WHERE parent_id IS NULL
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanKnowledgeRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.UpdatedAt)
	}

	return &service.KnowledgePageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func (r *KnowledgeRepository) ListChildren(ctx context.Context, parentID string) ([]*domain.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, processed_at, created_by, created_at, updated_at
		 FROM knowledge_items WHERE parent_id = $1 ORDER BY created_at ASC, id ASC`,
		parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

func (r *KnowledgeRepository) ListRecent(ctx context.Context, limit int) ([]*domain.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, processed_at, created_by, created_at, updated_at
		 FROM knowledge_items
		 WHERE parent_id IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// ListWithEmbeddings returns every item carrying an embedding, including
// chunk children. Scoring happens in the service layer.
func (r *KnowledgeRepository) ListWithEmbeddings(ctx context.Context) ([]*domain.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, embedding, processed_at, created_by, created_at, updated_at
		 FROM knowledge_items WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.KnowledgeItem
	for rows.Next() {
		var k domain.KnowledgeItem
		var parentID, fileRef *string
		var embedding pgvector.Vector
		if err := rows.Scan(&k.ID, &parentID, &k.Title, &k.Description, &k.Kind, &k.Content, &fileRef, &k.Metadata, &embedding, &k.ProcessedAt, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID != nil {
			k.ParentID = *parentID
		}
		if fileRef != nil {
			k.FileRef = *fileRef
		}
		k.Embedding = embedding.Slice()
		results = append(results, &k)
	}
	return results, rows.Err()
}

// SearchKeyword runs a Postgres full-text query over title, description, and
// content.
func (r *KnowledgeRepository) SearchKeyword(ctx context.Context, query string, limit int) ([]*domain.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, parent_id, title, description, kind, content, file_ref, metadata, processed_at, created_by, created_at, updated_at
		 FROM knowledge_items
		 WHERE to_tsvector('english', title || ' ' || coalesce(description, '') || ' ' || coalesce(content, '')) @@ plainto_tsquery('english', $1)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKnowledgeRows(rows)
}

// Update persists the full mutable state of an item, embedding included, so a
// service-side embedding invalidation reaches the stored row.
func (r *KnowledgeRepository) Update(ctx context.Context, k *domain.KnowledgeItem) error {
	var embedding any
	if k.Embedding != nil {
		embedding = pgvector.NewVector(k.Embedding)
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_items
		 SET title = $1, description = $2, content = $3, file_ref = $4, metadata = $5, embedding = $6, processed_at = $7, updated_at = $8
		 WHERE id = $9`,
		k.Title, k.Description, k.Content, nullableString(k.FileRef), k.Metadata, embedding, k.ProcessedAt, k.UpdatedAt, k.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

func (r *KnowledgeRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_items WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

// UpdateEmbedding stores a freshly generated embedding and stamps the item as
// processed.
func (r *KnowledgeRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	now := time.Now().UTC()
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET embedding = $1, processed_at = $2, updated_at = $3 WHERE id = $4`,
		pgvector.NewVector(embedding), now, now, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrKnowledgeNotFound
	}
	return nil
}

func scanKnowledgeRows(rows pgx.Rows) ([]*domain.KnowledgeItem, error) {
	var results []*domain.KnowledgeItem
	for rows.Next() {
		var k domain.KnowledgeItem
		var parentID, fileRef *string
		if err := rows.Scan(&k.ID, &parentID, &k.Title, &k.Description, &k.Kind, &k.Content, &fileRef, &k.Metadata, &k.ProcessedAt, &k.CreatedBy, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID != nil {
			k.ParentID = *parentID
		}
		if fileRef != nil {
			k.FileRef = *fileRef
		}
		results = append(results, &k)
	}
	return results, rows.Err()
}
