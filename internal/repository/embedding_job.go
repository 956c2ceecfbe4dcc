package repository

import (
	"context"
	"time"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const claimBatchSize = 10

type EmbeddingJobRepository struct {
	db dbtx
}

func NewEmbeddingJobRepository(pool *pgxpool.Pool) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: pool}
}

func NewEmbeddingJobRepositoryWithTx(tx pgx.Tx) *EmbeddingJobRepository {
	return &EmbeddingJobRepository{db: tx}
}

func (r *EmbeddingJobRepository) Create(ctx context.Context, job *domain.EmbeddingJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO embedding_jobs (id, knowledge_id, status, retries, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.KnowledgeID, job.Status, job.Retries, nullableString(job.Error), job.CreatedAt,
	)
	return err
}

// ClaimPending marks up to limit pending jobs as processing and returns them.
// SKIP LOCKED keeps concurrent workers from claiming the same rows.
func (r *EmbeddingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.EmbeddingJob, error) {
	if limit <= 0 {
		limit = claimBatchSize
	}
	rows, err := r.db.Query(ctx,
		`UPDATE embedding_jobs SET status = $1
		 WHERE id IN (
		     SELECT id FROM embedding_jobs
		     WHERE status = $2
		     ORDER BY created_at ASC
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, knowledge_id, status, retries, error, created_at, processed_at`,
		domain.EmbeddingJobStatusProcessing, domain.EmbeddingJobStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.EmbeddingJob
	for rows.Next() {
		var job domain.EmbeddingJob
		var errMsg *string
		if err := rows.Scan(&job.ID, &job.KnowledgeID, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
			return nil, err
		}
		if errMsg != nil {
			job.Error = *errMsg
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (r *EmbeddingJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.EmbeddingJobStatusCompleted || status == domain.EmbeddingJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}
	_, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, jobID,
	)
	return err
}

func (r *EmbeddingJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE embedding_jobs SET retries = retries + 1 WHERE id = $1`,
		jobID,
	)
	return err
}

// GetPendingJobs satisfies the worker's repository interface.
func (r *EmbeddingJobRepository) GetPendingJobs(ctx context.Context) ([]*domain.EmbeddingJob, error) {
	return r.ClaimPending(ctx, claimBatchSize)
}

// UpdateJobStatus satisfies the worker's repository interface.
func (r *EmbeddingJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status domain.EmbeddingJobStatus, errMsg string) error {
	return r.UpdateStatus(ctx, jobID, status, errMsg)
}
