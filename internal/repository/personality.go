package repository

import (
	"context"
	"errors"

	"github.com/corvid-labs/corvid/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PersonalityRepository persists the single active personality profile. The
// table is keyed on a fixed slot so Replace is an upsert.
type PersonalityRepository struct {
	db dbtx
}

func NewPersonalityRepository(pool *pgxpool.Pool) *PersonalityRepository {
	return &PersonalityRepository{db: pool}
}

func NewPersonalityRepositoryWithTx(tx pgx.Tx) *PersonalityRepository {
	return &PersonalityRepository{db: tx}
}

func (r *PersonalityRepository) Get(ctx context.Context) (*domain.Personality, error) {
	var p domain.Personality
	err := r.db.QueryRow(ctx,
		`SELECT name, description, system_prompt, metadata, last_built_at
		 FROM personalities WHERE slot = $1`,
		domain.PersonalitySingletonKey,
	).Scan(&p.Name, &p.Description, &p.SystemPrompt, &p.Metadata, &p.LastBuiltAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPersonalityNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PersonalityRepository) Replace(ctx context.Context, p *domain.Personality) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO personalities (slot, name, description, system_prompt, metadata, last_built_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (slot) DO UPDATE SET
		     name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     system_prompt = EXCLUDED.system_prompt,
		     metadata = EXCLUDED.metadata,
		     last_built_at = EXCLUDED.last_built_at`,
		domain.PersonalitySingletonKey, p.Name, p.Description, p.SystemPrompt, p.Metadata, p.LastBuiltAt,
	)
	return err
}
