package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

type ClaimStore struct {
	db *pgxpool.Pool
}

func NewClaimStore(db *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{db: db}
}

func (s *ClaimStore) Create(ctx context.Context, c *domain.Claim) error {
	var embedding *pgvector.Vector
	if len(c.Embedding) > 0 {
		v := pgvector.NewVector(c.Embedding)
		embedding = &v
	}

	return s.db.QueryRow(ctx,
		`INSERT INTO claims (tenant_id, author_id, assertion, confidence, evidence, sector, metric, regime, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		c.TenantID, c.AuthorID, c.Assertion, c.Confidence, c.Evidence,
		c.Context.Sector, c.Context.Metric, c.Context.Regime, embedding,
	).Scan(&c.ID, &c.CreatedAt)
}

func (s *ClaimStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Claim, error) {
	c := &domain.Claim{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, author_id, assertion, confidence, evidence, sector, metric, regime, superseded_by, created_at
		 FROM claims WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.AuthorID, &c.Assertion, &c.Confidence, &c.Evidence,
		&c.Context.Sector, &c.Context.Metric, &c.Context.Regime, &c.SupersededBy, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// MarkSuperseded records the revision link. This is the only write a claim
// row ever receives after creation.
func (s *ClaimStore) MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE claims SET superseded_by = $2 WHERE id = $1 AND superseded_by IS NULL`,
		id, successorID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ClaimStore) FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, threshold float32, limit int) ([]domain.ClaimWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, author_id, assertion, confidence, evidence, sector, metric, regime, superseded_by, created_at,
		        1 - (embedding <=> $2) AS score
		 FROM claims
		 WHERE tenant_id = $1 AND embedding IS NOT NULL AND 1 - (embedding <=> $2) >= $3
		 ORDER BY embedding <=> $2
		 LIMIT $4`,
		tenantID, vec, threshold, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.ClaimWithScore
	for rows.Next() {
		var c domain.ClaimWithScore
		if err := rows.Scan(&c.ID, &c.TenantID, &c.AuthorID, &c.Assertion, &c.Confidence, &c.Evidence,
			&c.Context.Sector, &c.Context.Metric, &c.Context.Regime, &c.SupersededBy, &c.CreatedAt, &c.Score); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *ClaimStore) Delete(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM claims WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
