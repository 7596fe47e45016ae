package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChallengeStore struct {
	db *pgxpool.Pool
}

func NewChallengeStore(db *pgxpool.Pool) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) Create(ctx context.Context, c *domain.Challenge) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO challenges (tenant_id, claim_id, challenger_id, challenged_id, basis, required_evidence, state, level, priority, impact, snapshot_id, deadline_at, history)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		c.TenantID, c.ClaimID, c.ChallengerID, c.ChallengedID, c.Basis, c.RequiredEvidence,
		c.State, c.Level, c.Priority, c.Impact, c.SnapshotID, c.DeadlineAt, c.History,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (s *ChallengeStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Challenge, error) {
	c := &domain.Challenge{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, claim_id, challenger_id, challenged_id, basis, required_evidence, state, level, priority, impact, snapshot_id, deadline_at, history, created_at, updated_at
		 FROM challenges WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.ClaimID, &c.ChallengerID, &c.ChallengedID, &c.Basis, &c.RequiredEvidence,
		&c.State, &c.Level, &c.Priority, &c.Impact, &c.SnapshotID, &c.DeadlineAt, &c.History, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *ChallengeStore) Update(ctx context.Context, c *domain.Challenge) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE challenges
		 SET state = $2, level = $3, snapshot_id = $4, deadline_at = $5, history = $6, updated_at = NOW()
		 WHERE id = $1`,
		c.ID, c.State, c.Level, c.SnapshotID, c.DeadlineAt, c.History,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ChallengeStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]domain.Challenge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, claim_id, challenger_id, challenged_id, basis, required_evidence, state, level, priority, impact, snapshot_id, deadline_at, history, created_at, updated_at
		 FROM challenges
		 WHERE tenant_id = $1 AND state NOT IN ('resolved', 'cancelled')
		 ORDER BY created_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChallenges(rows)
}

// ListOpen spans tenants: startup rehydration restarts every live driver.
func (s *ChallengeStore) ListOpen(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, claim_id, challenger_id, challenged_id, basis, required_evidence, state, level, priority, impact, snapshot_id, deadline_at, history, created_at, updated_at
		 FROM challenges
		 WHERE state NOT IN ('resolved', 'cancelled')
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChallenges(rows)
}

func scanChallenges(rows pgx.Rows) ([]domain.Challenge, error) {
	var challenges []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.TenantID, &c.ClaimID, &c.ChallengerID, &c.ChallengedID, &c.Basis, &c.RequiredEvidence,
			&c.State, &c.Level, &c.Priority, &c.Impact, &c.SnapshotID, &c.DeadlineAt, &c.History, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}
