package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ResolutionStore struct {
	db *pgxpool.Pool
}

func NewResolutionStore(db *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{db: db}
}

func (s *ResolutionStore) Create(ctx context.Context, r *domain.Resolution) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO resolutions (challenge_id, outcome, winner_id, resolved_at_level, resolved_by, is_provisional)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		r.ChallengeID, r.Outcome, r.WinnerID, r.ResolvedAtLevel, r.ResolvedBy, r.IsProvisional,
	).Scan(&r.ID, &r.CreatedAt)
}

// GetByChallengeID returns the most recent (non-superseded) resolution.
func (s *ResolutionStore) GetByChallengeID(ctx context.Context, challengeID uuid.UUID) (*domain.Resolution, error) {
	r := &domain.Resolution{}
	err := s.db.QueryRow(ctx,
		`SELECT id, challenge_id, outcome, winner_id, resolved_at_level, resolved_by, is_provisional, superseded_by, created_at
		 FROM resolutions
		 WHERE challenge_id = $1 AND superseded_by IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1`,
		challengeID,
	).Scan(&r.ID, &r.ChallengeID, &r.Outcome, &r.WinnerID, &r.ResolvedAtLevel, &r.ResolvedBy,
		&r.IsProvisional, &r.SupersededBy, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// MarkSuperseded links a provisional resolution to its human override. The
// original row is never otherwise mutated.
func (s *ResolutionStore) MarkSuperseded(ctx context.Context, id uuid.UUID, successorID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE resolutions SET superseded_by = $2 WHERE id = $1 AND superseded_by IS NULL`,
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

func (s *ResolutionStore) ListProvisional(ctx context.Context, tenantID uuid.UUID) ([]domain.Resolution, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.challenge_id, r.outcome, r.winner_id, r.resolved_at_level, r.resolved_by, r.is_provisional, r.superseded_by, r.created_at
		 FROM resolutions r
		 JOIN challenges c ON r.challenge_id = c.id
		 WHERE c.tenant_id = $1 AND r.is_provisional AND r.superseded_by IS NULL
		 ORDER BY r.created_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resolutions []domain.Resolution
	for rows.Next() {
		var r domain.Resolution
		if err := rows.Scan(&r.ID, &r.ChallengeID, &r.Outcome, &r.WinnerID, &r.ResolvedAtLevel, &r.ResolvedBy,
			&r.IsProvisional, &r.SupersededBy, &r.CreatedAt); err != nil {
			return nil, err
		}
		resolutions = append(resolutions, r)
	}
	return resolutions, rows.Err()
}

func (s *ResolutionStore) CreateRecomputeTask(ctx context.Context, t *domain.RecomputeTask) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO recompute_tasks (challenge_id, reason, delta)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		t.ChallengeID, t.Reason, t.Delta,
	).Scan(&t.ID, &t.CreatedAt)
}
