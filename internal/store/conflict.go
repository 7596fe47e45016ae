package store

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConflictStore records pairs of critical writes that collided inside a
// snapshot window. Both versions stay in the shared store; the conflict
// row is what routes the pair to a human.
type ConflictStore struct {
	db *pgxpool.Pool
}

func NewConflictStore(db *pgxpool.Pool) *ConflictStore {
	return &ConflictStore{db: db}
}

func (s *ConflictStore) Create(ctx context.Context, c *domain.MemoryConflict) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO memory_conflicts (snapshot_id, key, first_id, second_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, detected_at`,
		c.SnapshotID, c.Key, c.FirstID, c.SecondID,
	).Scan(&c.ID, &c.DetectedAt)
}

func (s *ConflictStore) ListUnresolved(ctx context.Context) ([]domain.MemoryConflict, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, snapshot_id, key, first_id, second_id, resolved_at, detected_at
		 FROM memory_conflicts
		 WHERE resolved_at IS NULL
		 ORDER BY detected_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []domain.MemoryConflict
	for rows.Next() {
		var c domain.MemoryConflict
		if err := rows.Scan(&c.ID, &c.SnapshotID, &c.Key, &c.FirstID, &c.SecondID, &c.ResolvedAt, &c.DetectedAt); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *ConflictStore) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_conflicts SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
