package store

import (
	"context"
	"errors"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SnapshotStore struct {
	db *pgxpool.Pool
}

func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Create(ctx context.Context, snap *domain.MemorySnapshot) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO memory_snapshots (tenant_id, participants, topic, entries, shared_version)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, captured_at`,
		snap.TenantID, snap.Participants, snap.Topic, snap.Entries, snap.SharedVersion,
	).Scan(&snap.ID, &snap.CapturedAt)
}

func (s *SnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MemorySnapshot, error) {
	snap := &domain.MemorySnapshot{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, participants, topic, entries, shared_version, captured_at, released_at
		 FROM memory_snapshots WHERE id = $1`,
		id,
	).Scan(&snap.ID, &snap.TenantID, &snap.Participants, &snap.Topic, &snap.Entries, &snap.SharedVersion, &snap.CapturedAt, &snap.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}

func (s *SnapshotStore) Release(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_snapshots SET released_at = $2 WHERE id = $1 AND released_at IS NULL`,
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
