package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SharedMemoryStore is the L3 permanent store. Every write inserts a new
// version row; nothing is updated in place, so concurrent writers never
// race on a row.
type SharedMemoryStore struct {
	db *pgxpool.Pool
}

func NewSharedMemoryStore(db *pgxpool.Pool) *SharedMemoryStore {
	return &SharedMemoryStore{db: db}
}

func (s *SharedMemoryStore) Append(ctx context.Context, e *domain.MemoryEntry) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO shared_memory (key, value, participant_id, importance, write_priority, alternative, version)
		 VALUES ($1, $2, $3, $4, $5, $6, nextval('shared_memory_version_seq'))
		 RETURNING id, version, written_at`,
		e.Key, e.Value, e.ParticipantID, e.Importance, e.WritePriority, e.Alternative,
	).Scan(&e.ID, &e.Version, &e.WrittenAt)
}

func (s *SharedMemoryStore) GetLatest(ctx context.Context, key string) (*domain.MemoryEntry, error) {
	e := &domain.MemoryEntry{}
	err := s.db.QueryRow(ctx,
		`SELECT id, key, value, participant_id, importance, write_priority, alternative, version, written_at
		 FROM shared_memory
		 WHERE key = $1 AND NOT alternative
		 ORDER BY version DESC
		 LIMIT 1`,
		key,
	).Scan(&e.ID, &e.Key, &e.Value, &e.ParticipantID, &e.Importance, &e.WritePriority, &e.Alternative, &e.Version, &e.WrittenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *SharedMemoryStore) GetSince(ctx context.Context, version int64, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, key, value, participant_id, importance, write_priority, alternative, version, written_at
		 FROM shared_memory
		 WHERE version > $1
		 ORDER BY version
		 LIMIT $2`,
		version, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SharedMemoryStore) GetByParticipant(ctx context.Context, participantID uuid.UUID, limit int) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (key) id, key, value, participant_id, importance, write_priority, alternative, version, written_at
		 FROM shared_memory
		 WHERE participant_id = $1 AND NOT alternative
		 ORDER BY key, version DESC
		 LIMIT $2`,
		participantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SharedMemoryStore) MaxVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM shared_memory`,
	).Scan(&version)
	return version, err
}

func scanEntries(rows pgx.Rows) ([]domain.MemoryEntry, error) {
	var entries []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.Value, &e.ParticipantID, &e.Importance, &e.WritePriority, &e.Alternative, &e.Version, &e.WrittenAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
