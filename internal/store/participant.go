package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ParticipantStore struct {
	db *pgxpool.Pool
}

func NewParticipantStore(db *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{db: db}
}

func (s *ParticipantStore) Create(ctx context.Context, p *domain.Participant) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO participants (tenant_id, external_id, name, kind)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		p.TenantID, p.ExternalID, p.Name, p.Kind,
	).Scan(&p.ID, &p.CreatedAt)
}

func (s *ParticipantStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, external_id, name, kind, created_at
		 FROM participants WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.ExternalID, &p.Name, &p.Kind, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *ParticipantStore) GetByExternalID(ctx context.Context, externalID string, tenantID uuid.UUID) (*domain.Participant, error) {
	p := &domain.Participant{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, external_id, name, kind, created_at
		 FROM participants WHERE external_id = $1 AND tenant_id = $2`,
		externalID, tenantID,
	).Scan(&p.ID, &p.TenantID, &p.ExternalID, &p.Name, &p.Kind, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}
