package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReviewStore struct {
	db *pgxpool.Pool
}

func NewReviewStore(db *pgxpool.Pool) *ReviewStore {
	return &ReviewStore{db: db}
}

// Create inserts the item, keeping a caller-assigned ID when one is set so
// a decision waiter can be registered before the item is visible.
func (s *ReviewStore) Create(ctx context.Context, item *domain.ReviewItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO review_items (id, tenant_id, kind, ref_id, priority, impact, uncertainty, deadline, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING enqueued_at`,
		item.ID, item.TenantID, item.Kind, item.RefID, item.Priority, item.Impact, item.Uncertainty, item.Deadline, item.State,
	).Scan(&item.EnqueuedAt)
}

func (s *ReviewStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReviewItem, error) {
	item := &domain.ReviewItem{}
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, kind, ref_id, priority, impact, uncertainty, deadline, state, reviewer_id, enqueued_at, decided_at
		 FROM review_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.TenantID, &item.Kind, &item.RefID, &item.Priority, &item.Impact,
		&item.Uncertainty, &item.Deadline, &item.State, &item.ReviewerID, &item.EnqueuedAt, &item.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *ReviewStore) Update(ctx context.Context, item *domain.ReviewItem) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE review_items
		 SET state = $2, reviewer_id = $3, decided_at = $4
		 WHERE id = $1`,
		item.ID, item.State, item.ReviewerID, item.DecidedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ReviewStore) ListPending(ctx context.Context, tenantID uuid.UUID) ([]domain.ReviewItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, kind, ref_id, priority, impact, uncertainty, deadline, state, reviewer_id, enqueued_at, decided_at
		 FROM review_items
		 WHERE tenant_id = $1 AND state IN ('pending', 'assigned')
		 ORDER BY enqueued_at`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ReviewItem
	for rows.Next() {
		var item domain.ReviewItem
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Kind, &item.RefID, &item.Priority, &item.Impact,
			&item.Uncertainty, &item.Deadline, &item.State, &item.ReviewerID, &item.EnqueuedAt, &item.DecidedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *ReviewStore) RecordDecision(ctx context.Context, d *domain.ReviewDecision) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO review_decisions (item_id, reviewer_id, verdict, winner_id, note, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ItemID, d.ReviewerID, d.Verdict, d.WinnerID, d.Note, d.DecidedAt,
	)
	return err
}
