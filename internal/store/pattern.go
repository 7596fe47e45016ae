package store

import (
	"context"
	"errors"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PatternStore struct {
	db *pgxpool.Pool
}

func NewPatternStore(db *pgxpool.Pool) *PatternStore {
	return &PatternStore{db: db}
}

const patternColumns = `id, tenant_id, description, status, occurrences, correlation, train_accuracy, validation_accuracy, test_accuracy, p_value, valid_conditions, rolling_accuracy, rolling_samples, quarantined, validated_at, evidence_claim_ids, created_at, updated_at`

func (s *PatternStore) Create(ctx context.Context, p *domain.Pattern) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO patterns (tenant_id, description, status, occurrences, correlation, valid_conditions, evidence_claim_ids)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		p.TenantID, p.Description, p.Status, p.Occurrences, p.Correlation, p.ValidConditions, p.EvidenceClaimIDs,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PatternStore) scanPattern(row pgx.Row) (*domain.Pattern, error) {
	p := &domain.Pattern{}
	err := row.Scan(&p.ID, &p.TenantID, &p.Description, &p.Status, &p.Occurrences, &p.Correlation,
		&p.TrainAccuracy, &p.ValidationAccuracy, &p.TestAccuracy, &p.PValue, &p.ValidConditions,
		&p.RollingAccuracy, &p.RollingSamples, &p.Quarantined, &p.ValidatedAt, &p.EvidenceClaimIDs,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *PatternStore) GetByID(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*domain.Pattern, error) {
	return s.scanPattern(s.db.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	))
}

func (s *PatternStore) Update(ctx context.Context, p *domain.Pattern) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE patterns
		 SET status = $2, occurrences = $3, correlation = $4, train_accuracy = $5,
		     validation_accuracy = $6, test_accuracy = $7, p_value = $8, valid_conditions = $9,
		     rolling_accuracy = $10, rolling_samples = $11, quarantined = $12, validated_at = $13,
		     updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.Status, p.Occurrences, p.Correlation, p.TrainAccuracy,
		p.ValidationAccuracy, p.TestAccuracy, p.PValue, p.ValidConditions,
		p.RollingAccuracy, p.RollingSamples, p.Quarantined, p.ValidatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PatternStore) ListByStatus(ctx context.Context, status domain.PatternStatus) ([]domain.Pattern, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE status = $1 ORDER BY created_at`,
		status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []domain.Pattern
	for rows.Next() {
		var p domain.Pattern
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Description, &p.Status, &p.Occurrences, &p.Correlation,
			&p.TrainAccuracy, &p.ValidationAccuracy, &p.TestAccuracy, &p.PValue, &p.ValidConditions,
			&p.RollingAccuracy, &p.RollingSamples, &p.Quarantined, &p.ValidatedAt, &p.EvidenceClaimIDs,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func (s *PatternStore) AppendOccurrence(ctx context.Context, o *domain.PatternOccurrence) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO pattern_occurrences (pattern_id, predicted, observed, occurred_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		o.PatternID, o.Predicted, o.Observed, o.OccurredAt,
	).Scan(&o.ID)
}

func (s *PatternStore) GetOccurrences(ctx context.Context, patternID uuid.UUID) ([]domain.PatternOccurrence, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, pattern_id, predicted, observed, occurred_at
		 FROM pattern_occurrences
		 WHERE pattern_id = $1
		 ORDER BY occurred_at`,
		patternID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occurrences []domain.PatternOccurrence
	for rows.Next() {
		var o domain.PatternOccurrence
		if err := rows.Scan(&o.ID, &o.PatternID, &o.Predicted, &o.Observed, &o.OccurredAt); err != nil {
			return nil, err
		}
		occurrences = append(occurrences, o)
	}
	return occurrences, rows.Err()
}

func (s *PatternStore) AppendTransition(ctx context.Context, t *domain.PatternTransition) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO pattern_transitions (pattern_id, from_status, to_status, actor_id, reason)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, occurred_at`,
		t.PatternID, t.FromStatus, t.ToStatus, t.ActorID, t.Reason,
	).Scan(&t.ID, &t.OccurredAt)
}

func (s *PatternStore) GetTransitions(ctx context.Context, patternID uuid.UUID) ([]domain.PatternTransition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, pattern_id, from_status, to_status, actor_id, reason, occurred_at
		 FROM pattern_transitions
		 WHERE pattern_id = $1
		 ORDER BY occurred_at`,
		patternID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []domain.PatternTransition
	for rows.Next() {
		var t domain.PatternTransition
		if err := rows.Scan(&t.ID, &t.PatternID, &t.FromStatus, &t.ToStatus, &t.ActorID, &t.Reason, &t.OccurredAt); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// CountCitations counts non-deprecated patterns citing a claim as evidence.
// Used to block claim deletion while an audit trail depends on it.
func (s *PatternStore) CountCitations(ctx context.Context, claimID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM patterns
		 WHERE evidence_claim_ids @> ARRAY[$1]::uuid[] AND status != 'deprecated'`,
		claimID,
	).Scan(&count)
	return count, err
}
