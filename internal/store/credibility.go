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

type CredibilityStore struct {
	db *pgxpool.Pool
}

func NewCredibilityStore(db *pgxpool.Pool) *CredibilityStore {
	return &CredibilityStore{db: db}
}

func (s *CredibilityStore) AppendSample(ctx context.Context, sample *domain.OutcomeSample) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO outcome_samples (participant_id, context, regime, accuracy)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, recorded_at`,
		sample.ParticipantID, sample.Context, sample.Regime, sample.Accuracy,
	).Scan(&sample.ID, &sample.RecordedAt)
}

func (s *CredibilityStore) GetSamples(ctx context.Context, participantID uuid.UUID, contextKey string, since time.Time) ([]domain.OutcomeSample, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, participant_id, context, regime, accuracy, recorded_at
		 FROM outcome_samples
		 WHERE participant_id = $1 AND context = $2 AND recorded_at >= $3
		 ORDER BY recorded_at`,
		participantID, contextKey, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (s *CredibilityStore) GetAllSamples(ctx context.Context, participantID uuid.UUID) ([]domain.OutcomeSample, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, participant_id, context, regime, accuracy, recorded_at
		 FROM outcome_samples
		 WHERE participant_id = $1
		 ORDER BY recorded_at`,
		participantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows pgx.Rows) ([]domain.OutcomeSample, error) {
	var samples []domain.OutcomeSample
	for rows.Next() {
		var s domain.OutcomeSample
		if err := rows.Scan(&s.ID, &s.ParticipantID, &s.Context, &s.Regime, &s.Accuracy, &s.RecordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (s *CredibilityStore) UpsertRecord(ctx context.Context, r *domain.CredibilityRecord) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO credibility_records (participant_id, context, score, sample_size, recent_score, regime_score, historical_score, override_count, decision_count, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (participant_id, context) DO UPDATE
		 SET score = EXCLUDED.score,
		     sample_size = EXCLUDED.sample_size,
		     recent_score = EXCLUDED.recent_score,
		     regime_score = EXCLUDED.regime_score,
		     historical_score = EXCLUDED.historical_score,
		     override_count = EXCLUDED.override_count,
		     decision_count = EXCLUDED.decision_count,
		     last_updated = NOW()
		 RETURNING last_updated`,
		r.ParticipantID, r.Context, r.Score, r.SampleSize,
		r.ComponentScores.Recent, r.ComponentScores.Regime, r.ComponentScores.Historical,
		r.OverrideCount, r.DecisionCount,
	).Scan(&r.LastUpdated)
}

func (s *CredibilityStore) GetRecord(ctx context.Context, participantID uuid.UUID, contextKey string) (*domain.CredibilityRecord, error) {
	r := &domain.CredibilityRecord{}
	err := s.db.QueryRow(ctx,
		`SELECT participant_id, context, score, sample_size, recent_score, regime_score, historical_score, override_count, decision_count, last_updated
		 FROM credibility_records
		 WHERE participant_id = $1 AND context = $2`,
		participantID, contextKey,
	).Scan(&r.ParticipantID, &r.Context, &r.Score, &r.SampleSize,
		&r.ComponentScores.Recent, &r.ComponentScores.Regime, &r.ComponentScores.Historical,
		&r.OverrideCount, &r.DecisionCount, &r.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}
