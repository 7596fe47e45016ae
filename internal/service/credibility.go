package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Blend weights per the scoring model: recent window, regime-matched,
	// decayed full history.
	recentWeight     = 0.5
	regimeWeight     = 0.3
	historicalWeight = 0.2

	// Components with fewer samples than this fall back to the overall
	// participant average and are tagged low_confidence.
	minComponentSamples = 5

	// Recent window for the recency component.
	recentWindow = 30 * 24 * time.Hour

	// DefaultHalfLife controls exponential decay of the historical
	// component.
	DefaultHalfLife = 90 * 24 * time.Hour

	// Trend extrapolation kicks in above this slope magnitude and fit
	// quality, and is blended at no more than trendMaxWeight.
	trendSlopeThreshold = 0.005
	trendMinR2          = 0.6
	trendMaxWeight      = 0.3
	trendHorizon        = 7.0 // days

	// Override penalty: contextual, multiplicative.
	DefaultOverrideRateThreshold = 0.30
	overridePenaltyFactor        = 0.8

	// MaxUsableIntervalWidth is the widest confidence interval the debate
	// engine will accept before escalating straight to a human.
	MaxUsableIntervalWidth = 0.4
)

var (
	ErrNoCredibilityData  = errors.New("no credibility data for participant")
	ErrUnknownParticipant = errors.New("participant not registered")
)

// CredibilityService maintains time-decayed, context-scoped trust scores.
// Samples are append-only; the per-(participant, context) record is a
// projection refreshed on every write.
type CredibilityService struct {
	credStore        domain.CredibilityStore
	participantStore domain.ParticipantStore
	logger           *zap.Logger

	HalfLife              time.Duration
	OverrideRateThreshold float64
}

func NewCredibilityService(cs domain.CredibilityStore, ps domain.ParticipantStore, logger *zap.Logger) *CredibilityService {
	return &CredibilityService{
		credStore:             cs,
		participantStore:      ps,
		logger:                logger,
		HalfLife:              DefaultHalfLife,
		OverrideRateThreshold: DefaultOverrideRateThreshold,
	}
}

// Record appends one ground-truth accuracy observation and refreshes the
// projection for its context. Samples for unregistered participants are
// rejected, not silently accumulated.
func (s *CredibilityService) Record(ctx context.Context, tenantID uuid.UUID, participantID uuid.UUID, cctx domain.ClaimContext, accuracy float64) error {
	if _, err := s.participantStore.GetByID(ctx, participantID, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownParticipant
		}
		return fmt.Errorf("look up participant: %w", err)
	}

	sample := &domain.OutcomeSample{
		ParticipantID: participantID,
		Context:       cctx.Key(),
		Regime:        cctx.Regime,
		Accuracy:      clamp01(accuracy),
	}
	if err := s.credStore.AppendSample(ctx, sample); err != nil {
		return fmt.Errorf("append outcome sample: %w", err)
	}
	return s.refreshRecord(ctx, participantID, cctx)
}

// RecordOverride tracks whether a human reversed this participant's
// recommendation. Only the context in question is penalized.
func (s *CredibilityService) RecordOverride(ctx context.Context, participantID uuid.UUID, cctx domain.ClaimContext, overridden bool) error {
	rec, err := s.credStore.GetRecord(ctx, participantID, cctx.Key())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rec = &domain.CredibilityRecord{ParticipantID: participantID, Context: cctx.Key()}
	}
	rec.DecisionCount++
	if overridden {
		rec.OverrideCount++
	}
	if err := s.credStore.UpsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("upsert credibility record: %w", err)
	}

	s.logger.Debug("recorded override outcome",
		zap.String("participant_id", participantID.String()),
		zap.String("context", rec.Context),
		zap.Bool("overridden", overridden),
		zap.Float64("override_rate", rec.OverrideRate()))
	return nil
}

// Score computes the blended credibility score for a participant in a
// context. The returned value is always in [0,1] and always carries a
// confidence interval.
func (s *CredibilityService) Score(ctx context.Context, participantID uuid.UUID, cctx domain.ClaimContext) (domain.CredibilityScore, error) {
	all, err := s.credStore.GetAllSamples(ctx, participantID)
	if err != nil {
		return domain.CredibilityScore{}, fmt.Errorf("load samples: %w", err)
	}
	if len(all) == 0 {
		return domain.CredibilityScore{}, ErrNoCredibilityData
	}

	now := time.Now()
	key := cctx.Key()
	overall := s.overallAverage(all)

	var low []domain.ScoreComponent

	recentSamples, err := s.credStore.GetSamples(ctx, participantID, key, now.Add(-recentWindow))
	if err != nil {
		return domain.CredibilityScore{}, fmt.Errorf("load recent samples: %w", err)
	}
	recent, n := meanAccuracy(recentSamples)
	if n < minComponentSamples {
		recent = overall
		low = append(low, domain.ComponentRecent)
	}

	regime, n := s.regimeAccuracy(all, cctx.Regime)
	if n < minComponentSamples {
		regime = overall
		low = append(low, domain.ComponentRegime)
	}

	historical, n := s.decayedAccuracy(all, key, now)
	if n < minComponentSamples {
		historical = overall
		low = append(low, domain.ComponentHistorical)
	}

	value := recentWeight*recent + regimeWeight*regime + historicalWeight*historical

	// Blend a short-horizon trend extrapolation rather than letting a
	// streak move the score discontinuously.
	if extrapolated, weight, ok := s.trend(all, key, now); ok {
		value = (1-weight)*value + weight*extrapolated
	}

	// Contextual override penalty.
	if rec, err := s.credStore.GetRecord(ctx, participantID, key); err == nil {
		if rec.OverrideRate() > s.OverrideRateThreshold {
			value *= overridePenaltyFactor
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CredibilityScore{}, err
	}

	value = clamp01(value)
	sampleSize := s.contextSampleSize(all, key)
	ciLow, ciHigh := proportionCI(value, sampleSize)

	return domain.CredibilityScore{
		Value:         value,
		CILow:         ciLow,
		CIHigh:        ciHigh,
		SampleSize:    sampleSize,
		LowConfidence: low,
	}, nil
}

func (s *CredibilityService) refreshRecord(ctx context.Context, participantID uuid.UUID, cctx domain.ClaimContext) error {
	score, err := s.Score(ctx, participantID, cctx)
	if err != nil {
		return err
	}

	rec, err := s.credStore.GetRecord(ctx, participantID, cctx.Key())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		rec = &domain.CredibilityRecord{ParticipantID: participantID, Context: cctx.Key()}
	}

	all, err := s.credStore.GetAllSamples(ctx, participantID)
	if err != nil {
		return err
	}
	now := time.Now()
	recentSamples, err := s.credStore.GetSamples(ctx, participantID, cctx.Key(), now.Add(-recentWindow))
	if err != nil {
		return err
	}
	recent, _ := meanAccuracy(recentSamples)
	regime, _ := s.regimeAccuracy(all, cctx.Regime)
	historical, _ := s.decayedAccuracy(all, cctx.Key(), now)

	rec.Score = score.Value
	rec.SampleSize = score.SampleSize
	rec.ComponentScores = domain.ComponentScores{Recent: recent, Regime: regime, Historical: historical}
	return s.credStore.UpsertRecord(ctx, rec)
}

func (s *CredibilityService) overallAverage(samples []domain.OutcomeSample) float64 {
	var sum float64
	for _, sm := range samples {
		sum += sm.Accuracy
	}
	return sum / float64(len(samples))
}

func (s *CredibilityService) contextSampleSize(samples []domain.OutcomeSample, key string) int {
	n := 0
	for _, sm := range samples {
		if sm.Context == key {
			n++
		}
	}
	return n
}

func meanAccuracy(samples []domain.OutcomeSample) (float64, int) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum float64
	for _, sm := range samples {
		sum += sm.Accuracy
	}
	return sum / float64(len(samples)), len(samples)
}

func (s *CredibilityService) regimeAccuracy(samples []domain.OutcomeSample, regime string) (float64, int) {
	var sum float64
	n := 0
	for _, sm := range samples {
		if sm.Regime == regime {
			sum += sm.Accuracy
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// decayedAccuracy weights every sample in the context by exp(-age*ln2/halfLife).
func (s *CredibilityService) decayedAccuracy(samples []domain.OutcomeSample, key string, now time.Time) (float64, int) {
	var weighted, weights float64
	n := 0
	lambda := math.Ln2 / s.HalfLife.Hours()
	for _, sm := range samples {
		if sm.Context != key {
			continue
		}
		age := now.Sub(sm.RecordedAt).Hours()
		w := math.Exp(-lambda * age)
		weighted += w * sm.Accuracy
		weights += w
		n++
	}
	if weights == 0 {
		return 0, 0
	}
	return weighted / weights, n
}

// trend fits accuracy against sample age (in days) and, when the slope is
// steep and the fit is good, returns a short-horizon extrapolation plus
// the weight to blend it at.
func (s *CredibilityService) trend(samples []domain.OutcomeSample, key string, now time.Time) (value, weight float64, ok bool) {
	var xs, ys []float64
	for _, sm := range samples {
		if sm.Context != key {
			continue
		}
		xs = append(xs, now.Sub(sm.RecordedAt).Hours()/-24) // negative days ago
		ys = append(ys, sm.Accuracy)
	}
	if len(xs) < minComponentSamples {
		return 0, 0, false
	}

	slope, intercept, r2 := linearRegression(xs, ys)
	if math.Abs(slope) < trendSlopeThreshold || r2 < trendMinR2 {
		return 0, 0, false
	}

	extrapolated := clamp01(intercept + slope*trendHorizon)
	weight = trendMaxWeight * r2
	if weight > trendMaxWeight {
		weight = trendMaxWeight
	}
	return extrapolated, weight, true
}
