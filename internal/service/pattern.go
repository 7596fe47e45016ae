package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Promotion thresholds for candidate -> statistically_validated.
	MinValidationCorrelation  = 0.65
	MinTestCorrelation        = 0.65
	MaxPValue                 = 0.05
	MinIndependentOccurrences = 3

	// Chronological split fractions. Never random: random splits leak the
	// future into the past.
	trainFraction      = 0.70
	validationFraction = 0.15

	// A validated pattern left unreviewed this long is quarantined,
	// not promoted. Unreviewed learning is never silently trusted.
	DefaultQuarantineAfter = 48 * time.Hour

	// An active pattern whose rolling accuracy falls this far below its
	// test accuracy is demoted.
	DefaultDecayMargin = 0.10

	defaultSweepInterval = 15 * time.Minute
)

var (
	ErrPatternNotFound         = errors.New("pattern not found")
	ErrPatternNotAdvanceable   = errors.New("pattern cannot advance from its current status")
	ErrPatternNotReviewable    = errors.New("pattern is not awaiting human review")
	ErrInsufficientOccurrences = errors.New("not enough occurrences to evaluate pattern")
)

// PatternGateService drives the promotion pipeline
// candidate -> statistically_validated -> human_approved -> active, with
// fail-closed quarantine on review timeout and automatic demotion of
// decayed active patterns. Patterns are only ever status-flipped, never
// deleted.
type PatternGateService struct {
	patternStore domain.PatternStore
	reviewStore  domain.ReviewStore
	logger       *zap.Logger

	QuarantineAfter time.Duration
	DecayMargin     float64

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewPatternGateService(ps domain.PatternStore, rs domain.ReviewStore, logger *zap.Logger) *PatternGateService {
	return &PatternGateService{
		patternStore:    ps,
		reviewStore:     rs,
		logger:          logger,
		QuarantineAfter: DefaultQuarantineAfter,
		DecayMargin:     DefaultDecayMargin,
		interval:        defaultSweepInterval,
		stopCh:          make(chan struct{}),
	}
}

func (s *PatternGateService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the quarantine sweep and decay check on a periodic schedule.
func (s *PatternGateService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("pattern gate sweeper started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.SweepQuarantine(ctx); err != nil {
					s.logger.Error("quarantine sweep failed", zap.Error(err))
				}
				if err := s.CheckDecay(ctx); err != nil {
					s.logger.Error("decay check failed", zap.Error(err))
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("pattern gate sweeper stopped")
				return
			}
		}
	}()
}

func (s *PatternGateService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SubmitCandidate registers a discovered correlation as a candidate.
func (s *PatternGateService) SubmitCandidate(ctx context.Context, p *domain.Pattern) error {
	if p.Description == "" {
		return errors.New("pattern description is required")
	}
	p.Status = domain.PatternCandidate
	if err := s.patternStore.Create(ctx, p); err != nil {
		return fmt.Errorf("create pattern: %w", err)
	}
	return s.logTransition(ctx, p.ID, "", domain.PatternCandidate, nil, "submitted by discovery")
}

// RecordOccurrence appends one observation of the pattern's predicted vs
// observed behavior. Occurrence order is what the chronological split is
// built on.
func (s *PatternGateService) RecordOccurrence(ctx context.Context, o *domain.PatternOccurrence) error {
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Now()
	}
	return s.patternStore.AppendOccurrence(ctx, o)
}

// Advance attempts the candidate -> statistically_validated promotion. It
// never promotes past statistical validation; only HumanReview does that.
func (s *PatternGateService) Advance(ctx context.Context, patternID uuid.UUID, tenantID uuid.UUID) (domain.PatternStatus, error) {
	p, err := s.patternStore.GetByID(ctx, patternID, tenantID)
	if err != nil {
		return "", ErrPatternNotFound
	}
	if p.Status != domain.PatternCandidate {
		return p.Status, ErrPatternNotAdvanceable
	}

	occurrences, err := s.patternStore.GetOccurrences(ctx, patternID)
	if err != nil {
		return p.Status, fmt.Errorf("load occurrences: %w", err)
	}
	if len(occurrences) < MinIndependentOccurrences {
		return p.Status, ErrInsufficientOccurrences
	}

	eval := evaluateSplits(occurrences)
	p.Occurrences = len(occurrences)
	p.TrainAccuracy = eval.trainAccuracy
	p.ValidationAccuracy = eval.validationAccuracy
	p.TestAccuracy = eval.testAccuracy
	p.Correlation = eval.validationCorrelation
	p.PValue = eval.pValue

	if eval.validationCount < MinIndependentOccurrences ||
		eval.validationCorrelation < MinValidationCorrelation ||
		eval.testCorrelation < MinTestCorrelation ||
		eval.pValue >= MaxPValue {
		// Archived with its failing statistics, not discarded.
		if err := s.patternStore.Update(ctx, p); err != nil {
			return p.Status, err
		}
		s.logger.Info("pattern failed statistical validation",
			zap.String("pattern_id", patternID.String()),
			zap.Float64("validation_correlation", eval.validationCorrelation),
			zap.Float64("test_correlation", eval.testCorrelation),
			zap.Float64("p_value", eval.pValue))
		return p.Status, nil
	}

	now := time.Now()
	p.Status = domain.PatternValidated
	p.ValidatedAt = &now
	if err := s.patternStore.Update(ctx, p); err != nil {
		return p.Status, err
	}
	if err := s.logTransition(ctx, p.ID, domain.PatternCandidate, domain.PatternValidated, nil, "passed hold-out validation"); err != nil {
		return p.Status, err
	}

	// Statistical validation earns a seat in the human review queue,
	// nothing more.
	item := &domain.ReviewItem{
		TenantID:    tenantID,
		Kind:        domain.ReviewPattern,
		RefID:       p.ID,
		Priority:    domain.PriorityMedium,
		Uncertainty: p.PValue,
		Deadline:    now.Add(s.QuarantineAfter),
		State:       domain.ReviewPending,
	}
	if err := s.reviewStore.Create(ctx, item); err != nil {
		return p.Status, fmt.Errorf("enqueue pattern review: %w", err)
	}
	return p.Status, nil
}

// HumanReview applies an explicit human decision to a validated pattern.
// Approval is the only path to active.
func (s *PatternGateService) HumanReview(ctx context.Context, patternID uuid.UUID, tenantID uuid.UUID, verdict domain.ReviewVerdict, reviewerID uuid.UUID) (domain.PatternStatus, error) {
	p, err := s.patternStore.GetByID(ctx, patternID, tenantID)
	if err != nil {
		return "", ErrPatternNotFound
	}
	if p.Status != domain.PatternValidated {
		return p.Status, ErrPatternNotReviewable
	}

	from := p.Status
	switch verdict {
	case domain.VerdictApprove:
		p.Status = domain.PatternApproved
		p.Quarantined = false
		if err := s.patternStore.Update(ctx, p); err != nil {
			return p.Status, err
		}
		if err := s.logTransition(ctx, p.ID, from, domain.PatternApproved, &reviewerID, "human approved"); err != nil {
			return p.Status, err
		}
		// Approval activates immediately; the two states exist so the
		// audit trail records the human decision separately.
		p.Status = domain.PatternActive
		if err := s.patternStore.Update(ctx, p); err != nil {
			return p.Status, err
		}
		return p.Status, s.logTransition(ctx, p.ID, domain.PatternApproved, domain.PatternActive, &reviewerID, "activated")

	case domain.VerdictReject:
		p.Status = domain.PatternRejected
		if err := s.patternStore.Update(ctx, p); err != nil {
			return p.Status, err
		}
		return p.Status, s.logTransition(ctx, p.ID, from, domain.PatternRejected, &reviewerID, "human rejected")

	case domain.VerdictModify, domain.VerdictRequestMoreEvidence:
		// Back to candidate: the discovery side owes more evidence or a
		// reformulation before the pattern re-enters validation.
		p.Status = domain.PatternCandidate
		p.Quarantined = false
		if err := s.patternStore.Update(ctx, p); err != nil {
			return p.Status, err
		}
		return p.Status, s.logTransition(ctx, p.ID, from, domain.PatternCandidate, &reviewerID, string(verdict))

	default:
		return p.Status, fmt.Errorf("invalid review verdict: %s", verdict)
	}
}

// SweepQuarantine flags validated patterns whose review window expired.
// Status stays statistically_validated; they are simply excluded from
// decision-time use until a human rules.
func (s *PatternGateService) SweepQuarantine(ctx context.Context) error {
	patterns, err := s.patternStore.ListByStatus(ctx, domain.PatternValidated)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-s.QuarantineAfter)
	for i := range patterns {
		p := &patterns[i]
		if p.Quarantined || p.ValidatedAt == nil || p.ValidatedAt.After(cutoff) {
			continue
		}
		p.Quarantined = true
		if err := s.patternStore.Update(ctx, p); err != nil {
			s.logger.Warn("failed to quarantine pattern", zap.String("pattern_id", p.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("pattern quarantined awaiting human review",
			zap.String("pattern_id", p.ID.String()),
			zap.Time("validated_at", *p.ValidatedAt))
	}
	return nil
}

// RecordLiveOutcome updates an active pattern's rolling real-world
// accuracy.
func (s *PatternGateService) RecordLiveOutcome(ctx context.Context, patternID uuid.UUID, tenantID uuid.UUID, accuracy float64) error {
	p, err := s.patternStore.GetByID(ctx, patternID, tenantID)
	if err != nil {
		return ErrPatternNotFound
	}
	p.RollingAccuracy = (p.RollingAccuracy*float64(p.RollingSamples) + clamp01(accuracy)) / float64(p.RollingSamples+1)
	p.RollingSamples++
	return s.patternStore.Update(ctx, p)
}

// CheckDecay demotes active patterns whose live accuracy has fallen too
// far below their test accuracy, and queues them for root-cause review.
func (s *PatternGateService) CheckDecay(ctx context.Context) error {
	patterns, err := s.patternStore.ListByStatus(ctx, domain.PatternActive)
	if err != nil {
		return err
	}

	for i := range patterns {
		p := &patterns[i]
		if p.RollingSamples < MinIndependentOccurrences {
			continue
		}
		if p.RollingAccuracy >= p.TestAccuracy-s.DecayMargin {
			continue
		}

		p.Status = domain.PatternDeprecated
		if err := s.patternStore.Update(ctx, p); err != nil {
			s.logger.Warn("failed to deprecate pattern", zap.String("pattern_id", p.ID.String()), zap.Error(err))
			continue
		}
		reason := fmt.Sprintf("rolling accuracy %.2f below test accuracy %.2f - %.2f", p.RollingAccuracy, p.TestAccuracy, s.DecayMargin)
		if err := s.logTransition(ctx, p.ID, domain.PatternActive, domain.PatternDeprecated, nil, reason); err != nil {
			return err
		}

		item := &domain.ReviewItem{
			TenantID: p.TenantID,
			Kind:     domain.ReviewPattern,
			RefID:    p.ID,
			Priority: domain.PriorityHigh,
			Deadline: time.Now().Add(s.QuarantineAfter),
			State:    domain.ReviewPending,
		}
		if err := s.reviewStore.Create(ctx, item); err != nil {
			s.logger.Warn("failed to queue decay investigation", zap.String("pattern_id", p.ID.String()), zap.Error(err))
		}
		s.logger.Warn("active pattern deprecated", zap.String("pattern_id", p.ID.String()), zap.String("reason", reason))
	}
	return nil
}

func (s *PatternGateService) logTransition(ctx context.Context, patternID uuid.UUID, from, to domain.PatternStatus, actorID *uuid.UUID, reason string) error {
	t := &domain.PatternTransition{
		PatternID:  patternID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Reason:     reason,
	}
	if err := s.patternStore.AppendTransition(ctx, t); err != nil {
		return fmt.Errorf("log pattern transition: %w", err)
	}
	return nil
}

type splitEvaluation struct {
	trainAccuracy         float64
	validationAccuracy    float64
	testAccuracy          float64
	validationCorrelation float64
	testCorrelation       float64
	validationCount       int
	pValue                float64
}

// evaluateSplits partitions occurrences chronologically 70/15/15 and
// scores each slice. Occurrences arrive already ordered by occurred_at.
func evaluateSplits(occurrences []domain.PatternOccurrence) splitEvaluation {
	n := len(occurrences)
	trainEnd := int(float64(n) * trainFraction)
	validationEnd := trainEnd + int(float64(n)*validationFraction)
	if validationEnd == trainEnd && trainEnd < n {
		validationEnd = trainEnd + 1
	}

	train := occurrences[:trainEnd]
	validation := occurrences[trainEnd:validationEnd]
	test := occurrences[validationEnd:]

	eval := splitEvaluation{
		trainAccuracy:      sliceAccuracy(train),
		validationAccuracy: sliceAccuracy(validation),
		testAccuracy:       sliceAccuracy(test),
		validationCount:    len(validation),
	}

	vp, vo := sliceSeries(validation)
	eval.validationCorrelation = pearson(vp, vo)
	tp, to := sliceSeries(test)
	eval.testCorrelation = pearson(tp, to)
	eval.pValue = correlationPValue(eval.validationCorrelation, len(validation))
	return eval
}

func sliceSeries(occurrences []domain.PatternOccurrence) (predicted, observed []float64) {
	for _, o := range occurrences {
		predicted = append(predicted, o.Predicted)
		observed = append(observed, o.Observed)
	}
	return predicted, observed
}

// sliceAccuracy scores how close predictions landed to observations.
func sliceAccuracy(occurrences []domain.PatternOccurrence) float64 {
	if len(occurrences) == 0 {
		return 0
	}
	var sum float64
	for _, o := range occurrences {
		diff := o.Predicted - o.Observed
		if diff < 0 {
			diff = -diff
		}
		sum += clamp01(1 - diff)
	}
	return sum / float64(len(occurrences))
}
