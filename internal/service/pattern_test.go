package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
)

type patternFixture struct {
	svc      *PatternGateService
	patterns *mockPatternStore
	reviews  *mockReviewStore
}

func newPatternFixture() *patternFixture {
	patterns := newMockPatternStore()
	reviews := newMockReviewStore()
	return &patternFixture{
		svc:      NewPatternGateService(patterns, reviews, testLogger()),
		patterns: patterns,
		reviews:  reviews,
	}
}

func submitCandidate(t *testing.T, f *patternFixture, tenantID uuid.UUID) *domain.Pattern {
	t.Helper()
	p := &domain.Pattern{TenantID: tenantID, Description: "sector rotation precedes earnings beats"}
	if err := f.svc.SubmitCandidate(context.Background(), p); err != nil {
		t.Fatalf("SubmitCandidate: %v", err)
	}
	return p
}

// recordSeries appends occurrences in chronological order with the given
// predicted/observed pairs.
func recordSeries(t *testing.T, f *patternFixture, patternID uuid.UUID, predicted, observed []float64) {
	t.Helper()
	base := time.Now().Add(-time.Duration(len(predicted)) * time.Hour)
	for i := range predicted {
		o := &domain.PatternOccurrence{
			PatternID:  patternID,
			Predicted:  predicted[i],
			Observed:   observed[i],
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := f.svc.RecordOccurrence(context.Background(), o); err != nil {
			t.Fatalf("RecordOccurrence %d: %v", i, err)
		}
	}
}

func TestAdvancePromotesOnCleanSeries(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	p := submitCandidate(t, f, tenantID)

	// 20 occurrences where predictions track observations exactly.
	var series []float64
	for i := 0; i < 20; i++ {
		series = append(series, float64(i)/20)
	}
	recordSeries(t, f, p.ID, series, series)

	status, err := f.svc.Advance(ctx, p.ID, tenantID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if status != domain.PatternValidated {
		t.Fatalf("status = %s, want %s", status, domain.PatternValidated)
	}

	updated, err := f.patterns.GetByID(ctx, p.ID, tenantID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if updated.ValidatedAt == nil {
		t.Error("ValidatedAt not set")
	}
	if updated.Occurrences != 20 {
		t.Errorf("occurrences = %d, want 20", updated.Occurrences)
	}
	if !almostEqual(updated.Correlation, 1, 1e-9) {
		t.Errorf("correlation = %v, want 1", updated.Correlation)
	}
	if updated.PValue >= MaxPValue {
		t.Errorf("p-value = %v, want < %v", updated.PValue, MaxPValue)
	}

	// Validation earns a review seat with the quarantine deadline attached.
	items := f.reviews.itemsByKind(domain.ReviewPattern)
	if len(items) != 1 {
		t.Fatalf("review items = %d, want 1", len(items))
	}
	if items[0].RefID != p.ID {
		t.Errorf("review item ref = %s, want pattern id", items[0].RefID)
	}

	transitions, _ := f.patterns.GetTransitions(ctx, p.ID)
	if len(transitions) != 2 {
		t.Fatalf("transitions = %d, want submit + validate", len(transitions))
	}
	if transitions[1].ToStatus != domain.PatternValidated {
		t.Errorf("last transition to %s, want %s", transitions[1].ToStatus, domain.PatternValidated)
	}
}

func TestAdvanceFailsOnWeakValidationSlice(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	p := submitCandidate(t, f, tenantID)

	// Clean train and test slices, but the validation slice (indices 14-16
	// of 20) is shuffled against its predictions.
	predicted := make([]float64, 20)
	observed := make([]float64, 20)
	for i := 0; i < 20; i++ {
		predicted[i] = float64(i) / 20
		observed[i] = predicted[i]
	}
	observed[14], observed[15], observed[16] = predicted[16], predicted[14], predicted[15]

	recordSeries(t, f, p.ID, predicted, observed)

	status, err := f.svc.Advance(ctx, p.ID, tenantID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if status != domain.PatternCandidate {
		t.Fatalf("status = %s, want pattern left as candidate", status)
	}

	// Failing statistics are archived on the pattern, not discarded.
	updated, _ := f.patterns.GetByID(ctx, p.ID, tenantID)
	if updated.Correlation >= MinValidationCorrelation {
		t.Errorf("archived correlation = %v, want below threshold", updated.Correlation)
	}
	if updated.Occurrences != 20 {
		t.Errorf("occurrences = %d, want 20", updated.Occurrences)
	}

	if items := f.reviews.itemsByKind(domain.ReviewPattern); len(items) != 0 {
		t.Errorf("review items = %d, want none for a failed validation", len(items))
	}
}

func TestAdvanceRequiresOccurrences(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	p := submitCandidate(t, f, tenantID)

	recordSeries(t, f, p.ID, []float64{0.1, 0.2}, []float64{0.1, 0.2})

	if _, err := f.svc.Advance(ctx, p.ID, tenantID); !errors.Is(err, ErrInsufficientOccurrences) {
		t.Errorf("Advance with 2 occurrences: err = %v, want ErrInsufficientOccurrences", err)
	}

	if _, err := f.svc.Advance(ctx, uuid.New(), tenantID); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("Advance on unknown pattern: err = %v, want ErrPatternNotFound", err)
	}
}

func validatedPattern(t *testing.T, f *patternFixture, tenantID uuid.UUID) *domain.Pattern {
	t.Helper()
	p := submitCandidate(t, f, tenantID)
	var series []float64
	for i := 0; i < 20; i++ {
		series = append(series, float64(i)/20)
	}
	recordSeries(t, f, p.ID, series, series)
	if _, err := f.svc.Advance(context.Background(), p.ID, tenantID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return p
}

func TestHumanReviewApproveActivates(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	reviewerID := uuid.New()
	p := validatedPattern(t, f, tenantID)

	status, err := f.svc.HumanReview(ctx, p.ID, tenantID, domain.VerdictApprove, reviewerID)
	if err != nil {
		t.Fatalf("HumanReview: %v", err)
	}
	if status != domain.PatternActive {
		t.Fatalf("status = %s, want %s", status, domain.PatternActive)
	}

	updated, _ := f.patterns.GetByID(ctx, p.ID, tenantID)
	if !updated.Decidable() {
		t.Error("approved pattern should be decidable")
	}

	// The audit trail records approval and activation separately.
	transitions, _ := f.patterns.GetTransitions(ctx, p.ID)
	if len(transitions) != 4 {
		t.Fatalf("transitions = %d, want 4", len(transitions))
	}
	if transitions[2].ToStatus != domain.PatternApproved || transitions[3].ToStatus != domain.PatternActive {
		t.Errorf("final transitions = %s, %s", transitions[2].ToStatus, transitions[3].ToStatus)
	}
	if transitions[2].ActorID == nil || *transitions[2].ActorID != reviewerID {
		t.Error("approval transition missing reviewer attribution")
	}
}

func TestHumanReviewRejectAndModify(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()
	reviewerID := uuid.New()

	rejected := validatedPattern(t, f, tenantID)
	status, err := f.svc.HumanReview(ctx, rejected.ID, tenantID, domain.VerdictReject, reviewerID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if status != domain.PatternRejected {
		t.Errorf("status = %s, want %s", status, domain.PatternRejected)
	}

	modified := validatedPattern(t, f, tenantID)
	status, err = f.svc.HumanReview(ctx, modified.ID, tenantID, domain.VerdictModify, reviewerID)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if status != domain.PatternCandidate {
		t.Errorf("status = %s, want back to %s", status, domain.PatternCandidate)
	}

	// Only validated patterns are reviewable.
	if _, err := f.svc.HumanReview(ctx, modified.ID, tenantID, domain.VerdictApprove, reviewerID); !errors.Is(err, ErrPatternNotReviewable) {
		t.Errorf("review of a candidate: err = %v, want ErrPatternNotReviewable", err)
	}
}

func TestSweepQuarantineFailsClosed(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()

	stale := time.Now().Add(-49 * time.Hour)
	fresh := time.Now().Add(-1 * time.Hour)

	overdue := &domain.Pattern{TenantID: tenantID, Description: "overdue", Status: domain.PatternValidated, ValidatedAt: &stale}
	recent := &domain.Pattern{TenantID: tenantID, Description: "recent", Status: domain.PatternValidated, ValidatedAt: &fresh}
	if err := f.patterns.Create(ctx, overdue); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.patterns.Create(ctx, recent); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.SweepQuarantine(ctx); err != nil {
		t.Fatalf("SweepQuarantine: %v", err)
	}

	got, _ := f.patterns.GetByID(ctx, overdue.ID, tenantID)
	if !got.Quarantined {
		t.Error("pattern past the review window was not quarantined")
	}
	if got.Status != domain.PatternValidated {
		t.Errorf("quarantine changed status to %s", got.Status)
	}
	if got.Decidable() {
		t.Error("quarantined pattern must not be decidable")
	}

	got, _ = f.patterns.GetByID(ctx, recent.ID, tenantID)
	if got.Quarantined {
		t.Error("pattern inside the review window was quarantined")
	}
}

func TestRecordLiveOutcomeRollingAverage(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()

	p := &domain.Pattern{TenantID: tenantID, Description: "live", Status: domain.PatternActive}
	if err := f.patterns.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := f.svc.RecordLiveOutcome(ctx, p.ID, tenantID, 1.0); err != nil {
		t.Fatalf("RecordLiveOutcome: %v", err)
	}
	if err := f.svc.RecordLiveOutcome(ctx, p.ID, tenantID, 0.5); err != nil {
		t.Fatalf("RecordLiveOutcome: %v", err)
	}

	got, _ := f.patterns.GetByID(ctx, p.ID, tenantID)
	if !almostEqual(got.RollingAccuracy, 0.75, 1e-9) {
		t.Errorf("rolling accuracy = %v, want 0.75", got.RollingAccuracy)
	}
	if got.RollingSamples != 2 {
		t.Errorf("rolling samples = %d, want 2", got.RollingSamples)
	}
}

func TestCheckDecayDeprecates(t *testing.T) {
	f := newPatternFixture()
	ctx := context.Background()
	tenantID := uuid.New()

	decayed := &domain.Pattern{
		TenantID: tenantID, Description: "decayed", Status: domain.PatternActive,
		TestAccuracy: 0.8, RollingAccuracy: 0.65, RollingSamples: 5,
	}
	thin := &domain.Pattern{
		TenantID: tenantID, Description: "thin", Status: domain.PatternActive,
		TestAccuracy: 0.8, RollingAccuracy: 0.2, RollingSamples: 2,
	}
	healthy := &domain.Pattern{
		TenantID: tenantID, Description: "healthy", Status: domain.PatternActive,
		TestAccuracy: 0.8, RollingAccuracy: 0.75, RollingSamples: 10,
	}
	for _, p := range []*domain.Pattern{decayed, thin, healthy} {
		if err := f.patterns.Create(ctx, p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := f.svc.CheckDecay(ctx); err != nil {
		t.Fatalf("CheckDecay: %v", err)
	}

	got, _ := f.patterns.GetByID(ctx, decayed.ID, tenantID)
	if got.Status != domain.PatternDeprecated {
		t.Errorf("decayed pattern status = %s, want %s", got.Status, domain.PatternDeprecated)
	}

	// Too few live samples: no demotion regardless of accuracy.
	got, _ = f.patterns.GetByID(ctx, thin.ID, tenantID)
	if got.Status != domain.PatternActive {
		t.Errorf("thin-sample pattern status = %s, want still active", got.Status)
	}

	got, _ = f.patterns.GetByID(ctx, healthy.ID, tenantID)
	if got.Status != domain.PatternActive {
		t.Errorf("healthy pattern status = %s, want still active", got.Status)
	}

	// Demotion queues a root-cause review at high priority.
	items := f.reviews.itemsByKind(domain.ReviewPattern)
	if len(items) != 1 {
		t.Fatalf("review items = %d, want 1", len(items))
	}
	if items[0].Priority != domain.PriorityHigh {
		t.Errorf("review priority = %s, want high", items[0].Priority)
	}
}
