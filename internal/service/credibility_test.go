package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/google/uuid"
)

var techBull = domain.ClaimContext{Sector: "tech", Metric: "revenue", Regime: "bull"}

type credibilityFixture struct {
	svc       *CredibilityService
	credStore *mockCredibilityStore
	tenantID  uuid.UUID
	pid       uuid.UUID
}

func newCredibilityFixture(t *testing.T) *credibilityFixture {
	t.Helper()
	credStore := newMockCredibilityStore()
	participants := newMockParticipantStore()
	f := &credibilityFixture{
		svc:       NewCredibilityService(credStore, participants, testLogger()),
		credStore: credStore,
		tenantID:  uuid.New(),
	}

	p := &domain.Participant{TenantID: f.tenantID, Name: "analyst", Kind: domain.ParticipantWorker}
	if err := participants.Create(context.Background(), p); err != nil {
		t.Fatalf("create participant: %v", err)
	}
	f.pid = p.ID
	return f
}

func (f *credibilityFixture) record(t *testing.T, cctx domain.ClaimContext, accuracy float64) {
	t.Helper()
	if err := f.svc.Record(context.Background(), f.tenantID, f.pid, cctx, accuracy); err != nil {
		t.Fatalf("Record: %v", err)
	}
}

func TestScoreNoData(t *testing.T) {
	f := newCredibilityFixture(t)

	_, err := f.svc.Score(context.Background(), f.pid, techBull)
	if !errors.Is(err, ErrNoCredibilityData) {
		t.Fatalf("Score with no samples: err = %v, want ErrNoCredibilityData", err)
	}
}

func TestRecordRejectsUnknownParticipant(t *testing.T) {
	f := newCredibilityFixture(t)

	err := f.svc.Record(context.Background(), f.tenantID, uuid.New(), techBull, 0.9)
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("Record for unknown participant: err = %v, want ErrUnknownParticipant", err)
	}

	// Tenant mismatch is just as unknown.
	err = f.svc.Record(context.Background(), uuid.New(), f.pid, techBull, 0.9)
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Fatalf("Record across tenants: err = %v, want ErrUnknownParticipant", err)
	}
}

func TestScoreUniformSamples(t *testing.T) {
	f := newCredibilityFixture(t)

	for i := 0; i < 10; i++ {
		f.record(t, techBull, 0.9)
	}

	score, err := f.svc.Score(context.Background(), f.pid, techBull)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(score.Value, 0.9, 1e-6) {
		t.Errorf("value = %v, want 0.9", score.Value)
	}
	if score.SampleSize != 10 {
		t.Errorf("sample size = %d, want 10", score.SampleSize)
	}
	if score.CILow > score.Value || score.CIHigh < score.Value {
		t.Errorf("interval [%v, %v] does not bracket value %v", score.CILow, score.CIHigh, score.Value)
	}
	if len(score.LowConfidence) != 0 {
		t.Errorf("low confidence components = %v, want none", score.LowConfidence)
	}
	if !score.Usable(MaxUsableIntervalWidth) {
		t.Errorf("score with 10 uniform samples should be usable, width = %v", score.IntervalWidth())
	}
}

func TestScoreFallsBackToOverallAverage(t *testing.T) {
	f := newCredibilityFixture(t)

	other := domain.ClaimContext{Sector: "energy", Metric: "margin", Regime: "bear"}
	for i := 0; i < 3; i++ {
		f.record(t, techBull, 0.9)
	}
	for i := 0; i < 10; i++ {
		f.record(t, other, 0.5)
	}

	score, err := f.svc.Score(context.Background(), f.pid, techBull)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// All three components are starved in this context, so the blend
	// collapses to the overall participant average.
	overall := (3*0.9 + 10*0.5) / 13
	if !almostEqual(score.Value, overall, 1e-6) {
		t.Errorf("value = %v, want overall average %v", score.Value, overall)
	}
	if len(score.LowConfidence) != 3 {
		t.Errorf("low confidence components = %v, want all three", score.LowConfidence)
	}
	if score.SampleSize != 3 {
		t.Errorf("sample size = %d, want 3", score.SampleSize)
	}
	if score.Usable(MaxUsableIntervalWidth) {
		t.Errorf("score from 3 samples should not be usable, width = %v", score.IntervalWidth())
	}
}

func TestScoreRecentWindowExcludesStaleSamples(t *testing.T) {
	f := newCredibilityFixture(t)
	ctx := context.Background()

	// Well-sampled context, but everything predates the 30-day window.
	stale := time.Now().Add(-45 * 24 * time.Hour)
	for i := 0; i < 6; i++ {
		sample := &domain.OutcomeSample{
			ParticipantID: f.pid,
			Context:       techBull.Key(),
			Regime:        techBull.Regime,
			Accuracy:      0.8,
			RecordedAt:    stale,
		}
		if err := f.credStore.AppendSample(ctx, sample); err != nil {
			t.Fatalf("AppendSample: %v", err)
		}
	}

	score, err := f.svc.Score(ctx, f.pid, techBull)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	// Only the recency component is starved; regime and history still see
	// all six samples.
	if len(score.LowConfidence) != 1 || score.LowConfidence[0] != domain.ComponentRecent {
		t.Errorf("low confidence components = %v, want only the recent component", score.LowConfidence)
	}
	if !almostEqual(score.Value, 0.8, 1e-6) {
		t.Errorf("value = %v, want 0.8", score.Value)
	}
}

func TestScoreOverridePenalty(t *testing.T) {
	f := newCredibilityFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f.record(t, techBull, 0.8)
	}

	base, err := f.svc.Score(ctx, f.pid, techBull)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(base.Value, 0.8, 1e-6) {
		t.Fatalf("base value = %v, want 0.8", base.Value)
	}

	// 2 of 5 decisions overridden: rate 0.4 crosses the threshold.
	for _, overridden := range []bool{true, true, false, false, false} {
		if err := f.svc.RecordOverride(ctx, f.pid, techBull, overridden); err != nil {
			t.Fatalf("RecordOverride: %v", err)
		}
	}

	penalized, err := f.svc.Score(ctx, f.pid, techBull)
	if err != nil {
		t.Fatalf("Score after overrides: %v", err)
	}
	if !almostEqual(penalized.Value, 0.8*0.8, 1e-6) {
		t.Errorf("penalized value = %v, want %v", penalized.Value, 0.8*0.8)
	}
}

func TestScoreOverrideBelowThresholdUnpenalized(t *testing.T) {
	f := newCredibilityFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		f.record(t, techBull, 0.8)
	}

	// 1 of 5: rate 0.2 stays under the threshold.
	for _, overridden := range []bool{true, false, false, false, false} {
		if err := f.svc.RecordOverride(ctx, f.pid, techBull, overridden); err != nil {
			t.Fatalf("RecordOverride: %v", err)
		}
	}

	score, err := f.svc.Score(ctx, f.pid, techBull)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !almostEqual(score.Value, 0.8, 1e-6) {
		t.Errorf("value = %v, want 0.8 unpenalized", score.Value)
	}
}

func TestTrendExtrapolation(t *testing.T) {
	f := newCredibilityFixture(t)
	now := time.Now()
	key := techBull.Key()

	// Accuracy climbing 0.05/day over six days: strong slope, perfect fit.
	var samples []domain.OutcomeSample
	for daysAgo := 5; daysAgo >= 0; daysAgo-- {
		samples = append(samples, domain.OutcomeSample{
			ParticipantID: f.pid,
			Context:       key,
			Regime:        techBull.Regime,
			Accuracy:      0.75 - 0.05*float64(daysAgo),
			RecordedAt:    now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		})
	}

	value, weight, ok := f.svc.trend(samples, key, now)
	if !ok {
		t.Fatal("trend not detected on a steep, clean series")
	}
	// Extrapolating 7 days ahead overshoots 1 and clamps.
	if !almostEqual(value, 1, 1e-6) {
		t.Errorf("extrapolated value = %v, want 1", value)
	}
	if weight < 0.29 || weight > trendMaxWeight+1e-9 {
		t.Errorf("trend weight = %v, want ~%v", weight, trendMaxWeight)
	}
}

func TestTrendIgnoresFlatSeries(t *testing.T) {
	f := newCredibilityFixture(t)
	now := time.Now()
	key := techBull.Key()

	var samples []domain.OutcomeSample
	for daysAgo := 5; daysAgo >= 0; daysAgo-- {
		samples = append(samples, domain.OutcomeSample{
			ParticipantID: f.pid,
			Context:       key,
			Regime:        techBull.Regime,
			Accuracy:      0.7,
			RecordedAt:    now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		})
	}

	if _, _, ok := f.svc.trend(samples, key, now); ok {
		t.Error("trend detected on a flat series")
	}
}
