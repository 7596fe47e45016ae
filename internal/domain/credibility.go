package domain

import (
	"time"

	"github.com/google/uuid"
)

// ComponentScores breaks a blended credibility score into its inputs.
type ComponentScores struct {
	Recent     float64 `json:"recent"`
	Regime     float64 `json:"regime"`
	Historical float64 `json:"historical"`
}

// CredibilityRecord is the incrementally-updated projection for one
// (participant, context) pair. Records are never deleted; LastUpdated
// versions them.
type CredibilityRecord struct {
	ParticipantID   uuid.UUID       `json:"participant_id"`
	Context         string          `json:"context"`
	Score           float64         `json:"score"`
	SampleSize      int             `json:"sample_size"`
	ComponentScores ComponentScores `json:"component_scores"`
	OverrideCount   int             `json:"override_count"`
	DecisionCount   int             `json:"decision_count"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// OverrideRate is the fraction of this participant's recommendations in
// this context that a human later reversed.
func (r CredibilityRecord) OverrideRate() float64 {
	if r.DecisionCount == 0 {
		return 0
	}
	return float64(r.OverrideCount) / float64(r.DecisionCount)
}

// OutcomeSample is one append-only accuracy observation.
type OutcomeSample struct {
	ID            uuid.UUID `json:"id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Context       string    `json:"context"`
	Regime        string    `json:"regime"`
	Accuracy      float64   `json:"accuracy"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// ScoreComponent names a blend input flagged low_confidence when it fell
// back to the overall average for lack of samples.
type ScoreComponent string

const (
	ComponentRecent     ScoreComponent = "recent"
	ComponentRegime     ScoreComponent = "regime"
	ComponentHistorical ScoreComponent = "historical"
)

// CredibilityScore is what callers get. Value is always in [0,1] and every
// read carries a confidence interval; callers must not use a score whose
// interval is wider than their usability threshold.
type CredibilityScore struct {
	Value         float64          `json:"value"`
	CILow         float64          `json:"ci_low"`
	CIHigh        float64          `json:"ci_high"`
	SampleSize    int              `json:"sample_size"`
	LowConfidence []ScoreComponent `json:"low_confidence,omitempty"`
}

// IntervalWidth is the width of the confidence interval.
func (s CredibilityScore) IntervalWidth() float64 {
	return s.CIHigh - s.CILow
}

// Usable reports whether the score is tight enough to weight a decision.
func (s CredibilityScore) Usable(maxWidth float64) bool {
	return s.SampleSize > 0 && s.IntervalWidth() <= maxWidth
}
