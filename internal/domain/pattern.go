package domain

import (
	"time"

	"github.com/google/uuid"
)

type PatternStatus string

const (
	PatternCandidate  PatternStatus = "candidate"
	PatternValidated  PatternStatus = "statistically_validated"
	PatternApproved   PatternStatus = "human_approved"
	PatternActive     PatternStatus = "active"
	PatternDeprecated PatternStatus = "deprecated"
	PatternRejected   PatternStatus = "rejected"
)

// Pattern is a learned correlation. It is created by discovery jobs as a
// candidate and mutated only by the validation gate; patterns are never
// hard-deleted, only status-flipped (audit requirement).
type Pattern struct {
	ID                 uuid.UUID     `json:"id"`
	TenantID           uuid.UUID     `json:"tenant_id,omitempty"`
	Description        string        `json:"description"`
	Status             PatternStatus `json:"status"`
	Occurrences        int           `json:"occurrences"`
	Correlation        float64       `json:"correlation"`
	TrainAccuracy      float64       `json:"train_accuracy"`
	ValidationAccuracy float64       `json:"validation_accuracy"`
	TestAccuracy       float64       `json:"test_accuracy"`
	PValue             float64       `json:"p_value"`
	ValidConditions    []string      `json:"valid_conditions,omitempty"`
	RollingAccuracy    float64       `json:"rolling_accuracy"`
	RollingSamples     int           `json:"rolling_samples"`
	Quarantined        bool          `json:"quarantined"`
	ValidatedAt        *time.Time    `json:"validated_at,omitempty"`
	EvidenceClaimIDs   []uuid.UUID   `json:"evidence_claim_ids,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Decidable reports whether the pattern may influence decisions right now.
// Only active, non-quarantined patterns qualify (fail-closed).
func (p Pattern) Decidable() bool {
	return p.Status == PatternActive && !p.Quarantined
}

// PatternOccurrence is one recorded observation of the correlation, in
// chronological order. Splits are always chronological, never random, to
// avoid lookahead leakage.
type PatternOccurrence struct {
	ID         uuid.UUID `json:"id"`
	PatternID  uuid.UUID `json:"pattern_id"`
	Predicted  float64   `json:"predicted"`
	Observed   float64   `json:"observed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PatternTransition is one append-only status-change audit entry.
type PatternTransition struct {
	ID         uuid.UUID     `json:"id"`
	PatternID  uuid.UUID     `json:"pattern_id"`
	FromStatus PatternStatus `json:"from_status"`
	ToStatus   PatternStatus `json:"to_status"`
	ActorID    *uuid.UUID    `json:"actor_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type ReviewVerdict string

const (
	VerdictApprove             ReviewVerdict = "approve"
	VerdictReject              ReviewVerdict = "reject"
	VerdictModify              ReviewVerdict = "modify"
	VerdictRequestMoreEvidence ReviewVerdict = "request_more_evidence"
)

func ValidReviewVerdict(v string) bool {
	switch ReviewVerdict(v) {
	case VerdictApprove, VerdictReject, VerdictModify, VerdictRequestMoreEvidence:
		return true
	}
	return false
}
