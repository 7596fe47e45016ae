package domain

import (
	"time"

	"github.com/google/uuid"
)

type ResolutionOutcome string

const (
	OutcomeClaimUpheld     ResolutionOutcome = "claim_upheld"
	OutcomeClaimOverturned ResolutionOutcome = "claim_overturned"
	OutcomeClaimRevised    ResolutionOutcome = "claim_revised"
	OutcomeWithdrawn       ResolutionOutcome = "withdrawn"
)

// Resolution is the terminal record of a Challenge. A provisional
// resolution may later be superseded by a human override; supersession is
// a link to a new row, never a mutation of this one.
type Resolution struct {
	ID              uuid.UUID         `json:"id"`
	ChallengeID     uuid.UUID         `json:"challenge_id"`
	Outcome         ResolutionOutcome `json:"outcome"`
	WinnerID        *uuid.UUID        `json:"winner_id,omitempty"`
	ResolvedAtLevel string            `json:"resolved_at_level"`
	ResolvedBy      *uuid.UUID        `json:"resolved_by,omitempty"`
	IsProvisional   bool              `json:"is_provisional"`
	SupersededBy    *uuid.UUID        `json:"superseded_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ResolvedAtCredibilityAuto tags resolutions produced by the
// credibility-weighted check without human involvement.
const ResolvedAtCredibilityAuto = "credibility_auto"

// RecomputeTask is emitted when an override's delta from the provisional
// value is material enough that downstream computations must be redone.
type RecomputeTask struct {
	ID          uuid.UUID `json:"id"`
	ChallengeID uuid.UUID `json:"challenge_id"`
	Reason      string    `json:"reason"`
	Delta       float64   `json:"delta"`
	CreatedAt   time.Time `json:"created_at"`
}
