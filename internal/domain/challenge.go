package domain

import (
	"time"

	"github.com/google/uuid"
)

type ChallengeState string

const (
	ChallengeOpen          ChallengeState = "open"
	ChallengeNegotiating   ChallengeState = "negotiating"
	ChallengeMediating     ChallengeState = "mediating"
	ChallengeWeighing      ChallengeState = "weighing"
	ChallengeAwaitingHuman ChallengeState = "awaiting_human"
	ChallengeResolved      ChallengeState = "resolved"
	ChallengeCancelled     ChallengeState = "cancelled"
)

// Terminal reports whether the state machine has finished with this challenge.
func (s ChallengeState) Terminal() bool {
	return s == ChallengeResolved || s == ChallengeCancelled
}

type EscalationLevel string

const (
	LevelAgentNegotiation     EscalationLevel = "agent_negotiation"
	LevelFacilitatorMediation EscalationLevel = "facilitator_mediation"
	LevelCredibilityCheck     EscalationLevel = "credibility_weighted_check"
	LevelHumanArbitration     EscalationLevel = "human_arbitration"
	LevelConservativeDefault  EscalationLevel = "conservative_default"
)

type ChallengePriority string

const (
	PriorityCritical ChallengePriority = "critical"
	PriorityHigh     ChallengePriority = "high"
	PriorityMedium   ChallengePriority = "medium"
	PriorityLow      ChallengePriority = "low"
)

func ValidChallengePriority(p string) bool {
	switch ChallengePriority(p) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ArbitrationDeadline is the human-arbitration budget for this priority.
func (p ChallengePriority) ArbitrationDeadline() time.Duration {
	switch p {
	case PriorityCritical:
		return 2 * time.Hour
	case PriorityHigh:
		return 6 * time.Hour
	case PriorityMedium:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Weight orders priorities for scheduling. Higher is more urgent.
func (p ChallengePriority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.75
	case PriorityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// Transition is one immutable audit-trail entry. ExitedAt is nil while the
// level is still in progress.
type Transition struct {
	Level     EscalationLevel `json:"level"`
	EnteredAt time.Time       `json:"entered_at"`
	ExitedAt  *time.Time      `json:"exited_at,omitempty"`
	Outcome   string          `json:"outcome,omitempty"`
}

// Challenge is a formal dispute of a Claim. It is owned exclusively by the
// debate driver while live and archived read-only once terminal.
type Challenge struct {
	ID               uuid.UUID         `json:"id"`
	TenantID         uuid.UUID         `json:"tenant_id,omitempty"`
	ClaimID          uuid.UUID         `json:"claim_id"`
	ChallengerID     uuid.UUID         `json:"challenger_id"`
	ChallengedID     uuid.UUID         `json:"challenged_id"`
	Basis            string            `json:"basis"`
	RequiredEvidence []string          `json:"required_evidence,omitempty"`
	State            ChallengeState    `json:"state"`
	Level            EscalationLevel   `json:"level"`
	Priority         ChallengePriority `json:"priority"`
	Impact           float64           `json:"impact"`
	SnapshotID       *uuid.UUID        `json:"snapshot_id,omitempty"`
	DeadlineAt       time.Time         `json:"deadline_at"`
	History          []Transition      `json:"history"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ChallengePosition is a party's stance submitted during negotiation or
// mediation.
type ChallengePosition string

const (
	PositionMaintain ChallengePosition = "maintain"
	PositionConcede  ChallengePosition = "concede"
	PositionRevise   ChallengePosition = "revise"
)

func ValidChallengePosition(p string) bool {
	switch ChallengePosition(p) {
	case PositionMaintain, PositionConcede, PositionRevise:
		return true
	}
	return false
}
