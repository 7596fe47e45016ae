package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReviewKind string

const (
	ReviewChallenge      ReviewKind = "challenge"
	ReviewPattern        ReviewKind = "pattern"
	ReviewMemoryConflict ReviewKind = "memory_conflict"
	ReviewProvisional    ReviewKind = "provisional_resolution"
)

type ReviewItemState string

const (
	ReviewPending  ReviewItemState = "pending"
	ReviewAssigned ReviewItemState = "assigned"
	ReviewDecided  ReviewItemState = "decided"
	ReviewBumped   ReviewItemState = "bumped"
)

// ReviewItem is one unit of work for a human reviewer. Items are persisted
// for audit and mirrored in the scheduler's in-memory queue.
type ReviewItem struct {
	ID          uuid.UUID         `json:"id"`
	TenantID    uuid.UUID         `json:"tenant_id,omitempty"`
	Kind        ReviewKind        `json:"kind"`
	RefID       uuid.UUID         `json:"ref_id"`
	Priority    ChallengePriority `json:"priority"`
	Impact      float64           `json:"impact"`
	Uncertainty float64           `json:"uncertainty"`
	Deadline    time.Time         `json:"deadline"`
	State       ReviewItemState   `json:"state"`
	ReviewerID  *uuid.UUID        `json:"reviewer_id,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
}

// ReviewDecision is a human ruling on a queued item.
type ReviewDecision struct {
	ItemID     uuid.UUID     `json:"item_id"`
	ReviewerID uuid.UUID     `json:"reviewer_id"`
	Verdict    ReviewVerdict `json:"verdict"`
	WinnerID   *uuid.UUID    `json:"winner_id,omitempty"`
	Note       string        `json:"note,omitempty"`
	DecidedAt  time.Time     `json:"decided_at"`
}
