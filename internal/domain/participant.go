package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantKind string

const (
	ParticipantWorker ParticipantKind = "worker"
	ParticipantHuman  ParticipantKind = "human"
)

func ValidParticipantKind(k string) bool {
	switch ParticipantKind(k) {
	case ParticipantWorker, ParticipantHuman:
		return true
	}
	return false
}

// ResponseBudget is how long a participant of this kind is given to answer
// a challenge prompt at a given escalation level. Workers and humans share
// one capability surface and differ only in timeout budgets.
func (k ParticipantKind) ResponseBudget(level EscalationLevel) time.Duration {
	switch k {
	case ParticipantHuman:
		if level == LevelHumanArbitration {
			return 2 * time.Hour
		}
		return 30 * time.Minute
	default:
		switch level {
		case LevelAgentNegotiation:
			return 15 * time.Minute
		case LevelFacilitatorMediation:
			return 30 * time.Minute
		default:
			return 5 * time.Minute
		}
	}
}

type Participant struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id,omitempty"`
	ExternalID string          `json:"external_id"`
	Name       string          `json:"name"`
	Kind       ParticipantKind `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
}
